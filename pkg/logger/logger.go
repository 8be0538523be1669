package logger

import (
	"log"
	"log/slog"
)

// New returns a stdlib *log.Logger that writes into base at error level,
// tagged with component. Used where libraries only accept *log.Logger, such
// as http.Server.ErrorLog.
func New(base *slog.Logger, component string) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelError)
}
