package handoff

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/browser"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

const (
	KindBrowser  = "browser"
	KindHeadless = "headless"
)

func init() {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// Browser asks the operating system to open composed-message URIs.
type Browser struct {
	open   func(string) error
	logger *slog.Logger
}

var _ ports.HandoffSurface = (*Browser)(nil)

// NewBrowser wires the OS opener.
func NewBrowser(logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Browser{open: browser.OpenURL, logger: logger}
}

// Attempt reports Blocked when the opener fails.
func (b *Browser) Attempt(ctx context.Context, uri string) domain.Outcome {
	if err := ctx.Err(); err != nil {
		return domain.OutcomeBlocked
	}
	if err := b.open(uri); err != nil {
		b.logger.Warn("hand-off blocked", "scheme", scheme(uri), "error", err)
		return domain.OutcomeBlocked
	}
	return domain.OutcomeOpened
}

// Headless never opens anything; every hand-off becomes a pending action.
type Headless struct{}

var _ ports.HandoffSurface = Headless{}

// Attempt always reports Blocked.
func (Headless) Attempt(context.Context, string) domain.Outcome {
	return domain.OutcomeBlocked
}

// New selects a surface by kind.
func New(kind string, logger *slog.Logger) (ports.HandoffSurface, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindBrowser:
		return NewBrowser(logger), nil
	case "", KindHeadless:
		return Headless{}, nil
	default:
		return nil, fmt.Errorf("unknown hand-off surface %q", kind)
	}
}

func scheme(uri string) string {
	if i := strings.Index(uri, ":"); i > 0 {
		return uri[:i]
	}
	return ""
}
