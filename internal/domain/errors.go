package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRunInFlight    = errors.New("a run is already in progress")
	ErrNoReport       = errors.New("no report available")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrInvalidConfig  = errors.New("invalid automation config")
	ErrNoConfig       = errors.New("automation is not configured")
)

// ConfigParseError marks a stored record that could not be decoded.
type ConfigParseError struct {
	Record string
	Err    error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("parse record %s: %v", e.Record, e.Err)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// AcquisitionError is returned when the search backend could not produce a
// report.
type AcquisitionError struct {
	Cause error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire report: %v", e.Cause)
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }

// DraftingError is returned when the backend could not produce an email draft.
type DraftingError struct {
	Cause error
}

func (e *DraftingError) Error() string {
	return fmt.Sprintf("draft email: %v", e.Cause)
}

func (e *DraftingError) Unwrap() error { return e.Cause }

// UserMessage converts an error into text safe to show to the end user. Raw
// backend payloads never leave this function.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		acq   *AcquisitionError
		draft *DraftingError
	)
	switch {
	case errors.As(err, &acq):
		return "Failed to fetch news. Please check your API key in settings."
	case errors.As(err, &draft):
		return "Failed to generate email draft."
	case errors.Is(err, ErrRunInFlight):
		return "A run is already in progress."
	case errors.Is(err, ErrNoReport):
		return "No report is available yet. Run a search first."
	case errors.Is(err, ErrUnknownChannel):
		return "Unknown delivery channel."
	case errors.Is(err, ErrNoConfig):
		return "Automation is not configured yet."
	case errors.Is(err, ErrInvalidConfig):
		return err.Error()
	default:
		return "An unexpected error occurred."
	}
}
