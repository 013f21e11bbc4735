// Package contracts contains pure functions for rendering contract-deployment
// inputs and parsing tool output back into addresses and block numbers. All
// output scraping lives here so the fragile text formats can be swapped
// without touching pipeline control flow.
package contracts

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrInvalidManifest = errors.New("invalid deployment manifest")
	ErrMissingField    = errors.New("deployment manifest field missing")
	ErrMarkerNotFound  = errors.New("expected output marker not found")
)

// ScrapeError wraps parse failures with the marker or field being searched.
type ScrapeError struct {
	Source  string // "manifest" or "stdout"
	Want    string // JSON field or text marker searched for
	Message string
	Err     error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("parse %s for %q: %s", e.Source, e.Want, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(source, want, message string, err error) *ScrapeError {
	return &ScrapeError{
		Source:  source,
		Want:    want,
		Message: message,
		Err:     err,
	}
}
