package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned when no OAuth token is stored yet. The
	// consent flow at /auth/google must be completed first.
	ErrNotAuthorized = errors.New("no Google Calendar authorization: complete the consent flow first")

	// ErrWriteFailed is returned when the Calendar API rejects an insert.
	ErrWriteFailed = errors.New("calendar event creation failed")

	// ErrArrangedSection is returned when an event is requested for a
	// section without fixed meeting days.
	ErrArrangedSection = errors.New("section has arranged meeting times, no recurrence can be derived")

	// ErrInvalidSection is returned when a section's times cannot form an event.
	ErrInvalidSection = errors.New("section has invalid meeting times")
)

// WriteError wraps calendar failures with operation context.
type WriteError struct {
	Op      string
	Err     error
	Details string
}

func (e *WriteError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("calendar: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("calendar: %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapWriteError wraps an error as a WriteError if it isn't already one.
func WrapWriteError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Op: op, Err: err, Details: details}
}
