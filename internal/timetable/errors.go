package timetable

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSections is returned when no sections could be derived from the
	// text, either because no CRNs were found or none resolved.
	ErrNoSections = errors.New("no course sections found in timetable text")

	// ErrSectionNotFound is returned when the registry has no row for a CRN.
	ErrSectionNotFound = errors.New("section not found in timetable registry")

	// ErrRegistryUnavailable is returned when the timetable service cannot
	// be reached or returns an unexpected page.
	ErrRegistryUnavailable = errors.New("timetable registry unavailable")
)

// ParseError wraps parsing failures with the operation and input context.
type ParseError struct {
	Op      string
	Err     error
	Details string
}

func (e *ParseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("timetable: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("timetable: %s failed: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapParseError wraps an error as a ParseError if it isn't already one.
func WrapParseError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Op: op, Err: err, Details: details}
}
