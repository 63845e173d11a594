package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSeparator is returned when an entry ID has no '-'
	ErrMissingSeparator = errors.New("entry ID is missing the '-' separator")

	// ErrTooManySeparators is returned when an entry ID has more than one '-'
	ErrTooManySeparators = errors.New("entry ID has more than one '-' separator")

	// ErrZeroID is returned when inserting the ID 0-0
	ErrZeroID = errors.New("entry ID must be greater than 0-0")
)

// NotANumberError is returned when a component of an entry ID is not an
// unsigned 64-bit integer
type NotANumberError struct {
	Text string
	Err  error
}

func (e *NotANumberError) Error() string {
	return fmt.Sprintf("entry ID component %q is not a number: %v", e.Text, e.Err)
}

func (e *NotANumberError) Unwrap() error {
	return e.Err
}

// OrderError is returned when an insert would not be strictly greater
// than the current top item
type OrderError struct {
	Top EntryID
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("entry ID is equal or smaller than the stream top item %s", e.Top)
}

// IsParseError reports whether err was produced while parsing an entry ID
func IsParseError(err error) bool {
	var nan *NotANumberError
	return errors.Is(err, ErrMissingSeparator) ||
		errors.Is(err, ErrTooManySeparators) ||
		errors.As(err, &nan)
}
