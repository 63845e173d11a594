package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in RESP string")

	// ErrInvalidCommand is returned by ParseCommand for values that are not commands
	ErrInvalidCommand = errors.New("invalid command")
)

// TerminatorError is returned when a line is not terminated by CRLF.
// First and Second are the two bytes observed where "\r\n" was expected.
type TerminatorError struct {
	First  byte
	Second byte
}

func (e *TerminatorError) Error() string {
	return fmt.Sprintf("expected CRLF terminator, got %q %q", e.First, e.Second)
}

// UnknownTypeError is returned when a value starts with an unsupported type byte
type UnknownTypeError struct {
	Byte byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown RESP type byte %q (0x%02x)", e.Byte, e.Byte)
}

// LengthError is returned when a bulk string or array length cannot be used
type LengthError struct {
	Line string
	Err  error
}

func (e *LengthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid RESP length %q: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("invalid RESP length %q", e.Line)
}

func (e *LengthError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a malformed-input error as opposed
// to an I/O failure of the underlying stream.
func IsDecodeError(err error) bool {
	var (
		termErr    *TerminatorError
		unknownErr *UnknownTypeError
		lengthErr  *LengthError
	)
	return errors.As(err, &termErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &lengthErr) ||
		errors.Is(err, ErrInvalidUTF8)
}
