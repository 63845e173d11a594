package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic is returned when the snapshot does not start with "REDIS"
	ErrInvalidMagic = errors.New("invalid RDB magic")

	// ErrCorruptSnapshot is returned for structurally invalid snapshot data
	ErrCorruptSnapshot = errors.New("corrupt RDB snapshot")

	// ErrUnexpectedReply is returned when the primary answers a handshake
	// step with something other than the expected reply
	ErrUnexpectedReply = errors.New("unexpected reply from primary")
)

// ChecksumError is returned when the CRC64 trailer does not match the content
type ChecksumError struct {
	Expected uint64
	Actual   uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("RDB checksum mismatch: trailer %016x, computed %016x", e.Expected, e.Actual)
}

// UnsupportedTypeError is returned for value types the parser cannot skip
type UnsupportedTypeError struct {
	Type byte
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported RDB value type %d", e.Type)
}

// PrimaryError carries an error reply sent by the primary
type PrimaryError struct {
	Message string
}

func (e *PrimaryError) Error() string {
	return "primary replied with error: " + e.Message
}

// HandshakeError records which handshake step failed
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
