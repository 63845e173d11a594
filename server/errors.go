package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

// CommandError is a command-level failure replied to the client as
// "-{Kind} {Message}"
type CommandError struct {
	Kind    string
	Message string
}

func (e *CommandError) Error() string {
	return e.Kind + " " + e.Message
}

func errorf(format string, args ...any) *CommandError {
	return &CommandError{Kind: "ERR", Message: fmt.Sprintf(format, args...)}
}

var (
	errSyntax        = errorf("syntax error")
	errNotInteger    = errorf("value is not an integer or out of range")
	errInvalidStream = errorf("Invalid stream ID specified as stream command argument")
)

func errWrongArgs(name string) *CommandError {
	return errorf("wrong number of arguments for '%s' command", strings.ToLower(name))
}

// commandError maps an error returned while executing name to the error
// reply sent to the client. ok is false for errors that must close the
// connection.
func commandError(name string, err error) (reply *CommandError, ok bool) {
	var (
		cmdErr   *CommandError
		orderErr *stream.OrderError
	)

	switch {
	case errors.As(err, &cmdErr):
		return cmdErr, true
	case errors.Is(err, storage.ErrWrongType):
		return &CommandError{
			Kind:    "WRONGTYPE",
			Message: "Operation against a key holding the wrong kind of value",
		}, true
	case errors.Is(err, stream.ErrZeroID):
		return errorf("The ID specified in %s must be greater than 0-0", name), true
	case errors.As(err, &orderErr):
		return errorf("The ID specified in %s is equal or smaller than the target stream top item", name), true
	case stream.IsParseError(err):
		return errInvalidStream, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, false
	default:
		return errorf("%v", err), true
	}
}

// ErrorChain renders err and each wrapped cause on its own line:
//
//	reading command
//	Caused by:
//	    0: unexpected EOF
func ErrorChain(err error) string {
	if err == nil {
		return ""
	}

	var levels []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if next := errors.Unwrap(e); next != nil {
			msg = strings.TrimSuffix(msg, ": "+next.Error())
		}
		levels = append(levels, msg)
	}

	var b strings.Builder
	b.WriteString(levels[0])
	if len(levels) > 1 {
		b.WriteString("\nCaused by:")
		for i, level := range levels[1:] {
			fmt.Fprintf(&b, "\n    %d: %s", i, level)
		}
	}
	return b.String()
}
