// Package faults defines the error taxonomy shared by every phasegrid
// component. Kinds are sentinel errors so callers can classify with errors.Is
// regardless of how deeply a failure was wrapped.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrFatalPreflight marks a missing or invalid required input. The run
	// aborts before any task is scheduled.
	ErrFatalPreflight = errors.New("fatal pre-flight error")
	// ErrMalformedChunkFile marks a chunk definition that cannot be parsed or
	// that contains overlapping regions.
	ErrMalformedChunkFile = errors.New("malformed chunk file")
	// ErrEmptyChunkSet marks a chunk file that yields no chunks.
	ErrEmptyChunkSet = errors.New("empty chunk set")
	// ErrCyclicGraph marks a task graph that is not acyclic.
	ErrCyclicGraph = errors.New("cyclic task graph")
	// ErrTransientTool marks a tool failure that may succeed when retried.
	ErrTransientTool = errors.New("transient tool failure")
	// ErrPermanentTool marks a tool failure that will not be retried.
	ErrPermanentTool = errors.New("permanent tool failure")
)

// Error attaches a kind and a message to an optional underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an error of the given kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsFatal reports whether err must abort the whole run before scheduling.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalPreflight) ||
		errors.Is(err, ErrMalformedChunkFile) ||
		errors.Is(err, ErrEmptyChunkSet) ||
		errors.Is(err, ErrCyclicGraph)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientTool)
}
