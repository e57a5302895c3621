package reactive

import (
	"errors"
	"fmt"

	"github.com/roach88/limn/internal/async"
)

// NotReadyError signals that a read touched an asynchronous value that has
// not settled yet. It carries the gating future so callers (Loading
// boundaries, template resolvers) can wait for it and retry the read.
//
// NotReadyError is control flow, not failure: rejected futures surface the
// rejection itself, never a NotReadyError.
type NotReadyError struct {
	// Source is the future whose settlement unblocks the read.
	Source async.AnyFuture
}

func (e *NotReadyError) Error() string {
	return "reactive: value not ready"
}

// NotReady wraps a pending future in a NotReadyError.
func NotReady(source async.AnyFuture) *NotReadyError {
	return &NotReadyError{Source: source}
}

// AsNotReady extracts a NotReadyError from an error chain.
func AsNotReady(err error) (*NotReadyError, bool) {
	var nr *NotReadyError
	if errors.As(err, &nr) {
		return nr, true
	}
	return nil, false
}

// IsNotReady reports whether err is (or wraps) a NotReadyError.
func IsNotReady(err error) bool {
	_, ok := AsNotReady(err)
	return ok
}

// NoOwnerError is returned when an operation that requires an owner scope
// (cleanup registration, child id allocation) runs outside one.
type NoOwnerError struct {
	// Op names the operation that needed an owner.
	Op string
}

func (e *NoOwnerError) Error() string {
	return fmt.Sprintf("reactive: %s called without an owner", e.Op)
}

// ContextNotFoundError is returned by UseContext when no ancestor owner
// provides the requested context and the context has no default.
type ContextNotFoundError struct {
	// Name is the context's debug name.
	Name string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("reactive: context %q not found in owner chain", e.Name)
}

// IsContextNotFound reports whether err is a ContextNotFoundError.
func IsContextNotFound(err error) bool {
	var cnf *ContextNotFoundError
	return errors.As(err, &cnf)
}
