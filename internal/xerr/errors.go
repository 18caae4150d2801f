// SPDX-License-Identifier: MIT

// Package xerr defines the typed error taxonomy shared by processors, the
// dispatcher and the ingest surface. Retryability is a property of the error
// class, never of the call site.
package xerr

import (
	"errors"
	"fmt"
)

// Class partitions failures by how the dispatcher and API must react to them.
type Class string

const (
	// Validation covers rejected configs, incompatible or missing inputs and
	// parse failures. Non-retryable, surfaced to the user.
	Validation Class = "validation"
	// NotFound covers references to ids that do not exist or are soft-deleted.
	NotFound Class = "not_found"
	// Authorization covers owner mismatches.
	Authorization Class = "authorization"
	// Processing covers non-zero exits of the external tool. The same inputs
	// will fail again, so this is non-retryable.
	Processing Class = "processing"
	// Timeout covers exceeded wall-clock limits. Non-retryable.
	Timeout Class = "timeout"
	// Transient covers store 5xx, broker disconnects and cache outages.
	// The only retryable class.
	Transient Class = "transient"
	// Cancelled marks cooperative cancellation. Terminal as CANCELLED.
	Cancelled Class = "cancelled"
	// Internal is the fallback for everything unclassified. Non-retryable.
	Internal Class = "internal"
)

// Error carries a class, a user-visible message and an optional cause.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classed error without a cause.
func New(class Class, msg string) *Error {
	return &Error{Class: class, Msg: msg}
}

// Newf constructs a classed error with a formatted message.
func Newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a class and message to an existing error. A nil cause yields nil.
func Wrap(class Class, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Msg: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(class Class, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ClassOf reports the class of err, or Internal when err carries none.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return Internal
}

// Is reports whether err carries the given class.
func Is(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}

// IsRetryable reports whether the dispatcher may re-enqueue after err.
// Only Transient qualifies.
func IsRetryable(err error) bool {
	return Is(err, Transient)
}

// Message returns the user-visible message of err. Causes are included only
// for classed errors, whose construction sites are trusted to keep secrets
// and stack detail out of the message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
