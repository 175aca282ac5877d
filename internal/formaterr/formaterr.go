// Package formaterr defines the error taxonomy of spec §7: a small set of
// machine-checkable kinds, each carrying a short machine code and a
// human-readable message, following the teacher's own
// cmd/aleutian/command_error.go pattern of a typed error wrapping a code.
package formaterr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated in spec §7.
type Kind string

const (
	KindBadPath           Kind = "bad_path"
	KindNotFound          Kind = "not_found"
	KindSessionClosed     Kind = "session_closed"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindParseUnrecoverable Kind = "parse_unrecoverable"
	KindSubscriberOverflow Kind = "subscriber_overflow"
	KindCancelled         Kind = "cancelled"
	KindInternal          Kind = "internal"
)

// Error is the concrete error type returned across the core's public
// surface. Path is populated where relevant so downstream consumers can
// scope their recovery (spec §7, "User-visible failure").
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, formaterr.ErrSessionClosed) style checks by
// comparing Kind rather than identity, since each call site constructs
// its own *Error value.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, chaining cause via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithPath returns a copy of e with Path set, for call sites that learn
// the path after constructing the base error.
func (e *Error) WithPath(p string) *Error {
	cp := *e
	cp.Path = p
	return &cp
}

// Sentinels usable with errors.Is for callers that don't need the message
// or path, only the kind.
var (
	ErrSessionClosed     = &Error{Kind: KindSessionClosed}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrBadPath           = &Error{Kind: KindBadPath}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrSubscriberOverflow = &Error{Kind: KindSubscriberOverflow}
	ErrInternal          = &Error{Kind: KindInternal}
)
