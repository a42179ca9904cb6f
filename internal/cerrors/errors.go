// Package cerrors defines the distinguished error kinds raised by the
// cache core (spec §7) and wraps them with github.com/samsarahq/go/oops
// for stack-trace context, the way the teacher wraps errors throughout
// federation/planner.go and batch/batchcache.go.
package cerrors

import (
	"errors"

	"github.com/samsarahq/go/oops"
)

// Kind distinguishes the core's error kinds. Kinds are not Go types so
// that callers can errors.As a single *Error and switch on Kind.
type Kind string

const (
	MalformedDocument   Kind = "malformed_document"
	UnknownFragmentName Kind = "unknown_fragment_name"
	InvalidPage         Kind = "invalid_page"
	CacheMiss           Kind = "cache_miss"
)

// Error wraps an oops-annotated error with its distinguishing Kind.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// New builds a new Kind-tagged error.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: oops.Errorf(format, args...)}
}

// Wrap annotates an existing error with a Kind and additional context.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: oops.Wrapf(err, format, args...)}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
