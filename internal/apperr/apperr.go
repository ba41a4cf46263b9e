// Package apperr classifies errors into the small set of kinds the pipelines
// and the HTTP surface agree on. Recoverable conditions stay result values;
// only Fatal aborts a run.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names one error class. The zero value means unclassified.
type Kind string

const (
	KindInput     Kind = "input"     // bad request; no retry
	KindAuth      Kind = "auth"      // invalid credential; halts indexing
	KindTransient Kind = "transient" // 5xx/429/timeout; retried with backoff
	KindParse     Kind = "parse"     // malformed provider output; local recovery
	KindPartial   Kind = "partial"   // one analysis pass failed; image still served
	KindFatal     Kind = "fatal"     // schema/dimension mismatch; process exits
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context to err. Wrapping nil returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain. Unclassified
// errors report an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInput reports whether err is an input error.
func IsInput(err error) bool { return KindOf(err) == KindInput }

// IsAuth reports whether err is an auth error.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsTransient reports whether err is a transient upstream error.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsParse reports whether err is a provider parse error.
func IsParse(err error) bool { return KindOf(err) == KindParse }

// IsFatal reports whether err must abort the process.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
