// Package errors carries the error taxonomy of the liquidity core. Every
// user-facing rejection is classified by Kind so the transport layer can
// map it to a short reason string without inspecting error text.
package errors

import (
	"errors"
	"fmt"
)

// Standard library passthrough.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
	New    = errors.New
)

// Kind classifies an error for routing and user messaging.
type Kind string

const (
	// KindValidation: malformed input (bad side, non-numeric price,
	// both-or-neither size params). Never retried.
	KindValidation Kind = "validation"
	// KindAuthorization: self-trade or wrong signer. Never retried.
	KindAuthorization Kind = "authorization"
	// KindConflict: order no longer open, auction already resolved, maker
	// locked. Recovered locally where the caller can cascade.
	KindConflict Kind = "conflict"
	// KindLiquidity: insufficient visible depth for the requested size.
	KindLiquidity Kind = "liquidity"
	// KindInternal: non-finite derived price or malformed store state.
	KindInternal Kind = "internal"
	// KindTransient: store or DB connectivity failure.
	KindTransient Kind = "transient"
)

// Error is a Kind-classified error with an operator-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two classified errors by Kind, so callers can test against
// the kind sentinels below without caring about the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == ""
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrLiquidity     = &Error{Kind: KindLiquidity}
	ErrInternal      = &Error{Kind: KindInternal}
	ErrTransient     = &Error{Kind: KindTransient}
)

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Liquidity(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLiquidity, Message: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a connectivity failure from the shared store or DB.
func Transient(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of a classified error, or "" for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Reason returns a short user-visible reason string for an error. Plain
// errors collapse to a generic failure so internals never leak.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
