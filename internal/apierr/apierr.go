// Package apierr classifies errors into the kinds the broker's
// propagation policy branches on: validation and authorization errors
// surface to RPC callers verbatim, transient errors are logged and
// retried on the next tick (they are not recorded as deal events),
// terminal errors surface as both deal events and queue lastError, and
// invariant violations halt the affected deal.
//
// This mirrors the sentinel-error style internal/swap/coordinator_types.go
// uses (ErrSwapNotFound, ErrNoWallet, ...) but adds a Kind so callers
// can branch on category rather than on identity.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	// KindValidation: bad asset, bad address, invalid amount. Rejected
	// at the boundary; never mutates state.
	KindValidation Kind = iota
	// KindAuthorization: bad or used token. Rejected; deal unchanged.
	KindAuthorization
	// KindPrecondition: locked details, terminal stage, deposits
	// present on cancel. Rejected.
	KindPrecondition
	// KindTransient: network, rate-limit. Logged, retried next tick,
	// no state change, invisible to the RPC caller.
	KindTransient
	// KindTerminal: permanent submit rejection past maxAttempts. Queue
	// item moves to FAILED; deal follows the REVERTED path.
	KindTerminal
	// KindInvariant: store corruption or invariant violation. Fatal;
	// the engine halts the affected deal and requires operator
	// intervention.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, the unit the rest of
// the broker passes around instead of bare errors.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newKind(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return newKind(KindValidation, format, args...)
}

// Authorization builds a KindAuthorization error.
func Authorization(format string, args ...interface{}) *Error {
	return newKind(KindAuthorization, format, args...)
}

// Precondition builds a KindPrecondition error.
func Precondition(format string, args ...interface{}) *Error {
	return newKind(KindPrecondition, format, args...)
}

// Transient wraps cause as a KindTransient error.
func Transient(cause error, format string, args ...interface{}) *Error {
	e := newKind(KindTransient, format, args...)
	e.Cause = cause
	return e
}

// Terminal wraps cause as a KindTerminal error.
func Terminal(cause error, format string, args ...interface{}) *Error {
	e := newKind(KindTerminal, format, args...)
	e.Cause = cause
	return e
}

// Invariant wraps cause as a KindInvariant error.
func Invariant(cause error, format string, args ...interface{}) *Error {
	e := newKind(KindInvariant, format, args...)
	e.Cause = cause
	return e
}

// As extracts an *Error from err via errors.As, reporting whether one
// was found.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, otherwise KindInvariant — an un-classified error is treated
// as the most severe kind rather than silently retried forever.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInvariant
}

// RPCCode is the JSON-RPC error code every apierr.Error maps to; the
// spec (§6.1) specifies a single code for all broker errors and relies
// on the message for detail.
const RPCCode = -32603
