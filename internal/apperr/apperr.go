// Package apperr holds the error kinds shared by the checkout pipeline.
// Callers match with errors.Is against the Err* sentinels; the HTTP layer
// reads Kind and Message and nothing else.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidAmount      Kind = "InvalidAmount"
	KindEmptyCart          Kind = "EmptyCart"
	KindGatewayUnavailable Kind = "GatewayUnavailable"
	KindGatewayRejected    Kind = "GatewayRejected"
	KindInvalidSignature   Kind = "InvalidSignature"
	KindMissingFields      Kind = "MissingFields"
	KindOrderNotFound      Kind = "OrderNotFound"
	KindInvalidTransition  Kind = "InvalidTransition"
	KindSweepInProgress    Kind = "SweepInProgress"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports a match on kind, so a specific error satisfies errors.Is
// against the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidAmount      = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrEmptyCart          = &Error{Kind: KindEmptyCart, Message: "cart has no payable items"}
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable, Message: "payment gateway unavailable"}
	ErrGatewayRejected    = &Error{Kind: KindGatewayRejected, Message: "payment gateway rejected the request"}
	ErrInvalidSignature   = &Error{Kind: KindInvalidSignature, Message: "invalid payment signature"}
	ErrMissingFields      = &Error{Kind: KindMissingFields, Message: "missing required fields"}
	ErrOrderNotFound      = &Error{Kind: KindOrderNotFound, Message: "order not found"}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition, Message: "invalid order status transition"}
	ErrSweepInProgress    = &Error{Kind: KindSweepInProgress, Message: "reconciliation already running"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause. The cause shows up in logs through
// Error() but is never part of Message.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// From returns the first *Error in err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return ""
}
