package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure semantically. Callers branch on kinds, never on
// message text.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindUnreachable        Kind = "unreachable"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindNoApplicableAction Kind = "no_applicable_action"
	KindPreconditionUnmet  Kind = "precondition_unmet_at_execution"
	KindRemoteUnavailable  Kind = "remote_unavailable"
	KindConflict           Kind = "conflict"
	KindDuplicate          Kind = "duplicate"
	KindExhaustedRetries   Kind = "exhausted_retries"
	KindCorruptState       Kind = "corrupt_state"
	KindNotFound           Kind = "not_found"
)

// Error is a typed failure with a discriminated kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match two typed errors by kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// NewError builds a typed failure.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from any error in the chain, or "" if untyped.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
