package shared

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of failure classes produced at the store and gateway
// boundaries. Downstream logic switches on the kind, never on error strings.
type Kind int

const (
	// KindUnexpected covers anything a boundary did not classify.
	KindUnexpected Kind = iota
	// KindConflict is a uniqueness violation. Never retried.
	KindConflict
	// KindTransient covers connection drops and timeouts. Retried with backoff.
	KindTransient
	// KindUnavailable means the remote service reported itself down. Retried.
	KindUnavailable
	// KindRateLimited means the remote service throttled the call. Retried,
	// honouring a server-suggested wait when present.
	KindRateLimited
	// KindCapabilityMissing means a required permission is absent. Never retried.
	KindCapabilityMissing
	// KindStaleReference means the remote no longer knows the referenced
	// interaction or entity. Never retried.
	KindStaleReference
	// KindNotFound means a tenant, member or destination is absent.
	KindNotFound
)

// String returns a stable label for logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindCapabilityMissing:
		return "capability_missing"
	case KindStaleReference:
		return "stale_reference"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

// Error carries a classified failure across layer boundaries.
type Error struct {
	Kind Kind
	// Op names the failed operation, e.g. "attendance: close session".
	Op string
	// RetryAfter is a server-suggested wait, zero when none was given.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify extracts the kind from an error chain. Unclassified errors are
// KindUnexpected.
func Classify(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnexpected
}

// RetryAfterHint returns the server-suggested wait buried in the chain, or zero.
func RetryAfterHint(err error) time.Duration {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// Retryable reports whether the kind is worth another attempt.
func Retryable(k Kind) bool {
	switch k {
	case KindTransient, KindUnavailable, KindRateLimited, KindUnexpected:
		return true
	}
	return false
}
