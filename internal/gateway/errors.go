package gateway

import (
	"time"

	"github.com/rollcall-hq/rollcall/internal/shared"
)

// Constructors for the classified errors a Client implementation must produce.
// Downstream retry and degradation logic switches on these kinds only.

// RateLimited marks a throttled call. retryAfter may be zero when the server
// gave no hint.
func RateLimited(op string, retryAfter time.Duration, err error) error {
	return &shared.Error{Kind: shared.KindRateLimited, Op: op, RetryAfter: retryAfter, Err: err}
}

// Unavailable marks a call rejected because the service reported itself down.
func Unavailable(op string, err error) error {
	return shared.NewError(shared.KindUnavailable, op, err)
}

// MissingPermission marks a call rejected for lack of a capability.
func MissingPermission(op string, err error) error {
	return shared.NewError(shared.KindCapabilityMissing, op, err)
}

// StaleReference marks a call against an interaction or entity the platform no
// longer knows.
func StaleReference(op string, err error) error {
	return shared.NewError(shared.KindStaleReference, op, err)
}

// NotFound marks an absent tenant, member or destination.
func NotFound(op string, err error) error {
	return shared.NewError(shared.KindNotFound, op, err)
}
