package gateway

import (
	"context"

	"github.com/rollcall-hq/rollcall/internal/shared"
)

// Retrying decorates a Client with the remote-API retry policy: unavailable
// and rate-limited responses are retried (honouring a server-suggested wait),
// capability and stale-reference failures surface immediately.
type Retrying struct {
	next  Client
	retry *shared.Retryer
}

// NewRetrying wraps client with the default gateway retry budget.
func NewRetrying(client Client) *Retrying {
	return &Retrying{next: client, retry: shared.NewRetryer(shared.DefaultGatewayPolicy)}
}

// WithRetryer overrides the retry executor, mainly for tests.
func (r *Retrying) WithRetryer(retry *shared.Retryer) *Retrying {
	if retry != nil {
		r.retry = retry
	}
	return r
}

// Tenant implements Client.
func (r *Retrying) Tenant(ctx context.Context, tenantID string) (Tenant, error) {
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (Tenant, error) {
		return r.next.Tenant(ctx, tenantID)
	})
}

// Member implements Client.
func (r *Retrying) Member(ctx context.Context, tenantID, personID string) (Member, error) {
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (Member, error) {
		return r.next.Member(ctx, tenantID, personID)
	})
}

// TagHolders implements Client.
func (r *Retrying) TagHolders(ctx context.Context, tenantID, tagID string) ([]Member, error) {
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) ([]Member, error) {
		return r.next.TagHolders(ctx, tenantID, tagID)
	})
}

// HasCapability implements Client.
func (r *Retrying) HasCapability(ctx context.Context, tenantID, destinationID string, cap Capability) (bool, error) {
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (bool, error) {
		return r.next.HasCapability(ctx, tenantID, destinationID, cap)
	})
}

// Send implements Client.
func (r *Retrying) Send(ctx context.Context, tenantID, destinationID string, msg Message) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.next.Send(ctx, tenantID, destinationID, msg)
	})
}

// AddTag implements Client.
func (r *Retrying) AddTag(ctx context.Context, tenantID, personID, tagID string) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.next.AddTag(ctx, tenantID, personID, tagID)
	})
}

// RemoveTag implements Client.
func (r *Retrying) RemoveTag(ctx context.Context, tenantID, personID, tagID string) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.next.RemoveTag(ctx, tenantID, personID, tagID)
	})
}

var _ Client = (*Retrying)(nil)
