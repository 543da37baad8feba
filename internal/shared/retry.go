package shared

import (
	"context"
	"time"
)

// RetryPolicy bounds the attempts of a Retryer.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultStorePolicy matches the persistence retry budget.
var DefaultStorePolicy = RetryPolicy{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// DefaultGatewayPolicy matches the remote-API retry budget.
var DefaultGatewayPolicy = RetryPolicy{MaxAttempts: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Retryer re-runs fallible operations with exponential backoff. The error is
// classified first: conflict, capability and stale-reference failures are
// surfaced immediately; transient failures optionally trigger OnTransient
// (e.g. a store reconnect) before the backoff sleep.
type Retryer struct {
	Policy RetryPolicy
	// OnTransient runs once per transient failure before backing off.
	OnTransient func(ctx context.Context)
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer constructs a Retryer with the given policy.
func NewRetryer(policy RetryPolicy) *Retryer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Retryer{Policy: policy, sleep: sleepCtx}
}

// WithSleep overrides the backoff sleep for deterministic tests.
func (r *Retryer) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retryer {
	if sleep != nil {
		r.sleep = sleep
	}
	return r
}

// Do runs op until it succeeds, fails non-retryably, or the attempt budget is
// exhausted. The last error is returned on exhaustion.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := r.Policy.InitialDelay
	var last error
	for attempt := 1; ; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		kind := Classify(last)
		if !Retryable(kind) {
			return last
		}
		if attempt >= r.Policy.MaxAttempts {
			return last
		}
		wait := delay
		if hint := RetryAfterHint(last); hint > 0 {
			wait = hint
		}
		if kind == KindTransient && r.OnTransient != nil {
			r.OnTransient(ctx)
		}
		if err := r.doSleep(ctx, wait); err != nil {
			return last
		}
		delay = nextDelay(delay, r.Policy.MaxDelay)
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, r *Retryer, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}

func (r *Retryer) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep == nil {
		return sleepCtx(ctx, d)
	}
	return r.sleep(ctx, d)
}

// nextDelay grows the backoff by half, capped at max.
func nextDelay(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if max > 0 && next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
