package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
)

// CheckoutEngine is the reconciliation surface the sweep job drives.
type CheckoutEngine interface {
	ForceCheckOutAll(ctx context.Context, tenantID string)
}

// CheckoutSweepJob runs the end-of-day reconciliation across tenants.
type CheckoutSweepJob struct {
	Engine  CheckoutEngine
	Tenants TenantLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCheckoutSweepJob constructs the job handler.
func NewCheckoutSweepJob(engine CheckoutEngine, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *CheckoutSweepJob {
	return &CheckoutSweepJob{Engine: engine, Tenants: tenants, Logger: logger, Metrics: metrics}
}

func (j *CheckoutSweepJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Handle executes the checkout sweep job. Per-tenant trouble is handled and
// logged inside the engine; only a failed tenant listing fails the run.
func (j *CheckoutSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Engine == nil || j.Tenants == nil {
		return errors.New("checkout sweep: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskCheckoutSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	tenantIDs, err := resolveTenants(ctx, j.Tenants, payload)
	if err != nil {
		resultErr = err
		j.log().Error("resolve tenants", slog.String("scope", payload.TenantID), slog.Any("error", err))
		return resultErr
	}
	for _, tenantID := range tenantIDs {
		j.Engine.ForceCheckOutAll(ctx, tenantID)
	}
	j.log().Info("checkout sweep tick complete", slog.Int("tenants", len(tenantIDs)))
	return resultErr
}
