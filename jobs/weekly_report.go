package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
)

// WeeklyReportJob posts the trailing-week usage report across tenants.
type WeeklyReportJob struct {
	Generator ReportGenerator
	Tenants   TenantLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewWeeklyReportJob constructs the job handler.
func NewWeeklyReportJob(generator ReportGenerator, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *WeeklyReportJob {
	return &WeeklyReportJob{Generator: generator, Tenants: tenants, Logger: logger, Metrics: metrics}
}

func (j *WeeklyReportJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Handle executes the weekly report job.
func (j *WeeklyReportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Generator == nil || j.Tenants == nil {
		return errors.New("weekly report: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskWeeklyReport)
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
		j.Generator.SendWeeklyReport(ctx, tenantID)
	}
	j.log().Info("weekly report tick complete", slog.Int("tenants", len(tenantIDs)))
	return resultErr
}
