package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
)

// ReportGenerator is the reporting surface the report jobs drive.
type ReportGenerator interface {
	SendDailyReport(ctx context.Context, tenantID string)
	SendWeeklyReport(ctx context.Context, tenantID string)
}

// DailyReportJob posts the per-day usage report across tenants.
type DailyReportJob struct {
	Generator ReportGenerator
	Tenants   TenantLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDailyReportJob constructs the job handler.
func NewDailyReportJob(generator ReportGenerator, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *DailyReportJob {
	return &DailyReportJob{Generator: generator, Tenants: tenants, Logger: logger, Metrics: metrics}
}

func (j *DailyReportJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Handle executes the daily report job.
func (j *DailyReportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Generator == nil || j.Tenants == nil {
		return errors.New("daily report: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskDailyReport)
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
		j.Generator.SendDailyReport(ctx, tenantID)
	}
	j.log().Info("daily report tick complete", slog.Int("tenants", len(tenantIDs)))
	return resultErr
}
