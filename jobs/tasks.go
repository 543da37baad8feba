package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskCheckoutSweep force-closes sessions left open past day end.
	TaskCheckoutSweep = "attendance:checkout_sweep"
	// TaskDailyReport posts the per-day usage report.
	TaskDailyReport = "attendance:daily_report"
	// TaskWeeklyReport posts the trailing-week usage report.
	TaskWeeklyReport = "attendance:weekly_report"

	// TenantAll addresses every tenant the process serves.
	TenantAll = "all"
)

// TenantPayload scopes a job run to one tenant or to all of them.
type TenantPayload struct {
	TenantID string `json:"tenant_id"`
}

func newTenantTask(taskType, tenantID string) (*asynq.Task, error) {
	if tenantID == "" {
		tenantID = TenantAll
	}
	body, err := json.Marshal(TenantPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewCheckoutSweepTask creates an Asynq task for the reconciliation sweep.
func NewCheckoutSweepTask(tenantID string) (*asynq.Task, error) {
	return newTenantTask(TaskCheckoutSweep, tenantID)
}

// NewDailyReportTask creates an Asynq task for the daily report.
func NewDailyReportTask(tenantID string) (*asynq.Task, error) {
	return newTenantTask(TaskDailyReport, tenantID)
}

// NewWeeklyReportTask creates an Asynq task for the weekly report.
func NewWeeklyReportTask(tenantID string) (*asynq.Task, error) {
	return newTenantTask(TaskWeeklyReport, tenantID)
}
