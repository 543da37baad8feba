package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListTenantIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakeEngine struct {
	swept []string
}

func (f *fakeEngine) ForceCheckOutAll(_ context.Context, tenantID string) {
	f.swept = append(f.swept, tenantID)
}

type fakeGenerator struct {
	daily  []string
	weekly []string
}

func (f *fakeGenerator) SendDailyReport(_ context.Context, tenantID string) {
	f.daily = append(f.daily, tenantID)
}

func (f *fakeGenerator) SendWeeklyReport(_ context.Context, tenantID string) {
	f.weekly = append(f.weekly, tenantID)
}

func TestCheckoutSweepCoversAllTenants(t *testing.T) {
	engine := &fakeEngine{}
	job := NewCheckoutSweepJob(engine, &fakeLister{ids: []string{"t1", "t2", "t3"}}, nil, nil)

	task, err := NewCheckoutSweepTask(TenantAll)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"t1", "t2", "t3"}, engine.swept)
}

func TestCheckoutSweepScopedToOneTenant(t *testing.T) {
	engine := &fakeEngine{}
	lister := &fakeLister{ids: []string{"t1", "t2"}}
	job := NewCheckoutSweepJob(engine, lister, nil, nil)

	task, err := NewCheckoutSweepTask("t2")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"t2"}, engine.swept, "scoped payload must not touch the lister's full set")
}

func TestCheckoutSweepFailsWhenListingFails(t *testing.T) {
	job := NewCheckoutSweepJob(&fakeEngine{}, &fakeLister{err: errors.New("pg down")}, nil, nil)

	task, err := NewCheckoutSweepTask(TenantAll)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestCheckoutSweepBadPayloadSkipsRetry(t *testing.T) {
	job := NewCheckoutSweepJob(&fakeEngine{}, &fakeLister{}, nil, nil)

	task := asynq.NewTask(TaskCheckoutSweep, []byte("{not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestReportJobsCoverAllTenants(t *testing.T) {
	gen := &fakeGenerator{}
	lister := &fakeLister{ids: []string{"t1", "t2"}}

	daily := NewDailyReportJob(gen, lister, nil, nil)
	task, err := NewDailyReportTask("")
	require.NoError(t, err)
	require.NoError(t, daily.Handle(context.Background(), task))
	require.Equal(t, []string{"t1", "t2"}, gen.daily)

	weekly := NewWeeklyReportJob(gen, lister, nil, nil)
	task, err = NewWeeklyReportTask("")
	require.NoError(t, err)
	require.NoError(t, weekly.Handle(context.Background(), task))
	require.Equal(t, []string{"t1", "t2"}, gen.weekly)
}
