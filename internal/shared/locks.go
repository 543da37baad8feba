package shared

import "sync"

// Scheduled job names. Locks are global per job name across all tenants, not
// per tenant: a daily-report run for one tenant excludes daily-report runs for
// every other tenant until it finishes.
const (
	JobCheckout     = "checkOut"
	JobDailyReport  = "dailyReport"
	JobWeeklyReport = "weeklyReport"
)

// JobLocks is the in-process mutual exclusion flag set for scheduled jobs.
// Nothing is persisted: a crash leaves no lingering lock because the state
// does not survive a restart.
type JobLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewJobLocks constructs an empty lock set.
func NewJobLocks() *JobLocks {
	return &JobLocks{held: make(map[string]bool)}
}

// TryAcquire atomically sets the flag for job and reports success. A false
// return means a conflicting run is in progress; the caller must skip this
// run entirely, not queue or block.
func (l *JobLocks) TryAcquire(job string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[job] {
		return false
	}
	l.held[job] = true
	return true
}

// Release clears the flag for job. Releasing an unheld lock is a no-op.
func (l *JobLocks) Release(job string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, job)
}

// WithLock runs fn while holding the named lock, releasing it on every exit
// path including panics. It reports false without running fn when the lock is
// already held.
func (l *JobLocks) WithLock(job string, fn func()) bool {
	if !l.TryAcquire(job) {
		return false
	}
	defer l.Release(job)
	fn()
	return true
}
