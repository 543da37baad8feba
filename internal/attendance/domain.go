package attendance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRecordExists indicates a record for the (tenant, person, day) key already exists.
var ErrRecordExists = errors.New("attendance: record already exists")

// ErrSessionClosed indicates an attempt to close a session twice.
var ErrSessionClosed = errors.New("attendance: session already closed")

// ErrCloseBeforeCheckIn indicates a close time earlier than the session start.
var ErrCloseBeforeCheckIn = errors.New("attendance: close time precedes check-in")

// ErrFutureCheckIn indicates a check-in timestamp in the future.
var ErrFutureCheckIn = errors.New("attendance: check-in must not be in the future")

// ErrAlreadyCheckedIn indicates the record already has an open session.
var ErrAlreadyCheckedIn = errors.New("attendance: person already checked in")

// ErrNotCheckedIn indicates the record has no open session to close.
var ErrNotCheckedIn = errors.New("attendance: person is not checked in")

// Session is one check-in/check-out interval. A nil CheckOut means the session
// is still open. Minutes is derived when the session closes; a closed session
// is immutable.
type Session struct {
	CheckIn  time.Time  `json:"check_in"`
	CheckOut *time.Time `json:"check_out,omitempty"`
	Minutes  int        `json:"minutes"`
}

// Open reports whether the session has not been checked out yet.
func (s Session) Open() bool {
	return s.CheckOut == nil
}

// close stamps the session with the check-out time and derives Minutes as
// floor of the elapsed duration.
func (s *Session) close(at time.Time) error {
	if !s.Open() {
		return ErrSessionClosed
	}
	if at.Before(s.CheckIn) {
		return ErrCloseBeforeCheckIn
	}
	out := at
	s.CheckOut = &out
	s.Minutes = int(at.Sub(s.CheckIn) / time.Minute)
	return nil
}

// Record is the per-person, per-tenant, per-day container of sessions plus
// derived totals. Sessions keep insertion order, which is chronological.
// Totals are recomputed from the full session list on every mutation, never
// hand-edited.
type Record struct {
	ID                 uuid.UUID
	TenantID           string
	PersonID           string
	DisplayName        string
	Day                time.Time
	Sessions           []Session
	TotalMinutes       int
	SessionsCount      int
	LastSessionMinutes int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRecord creates the day record for the first check-in.
func NewRecord(tenantID, personID, displayName string, day time.Time) *Record {
	return &Record{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PersonID:    personID,
		DisplayName: displayName,
		Day:         day,
	}
}

// OpenSession returns the index of the open session, or -1. The invariant is
// at most one open session per record.
func (r *Record) OpenSession() int {
	for i := range r.Sessions {
		if r.Sessions[i].Open() {
			return i
		}
	}
	return -1
}

// AppendSession starts a new session at checkIn. It rejects a second open
// session and check-in timestamps after now.
func (r *Record) AppendSession(checkIn, now time.Time) error {
	if checkIn.After(now) {
		return ErrFutureCheckIn
	}
	if r.OpenSession() >= 0 {
		return ErrAlreadyCheckedIn
	}
	r.Sessions = append(r.Sessions, Session{CheckIn: checkIn})
	r.Recompute()
	return nil
}

// CloseOpenSession closes the record's open session at the given time and
// recomputes totals. It returns ErrNotCheckedIn when no session is open.
func (r *Record) CloseOpenSession(at time.Time) error {
	idx := r.OpenSession()
	if idx < 0 {
		return ErrNotCheckedIn
	}
	if err := r.Sessions[idx].close(at); err != nil {
		return err
	}
	r.Recompute()
	return nil
}

// ForceCloseOpenSessions closes every trailing open session at the given time
// and returns how many were closed. Already-closed sessions are untouched.
func (r *Record) ForceCloseOpenSessions(at time.Time) (int, error) {
	closed := 0
	for i := range r.Sessions {
		if !r.Sessions[i].Open() {
			continue
		}
		if err := r.Sessions[i].close(at); err != nil {
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		r.Recompute()
	}
	return closed, nil
}

// Recompute rebuilds the derived totals from the full session list. Only
// closed sessions contribute.
func (r *Record) Recompute() {
	total := 0
	count := 0
	last := 0
	for _, s := range r.Sessions {
		if s.Open() {
			continue
		}
		total += s.Minutes
		count++
		last = s.Minutes
	}
	r.TotalMinutes = total
	r.SessionsCount = count
	r.LastSessionMinutes = last
}

// DayOf buckets a timestamp into its calendar day in the canonical timezone.
func DayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayKey renders a day bucket as its wire/storage form.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}
