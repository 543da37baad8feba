package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rollcall-hq/rollcall/internal/attendance"
	"github.com/rollcall-hq/rollcall/internal/gateway"
	"github.com/rollcall-hq/rollcall/internal/shared"
	"github.com/rollcall-hq/rollcall/internal/tenant"
)

var berlin = mustLoc("Europe/Berlin")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hour, min int) time.Time {
	return time.Date(2026, time.March, 9, hour, min, 0, 0, berlin)
}

type fakeStore struct {
	records []*attendance.Record
	err     error
}

func (f *fakeStore) FindInRange(_ context.Context, tenantID, _ string, start, end time.Time) ([]*attendance.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*attendance.Record
	for _, rec := range f.records {
		if rec.TenantID == tenantID && !rec.Day.Before(start) && rec.Day.Before(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeSettings struct {
	settings tenant.Settings
}

func (f *fakeSettings) Get(context.Context, string) (tenant.Settings, error) {
	return f.settings, nil
}

type sentMessage struct {
	title string
	body  string
}

type fakeGateway struct {
	gateway.LogOnly
	mu       sync.Mutex
	canSend  bool
	failPage int
	sent     []sentMessage
}

func (f *fakeGateway) HasCapability(context.Context, string, string, gateway.Capability) (bool, error) {
	return f.canSend, nil
}

func (f *fakeGateway) Send(_ context.Context, _, _ string, msg gateway.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPage > 0 && strings.Contains(msg.Title, "page "+itoa(f.failPage)+"/") {
		return gateway.Unavailable("gateway: send", errors.New("503"))
	}
	f.sent = append(f.sent, sentMessage{title: msg.Title, body: msg.Body})
	return nil
}

func itoa(i int) string {
	return string(rune('0' + i))
}

type noopAlerter struct {
	alerts int
}

func (a *noopAlerter) MissingCapability(context.Context, string, string, gateway.Capability) {
	a.alerts++
}

func closedRecord(personID, name string, day time.Time, spans ...[2]time.Time) *attendance.Record {
	rec := attendance.NewRecord("t1", personID, name, attendance.DayOf(day, berlin))
	for _, span := range spans {
		if err := rec.AppendSession(span[0], span[0]); err != nil {
			panic(err)
		}
		if err := rec.CloseOpenSession(span[1]); err != nil {
			panic(err)
		}
	}
	return rec
}

func newTestGenerator(store Store, gw gateway.Client, budget int) (*Generator, *noopAlerter) {
	settings := &fakeSettings{settings: tenant.Settings{TenantID: "t1", PresenceTagID: "tag-1", LogChannelID: "chan-1"}}
	alerter := &noopAlerter{}
	g := NewGenerator(store, settings, gw, shared.NewJobLocks(), alerter, nil, nil, berlin, budget)
	g.WithClock(func() time.Time { return at(23, 59) })
	return g, alerter
}

func TestDailyReportAggregatesAndSorts(t *testing.T) {
	store := &fakeStore{records: []*attendance.Record{
		closedRecord("p1", "Alice", at(9, 0), [2]time.Time{at(9, 0), at(10, 0)}),
		closedRecord("p2", "Bob", at(8, 0),
			[2]time.Time{at(8, 0), at(11, 0)}, [2]time.Time{at(12, 0), at(13, 30)}),
	}}
	gw := &fakeGateway{canSend: true}
	g, _ := newTestGenerator(store, gw, 1024)

	g.SendDailyReport(context.Background(), "t1")

	require.Len(t, gw.sent, 2, "summary plus one page")
	summary := gw.sent[0]
	require.Contains(t, summary.body, "2 person(s), 3 completed session(s), 330 minute(s) total.")
	require.Contains(t, summary.body, "First check-in 2026-03-09 08:00, last check-out 2026-03-09 13:30.")

	page := gw.sent[1]
	require.Contains(t, page.title, "(page 1/1)")
	bobIdx := strings.Index(page.body, "Bob")
	aliceIdx := strings.Index(page.body, "Alice")
	require.True(t, bobIdx >= 0 && aliceIdx >= 0)
	require.Less(t, bobIdx, aliceIdx, "persons must be sorted by minutes descending")
	require.Contains(t, page.body, "Bob: 270 min, 2 session(s), 08:00 to 13:30")
}

func TestDailyReportNoDataSendsSingleNotification(t *testing.T) {
	// A record whose only session is still open does not qualify.
	openRec := attendance.NewRecord("t1", "p1", "Alice", attendance.DayOf(at(9, 0), berlin))
	require.NoError(t, openRec.AppendSession(at(9, 0), at(9, 0)))
	store := &fakeStore{records: []*attendance.Record{openRec}}
	gw := &fakeGateway{canSend: true}
	g, _ := newTestGenerator(store, gw, 1024)

	g.SendDailyReport(context.Background(), "t1")

	require.Len(t, gw.sent, 1, "exactly one no-data notification, zero pages")
	require.Contains(t, gw.sent[0].body, "No completed sessions")
}

func TestDailyReportSkipsWhenUnauthorized(t *testing.T) {
	store := &fakeStore{records: []*attendance.Record{
		closedRecord("p1", "Alice", at(9, 0), [2]time.Time{at(9, 0), at(10, 0)}),
	}}
	gw := &fakeGateway{canSend: false}
	g, alerter := newTestGenerator(store, gw, 1024)

	g.SendDailyReport(context.Background(), "t1")

	require.Empty(t, gw.sent)
	require.Equal(t, 1, alerter.alerts)
}

func TestDailyReportSkipsWhenLockHeld(t *testing.T) {
	store := &fakeStore{records: []*attendance.Record{
		closedRecord("p1", "Alice", at(9, 0), [2]time.Time{at(9, 0), at(10, 0)}),
	}}
	gw := &fakeGateway{canSend: true}
	g, _ := newTestGenerator(store, gw, 1024)

	require.True(t, g.locks.TryAcquire(shared.JobDailyReport))
	g.SendDailyReport(context.Background(), "t1")
	require.Empty(t, gw.sent, "a held lock must skip the run entirely")

	g.locks.Release(shared.JobDailyReport)
	g.SendDailyReport(context.Background(), "t1")
	require.NotEmpty(t, gw.sent, "lock must be usable again after release")
}

func TestPageFailureDoesNotAbortLaterPages(t *testing.T) {
	var records []*attendance.Record
	names := []string{"Alba", "Bert", "Cleo", "Dina", "Egon", "Finn"}
	for i, name := range names {
		padded := name + strings.Repeat("x", 200)
		records = append(records, closedRecord(name, padded, at(9, 0),
			[2]time.Time{at(9, 0), at(10+i%3, 0)}))
	}
	store := &fakeStore{records: records}
	gw := &fakeGateway{canSend: true, failPage: 2}
	g, _ := newTestGenerator(store, gw, 500)

	g.SendDailyReport(context.Background(), "t1")

	var pageTitles []string
	for _, m := range gw.sent {
		if strings.Contains(m.title, "page ") {
			pageTitles = append(pageTitles, m.title)
		}
	}
	require.Equal(t, 2, len(pageTitles), "pages 1 and 3 must still arrive when page 2 fails")
}

func TestWeeklyReportIncludesPerDaySubtotals(t *testing.T) {
	monday := at(9, 0)
	wednesday := monday.AddDate(0, 0, 2)
	store := &fakeStore{records: []*attendance.Record{
		closedRecord("p1", "Alice", monday, [2]time.Time{monday, monday.Add(time.Hour)}),
		closedRecord("p1", "Alice", wednesday, [2]time.Time{wednesday, wednesday.Add(2 * time.Hour)}),
	}}
	gw := &fakeGateway{canSend: true}
	g, _ := newTestGenerator(store, gw, 1024)
	g.WithClock(func() time.Time { return wednesday.Add(14 * time.Hour) })

	g.SendWeeklyReport(context.Background(), "t1")

	require.NotEmpty(t, gw.sent)
	summary := gw.sent[0]
	require.Contains(t, summary.title, "Weekly attendance report")
	require.Contains(t, summary.body, "2026-03-09: 60 min")
	require.Contains(t, summary.body, "2026-03-11: 120 min")
}

func TestPaginatePacksToBudget(t *testing.T) {
	entry := strings.Repeat("a", 600)
	pages := paginate([]string{entry, entry, entry}, 1024)
	require.Len(t, pages, 3, "600+600 exceeds 1024, so every entry gets its own page")

	small := strings.Repeat("b", 100)
	pages = paginate([]string{small, small, small}, 1024)
	require.Len(t, pages, 1)

	huge := strings.Repeat("c", 5000)
	pages = paginate([]string{huge, small}, 1024)
	require.Len(t, pages, 2, "an oversized entry still occupies exactly one page")

	require.Empty(t, paginate(nil, 1024))
}
