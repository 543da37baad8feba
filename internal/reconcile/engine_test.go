package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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
	mu        sync.Mutex
	records   []*attendance.Record
	findCalls int
	findGate  chan struct{}
	closeErr  map[string]error
}

func (f *fakeStore) FindOpenForDay(_ context.Context, tenantID string, day time.Time) ([]*attendance.Record, error) {
	f.mu.Lock()
	f.findCalls++
	gate := f.findGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	var out []*attendance.Record
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.TenantID == tenantID && attendance.DayKey(rec.Day) == attendance.DayKey(day) && rec.OpenSession() >= 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) CloseOpenSessions(_ context.Context, recordID uuid.UUID, closeAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID != recordID {
			continue
		}
		if err := f.closeErr[rec.PersonID]; err != nil {
			return 0, err
		}
		return rec.ForceCloseOpenSessions(closeAt)
	}
	return 0, shared.NewError(shared.KindNotFound, "attendance: close session", errors.New("no rows"))
}

type fakeSettings struct {
	settings tenant.Settings
}

func (f *fakeSettings) Get(context.Context, string) (tenant.Settings, error) {
	return f.settings, nil
}

type sentMessage struct {
	destination string
	title       string
	body        string
}

type fakeGateway struct {
	mu           sync.Mutex
	inactive     bool
	tenantErr    error
	capabilities map[gateway.Capability]bool
	members      map[string]gateway.Member
	holders      []gateway.Member
	sendErr      error

	sent    []sentMessage
	removed []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		capabilities: map[gateway.Capability]bool{
			gateway.CapabilitySendMessages: true,
			gateway.CapabilityManageTags:   true,
		},
		members: make(map[string]gateway.Member),
	}
}

func (f *fakeGateway) Tenant(_ context.Context, tenantID string) (gateway.Tenant, error) {
	if f.tenantErr != nil {
		return gateway.Tenant{}, f.tenantErr
	}
	return gateway.Tenant{ID: tenantID, Name: tenantID, Active: !f.inactive}, nil
}

func (f *fakeGateway) Member(_ context.Context, _, personID string) (gateway.Member, error) {
	m, ok := f.members[personID]
	if !ok {
		return gateway.Member{}, gateway.NotFound("gateway: member", errors.New("unknown member"))
	}
	return m, nil
}

func (f *fakeGateway) TagHolders(context.Context, string, string) ([]gateway.Member, error) {
	return f.holders, nil
}

func (f *fakeGateway) HasCapability(_ context.Context, _, _ string, cap gateway.Capability) (bool, error) {
	return f.capabilities[cap], nil
}

func (f *fakeGateway) Send(_ context.Context, _, destinationID string, msg gateway.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{destination: destinationID, title: msg.Title, body: msg.Body})
	return nil
}

func (f *fakeGateway) AddTag(context.Context, string, string, string) error { return nil }

func (f *fakeGateway) RemoveTag(_ context.Context, _, personID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, personID)
	return nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) MissingCapability(_ context.Context, tenantID, destinationID string, cap gateway.Capability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, tenantID+"|"+destinationID+"|"+string(cap))
}

func openRecord(personID, name string, checkIn time.Time) *attendance.Record {
	rec := attendance.NewRecord("t1", personID, name, attendance.DayOf(checkIn, berlin))
	if err := rec.AppendSession(checkIn, checkIn); err != nil {
		panic(err)
	}
	return rec
}

func newTestEngine(store Store, gw gateway.Client, alerter Alerter) *Engine {
	settings := &fakeSettings{settings: tenant.Settings{TenantID: "t1", PresenceTagID: "tag-1", LogChannelID: "chan-1"}}
	engine := NewEngine(store, settings, gw, shared.NewJobLocks(), alerter, nil, nil, berlin)
	engine.WithClock(func() time.Time { return at(23, 58) })
	return engine
}

func TestForceCheckOutClosesOpenSessionAndRemovesTagOnce(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	store := &fakeStore{records: []*attendance.Record{rec}}
	gw := newFakeGateway()
	gw.members["p1"] = gateway.Member{PersonID: "p1", DisplayName: "Alice", Tags: []string{"tag-1"}}
	engine := newTestEngine(store, gw, &fakeAlerter{})

	engine.ForceCheckOutAll(context.Background(), "t1")

	require.Equal(t, -1, rec.OpenSession())
	require.Equal(t, 898, rec.Sessions[0].Minutes)
	require.Equal(t, 898, rec.TotalMinutes)
	require.Equal(t, 1, rec.SessionsCount)
	require.Equal(t, []string{"p1"}, gw.removed, "tag must be removed exactly once")

	require.Len(t, gw.sent, 2, "one per-person plus one summary message")
	require.Equal(t, "Forced check-out", gw.sent[0].title)
	require.Contains(t, gw.sent[0].body, "Alice")
	require.Contains(t, gw.sent[0].body, "23:58")
	require.Contains(t, gw.sent[1].body, "1 open session(s)")
}

func TestForceCheckOutTwiceIsIdempotent(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	store := &fakeStore{records: []*attendance.Record{rec}}
	gw := newFakeGateway()
	engine := newTestEngine(store, gw, &fakeAlerter{})

	engine.ForceCheckOutAll(context.Background(), "t1")
	first := *rec
	engine.ForceCheckOutAll(context.Background(), "t1")

	require.Equal(t, first.TotalMinutes, rec.TotalMinutes)
	require.Equal(t, first.SessionsCount, rec.SessionsCount)
	require.Equal(t, first.Sessions[0].Minutes, rec.Sessions[0].Minutes)
}

func TestForceCheckOutSkipsWhenLockHeld(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	gate := make(chan struct{})
	store := &fakeStore{records: []*attendance.Record{rec}, findGate: gate}
	gw := newFakeGateway()
	engine := newTestEngine(store, gw, &fakeAlerter{})

	done := make(chan struct{})
	go func() {
		engine.ForceCheckOutAll(context.Background(), "t1")
		close(done)
	}()

	// Wait until the first run holds the lock and is parked in the query.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.findCalls == 1
	}, time.Second, time.Millisecond)

	engine.ForceCheckOutAll(context.Background(), "t1")

	store.mu.Lock()
	calls := store.findCalls
	store.mu.Unlock()
	require.Equal(t, 1, calls, "second call must return without querying the store")

	close(gate)
	<-done
}

func TestForceCheckOutClosesEvenWhenSendPermissionMissing(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	store := &fakeStore{records: []*attendance.Record{rec}}
	gw := newFakeGateway()
	gw.capabilities[gateway.CapabilitySendMessages] = false
	alerter := &fakeAlerter{}
	engine := newTestEngine(store, gw, alerter)

	engine.ForceCheckOutAll(context.Background(), "t1")

	require.Equal(t, -1, rec.OpenSession(), "closing must not be skipped because logging is impossible")
	require.Empty(t, gw.sent)
	require.Equal(t, []string{"t1|chan-1|send_messages"}, alerter.alerts)
}

func TestForceCheckOutSkipsTagSweepWhenTagPermissionMissing(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	store := &fakeStore{records: []*attendance.Record{rec}}
	gw := newFakeGateway()
	gw.capabilities[gateway.CapabilityManageTags] = false
	gw.members["p1"] = gateway.Member{PersonID: "p1", Tags: []string{"tag-1"}}
	alerter := &fakeAlerter{}
	engine := newTestEngine(store, gw, alerter)

	engine.ForceCheckOutAll(context.Background(), "t1")

	require.Equal(t, -1, rec.OpenSession())
	require.Empty(t, gw.removed, "tag sweep must be skipped, not retried per person")
	require.Equal(t, []string{"t1||manage_tags"}, alerter.alerts)
}

func TestForceCheckOutSweepsStaleTagHolders(t *testing.T) {
	rec := openRecord("p1", "Alice", at(9, 0))
	store := &fakeStore{records: []*attendance.Record{rec}}
	gw := newFakeGateway()
	gw.members["p1"] = gateway.Member{PersonID: "p1", Tags: []string{"tag-1"}}
	gw.holders = []gateway.Member{
		{PersonID: "p1", Tags: []string{"tag-1"}},
		{PersonID: "ghost", Tags: []string{"tag-1"}},
	}
	engine := newTestEngine(store, gw, &fakeAlerter{})

	engine.ForceCheckOutAll(context.Background(), "t1")

	require.Equal(t, []string{"p1", "ghost"}, gw.removed,
		"stale holder without a record must lose the tag; processed person only once")
}

func TestForceCheckOutIsolatesPerPersonFailures(t *testing.T) {
	recA := openRecord("p1", "Alice", at(9, 0))
	recB := openRecord("p2", "Bob", at(10, 0))
	store := &fakeStore{
		records:  []*attendance.Record{recA, recB},
		closeErr: map[string]error{"p1": shared.NewError(shared.KindUnexpected, "attendance: close session", errors.New("boom"))},
	}
	gw := newFakeGateway()
	engine := newTestEngine(store, gw, &fakeAlerter{})

	engine.ForceCheckOutAll(context.Background(), "t1")

	require.GreaterOrEqual(t, recA.OpenSession(), 0, "failed record stays open")
	require.Equal(t, -1, recB.OpenSession(), "failure for one person must not stop the rest")
}

func TestForceCheckOutSkipsUnresolvableTenant(t *testing.T) {
	store := &fakeStore{}
	gw := newFakeGateway()
	gw.tenantErr = gateway.NotFound("gateway: tenant", errors.New("unknown tenant"))
	engine := newTestEngine(store, gw, &fakeAlerter{})

	engine.ForceCheckOutAll(context.Background(), "t1")
	require.Zero(t, store.findCalls, "unresolvable tenant must not reach the store")

	gw.tenantErr = nil
	gw.inactive = true
	engine.ForceCheckOutAll(context.Background(), "t1")
	require.Zero(t, store.findCalls)
}
