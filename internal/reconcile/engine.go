// Package reconcile force-closes sessions left open past day end and keeps
// the presence tag in sync with the authoritative session data.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-hq/rollcall/internal/attendance"
	"github.com/rollcall-hq/rollcall/internal/gateway"
	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
	"github.com/rollcall-hq/rollcall/internal/shared"
	"github.com/rollcall-hq/rollcall/internal/tenant"
)

// Store is the persistence surface the engine needs.
type Store interface {
	FindOpenForDay(ctx context.Context, tenantID string, day time.Time) ([]*attendance.Record, error)
	CloseOpenSessions(ctx context.Context, recordID uuid.UUID, at time.Time) (int, error)
}

// Alerter reports capability gaps to the tenant owner, deduplicated upstream.
type Alerter interface {
	MissingCapability(ctx context.Context, tenantID, destinationID string, cap gateway.Capability)
}

// Engine runs the end-of-day reconciliation sweep.
type Engine struct {
	store    Store
	settings tenant.SettingsReader
	gw       gateway.Client
	locks    *shared.JobLocks
	alerter  Alerter
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewEngine constructs the reconciliation engine.
func NewEngine(store Store, settings tenant.SettingsReader, gw gateway.Client, locks *shared.JobLocks, alerter Alerter, metrics *jobmetrics.Metrics, logger *slog.Logger, loc *time.Location) *Engine {
	return &Engine{
		store:    store,
		settings: settings,
		gw:       gw,
		locks:    locks,
		alerter:  alerter,
		metrics:  metrics,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.now = clock
	}
	return e
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// ForceCheckOutAll closes every session still open in the tenant's current day
// bucket, removes the presence tag from everyone involved (plus stale
// holders), and posts per-person and summary notifications. Failures are
// signalled only through logs; invoking it while a sweep is already running
// is a documented no-op.
func (e *Engine) ForceCheckOutAll(ctx context.Context, tenantID string) {
	log := e.log().With(slog.String("tenant", tenantID), slog.String("job", shared.JobCheckout))

	tn, err := e.gw.Tenant(ctx, tenantID)
	if err != nil {
		log.Warn("tenant not resolvable, skipping sweep", slog.Any("error", err))
		return
	}
	if !tn.Active {
		log.Info("tenant membership inactive, skipping sweep")
		return
	}

	if !e.locks.TryAcquire(shared.JobCheckout) {
		log.Info("sweep already in progress, skipping this run")
		return
	}
	defer e.locks.Release(shared.JobCheckout)

	now := e.now().In(e.loc)
	day := attendance.DayOf(now, e.loc)

	records, err := e.store.FindOpenForDay(ctx, tenantID, day)
	if err != nil {
		// The rest of the run depends on this query; nothing sensible to do.
		log.Error("open-session query failed, aborting run",
			slog.String("day", attendance.DayKey(day)), slog.Any("error", err))
		return
	}

	settings, err := e.settings.Get(ctx, tenantID)
	if err != nil {
		log.Warn("settings lookup failed, continuing without routing", slog.Any("error", err))
		settings = tenant.Settings{TenantID: tenantID}
	}
	canSend := e.resolveSendRoute(ctx, log, settings)

	// Close first. Closing must finish for a person before their tag is
	// touched, and must never be skipped just because logging is impossible.
	processed := make(map[string]string)
	var order []string
	totalClosed := 0
	for _, rec := range records {
		if _, done := processed[rec.PersonID]; done {
			continue
		}
		closed, err := e.store.CloseOpenSessions(ctx, rec.ID, now)
		if err != nil {
			log.Error("force close failed",
				slog.String("person", rec.PersonID), slog.Any("error", err))
			continue
		}
		name := rec.DisplayName
		if name == "" {
			name = rec.PersonID
		}
		processed[rec.PersonID] = name
		order = append(order, rec.PersonID)
		totalClosed += closed
	}
	e.metrics.AddForceClosed(tenantID, totalClosed)

	e.removePresenceTags(ctx, log, settings, processed)

	if canSend {
		for _, personID := range order {
			msg := gateway.Message{
				Title: "Forced check-out",
				Body:  fmt.Sprintf("%s was checked out automatically at %s.", processed[personID], now.Format("15:04")),
			}
			if err := e.gw.Send(ctx, tenantID, settings.LogChannelID, msg); err != nil {
				log.Warn("per-person notification failed",
					slog.String("person", personID), slog.Any("error", err))
			}
		}
		summary := gateway.Message{
			Title: "Daily reconciliation",
			Body:  fmt.Sprintf("Closed %d open session(s) across %d person(s).", totalClosed, len(order)),
		}
		if err := e.gw.Send(ctx, tenantID, settings.LogChannelID, summary); err != nil {
			log.Warn("summary notification failed", slog.Any("error", err))
		}
	}

	log.Info("sweep complete",
		slog.Int("sessions_closed", totalClosed),
		slog.Int("persons", len(order)),
		slog.String("day", attendance.DayKey(day)),
	)
}

// resolveSendRoute decides whether run notifications can be posted. A missing
// destination or permission downgrades to warn-and-skip; it never blocks the
// state changes.
func (e *Engine) resolveSendRoute(ctx context.Context, log *slog.Logger, settings tenant.Settings) bool {
	if settings.LogChannelID == "" {
		log.Warn("log destination not configured, notifications skipped")
		return false
	}
	ok, err := e.gw.HasCapability(ctx, settings.TenantID, settings.LogChannelID, gateway.CapabilitySendMessages)
	if err != nil {
		log.Warn("send capability check failed, notifications skipped", slog.Any("error", err))
		return false
	}
	if !ok {
		log.Warn("missing send permission on log destination, notifications skipped")
		if e.alerter != nil {
			e.alerter.MissingCapability(ctx, settings.TenantID, settings.LogChannelID, gateway.CapabilitySendMessages)
		}
		return false
	}
	return true
}

// removePresenceTags strips the presence tag from every processed person and
// then sweeps holders with no record in the current bucket (stale tags). All
// failures are per-person; none aborts the loop.
func (e *Engine) removePresenceTags(ctx context.Context, log *slog.Logger, settings tenant.Settings, processed map[string]string) {
	if settings.PresenceTagID == "" {
		log.Warn("presence tag not configured, tag sweep skipped")
		return
	}
	ok, err := e.gw.HasCapability(ctx, settings.TenantID, "", gateway.CapabilityManageTags)
	if err != nil {
		log.Warn("tag capability check failed, proceeding anyway", slog.Any("error", err))
	} else if !ok {
		log.Warn("missing tag-management permission, tag sweep skipped")
		if e.alerter != nil {
			e.alerter.MissingCapability(ctx, settings.TenantID, "", gateway.CapabilityManageTags)
		}
		return
	}

	for personID := range processed {
		member, err := e.gw.Member(ctx, settings.TenantID, personID)
		if err != nil {
			log.Warn("member lookup failed during tag sweep",
				slog.String("person", personID), slog.Any("error", err))
			continue
		}
		if !member.HasTag(settings.PresenceTagID) {
			continue
		}
		if err := e.gw.RemoveTag(ctx, settings.TenantID, personID, settings.PresenceTagID); err != nil {
			log.Warn("tag removal failed",
				slog.String("person", personID), slog.Any("error", err))
		}
	}

	// Stale holders: people wearing the tag with no open record today, e.g.
	// tags left over from before a record was deleted or from manual edits.
	holders, err := e.gw.TagHolders(ctx, settings.TenantID, settings.PresenceTagID)
	if err != nil {
		log.Warn("tag holder listing failed, stale sweep skipped", slog.Any("error", err))
		return
	}
	for _, holder := range holders {
		if _, done := processed[holder.PersonID]; done {
			continue
		}
		if err := e.gw.RemoveTag(ctx, settings.TenantID, holder.PersonID, settings.PresenceTagID); err != nil {
			log.Warn("stale tag removal failed",
				slog.String("person", holder.PersonID), slog.Any("error", err))
		}
	}
}
