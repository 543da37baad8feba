// Package report aggregates closed sessions into daily and weekly summaries
// posted to a tenant's log destination, paginated to the message size budget.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rollcall-hq/rollcall/internal/attendance"
	"github.com/rollcall-hq/rollcall/internal/gateway"
	jobmetrics "github.com/rollcall-hq/rollcall/internal/jobs"
	"github.com/rollcall-hq/rollcall/internal/shared"
	"github.com/rollcall-hq/rollcall/internal/tenant"
)

// Store is the persistence surface the generator needs.
type Store interface {
	FindInRange(ctx context.Context, tenantID, personID string, start, end time.Time) ([]*attendance.Record, error)
}

// Alerter reports capability gaps to the tenant owner.
type Alerter interface {
	MissingCapability(ctx context.Context, tenantID, destinationID string, cap gateway.Capability)
}

// Generator builds and posts attendance reports.
type Generator struct {
	store      Store
	settings   tenant.SettingsReader
	gw         gateway.Client
	locks      *shared.JobLocks
	alerter    Alerter
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
	loc        *time.Location
	pageBudget int
	now        func() time.Time
}

// NewGenerator constructs the report generator. pageBudget is the per-message
// character budget pages are packed against.
func NewGenerator(store Store, settings tenant.SettingsReader, gw gateway.Client, locks *shared.JobLocks, alerter Alerter, metrics *jobmetrics.Metrics, logger *slog.Logger, loc *time.Location, pageBudget int) *Generator {
	if pageBudget <= 0 {
		pageBudget = 1024
	}
	return &Generator{
		store:      store,
		settings:   settings,
		gw:         gw,
		locks:      locks,
		alerter:    alerter,
		metrics:    metrics,
		logger:     logger,
		loc:        loc,
		pageBudget: pageBudget,
		now:        time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	if clock != nil {
		g.now = clock
	}
	return g
}

func (g *Generator) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}

// SendDailyReport posts the report for the tenant's current day bucket.
// Invoking it while a daily report is already running is a documented no-op.
func (g *Generator) SendDailyReport(ctx context.Context, tenantID string) {
	day := attendance.DayOf(g.now(), g.loc)
	g.run(ctx, tenantID, shared.JobDailyReport, "daily", day, day.AddDate(0, 0, 1),
		fmt.Sprintf("Daily attendance report %s", attendance.DayKey(day)))
}

// SendWeeklyReport posts the report over the trailing seven day buckets.
func (g *Generator) SendWeeklyReport(ctx context.Context, tenantID string) {
	day := attendance.DayOf(g.now(), g.loc)
	start := day.AddDate(0, 0, -6)
	g.run(ctx, tenantID, shared.JobWeeklyReport, "weekly", start, day.AddDate(0, 0, 1),
		fmt.Sprintf("Weekly attendance report %s to %s", attendance.DayKey(start), attendance.DayKey(day)))
}

func (g *Generator) run(ctx context.Context, tenantID, jobName, periodLabel string, start, end time.Time, title string) {
	log := g.log().With(slog.String("tenant", tenantID), slog.String("job", jobName))

	if !g.locks.TryAcquire(jobName) {
		log.Info("report already in progress, skipping this run")
		return
	}
	defer g.locks.Release(jobName)

	settings, err := g.settings.Get(ctx, tenantID)
	if err != nil {
		log.Warn("settings lookup failed, report skipped", slog.Any("error", err))
		return
	}
	if settings.LogChannelID == "" {
		log.Warn("log destination not configured, report skipped")
		return
	}
	ok, err := g.gw.HasCapability(ctx, tenantID, settings.LogChannelID, gateway.CapabilitySendMessages)
	if err != nil {
		log.Warn("send capability check failed, report skipped", slog.Any("error", err))
		return
	}
	if !ok {
		log.Warn("missing send permission on log destination, report skipped")
		if g.alerter != nil {
			g.alerter.MissingCapability(ctx, tenantID, settings.LogChannelID, gateway.CapabilitySendMessages)
		}
		return
	}

	records, err := g.store.FindInRange(ctx, tenantID, "", start, end)
	if err != nil {
		log.Error("record query failed, aborting report", slog.Any("error", err))
		return
	}

	agg := fold(records)
	if len(agg.persons) == 0 {
		msg := gateway.Message{Title: title, Body: "No completed sessions in this period."}
		if err := g.gw.Send(ctx, tenantID, settings.LogChannelID, msg); err != nil {
			log.Warn("no-data notification failed", slog.Any("error", err))
		}
		return
	}

	summary := gateway.Message{Title: title, Body: agg.summaryBody(periodLabel)}
	if err := g.gw.Send(ctx, tenantID, settings.LogChannelID, summary); err != nil {
		log.Warn("summary notification failed", slog.Any("error", err))
	}

	pages := paginate(agg.entries(), g.pageBudget)
	for i, page := range pages {
		msg := gateway.Message{
			Title: fmt.Sprintf("%s (page %d/%d)", title, i+1, len(pages)),
			Body:  strings.Join(page, ""),
		}
		if err := g.gw.Send(ctx, tenantID, settings.LogChannelID, msg); err != nil {
			// One lost page must not sink the ones after it.
			log.Warn("report page send failed",
				slog.Int("page", i+1), slog.Any("error", err))
		}
	}
	g.metrics.AddReportPages(tenantID, periodLabel, len(pages))

	log.Info("report sent",
		slog.Int("persons", len(agg.persons)),
		slog.Int("pages", len(pages)),
		slog.Int("total_minutes", agg.minutes),
	)
}

type personTotals struct {
	personID string
	name     string
	minutes  int
	sessions int
	earliest time.Time
	latest   time.Time
}

type aggregate struct {
	minutes  int
	sessions int
	earliest time.Time
	latest   time.Time
	persons  map[string]*personTotals
	perDay   map[string]int
	days     []string
}

// fold walks every closed session of every record exactly once, building the
// overall and per-person totals. Records with no closed session do not
// qualify and contribute nothing.
func fold(records []*attendance.Record) *aggregate {
	agg := &aggregate{persons: make(map[string]*personTotals), perDay: make(map[string]int)}
	for _, rec := range records {
		name := rec.DisplayName
		if name == "" {
			name = rec.PersonID
		}
		for _, s := range rec.Sessions {
			if s.Open() {
				continue
			}
			p := agg.persons[rec.PersonID]
			if p == nil {
				p = &personTotals{personID: rec.PersonID, name: name}
				agg.persons[rec.PersonID] = p
			}
			p.minutes += s.Minutes
			p.sessions++
			if p.earliest.IsZero() || s.CheckIn.Before(p.earliest) {
				p.earliest = s.CheckIn
			}
			if s.CheckOut.After(p.latest) {
				p.latest = *s.CheckOut
			}

			agg.minutes += s.Minutes
			agg.sessions++
			if agg.earliest.IsZero() || s.CheckIn.Before(agg.earliest) {
				agg.earliest = s.CheckIn
			}
			if s.CheckOut.After(agg.latest) {
				agg.latest = *s.CheckOut
			}

			dayKey := attendance.DayKey(rec.Day)
			if _, seen := agg.perDay[dayKey]; !seen {
				agg.days = append(agg.days, dayKey)
			}
			agg.perDay[dayKey] += s.Minutes
		}
	}
	sort.Strings(agg.days)
	return agg
}

func (a *aggregate) summaryBody(periodLabel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d person(s), %d completed session(s), %d minute(s) total.\n",
		len(a.persons), a.sessions, a.minutes)
	fmt.Fprintf(&b, "First check-in %s, last check-out %s.\n",
		a.earliest.Format("2006-01-02 15:04"), a.latest.Format("2006-01-02 15:04"))
	if periodLabel == "weekly" {
		for _, day := range a.days {
			fmt.Fprintf(&b, "%s: %d min\n", day, a.perDay[day])
		}
	}
	return b.String()
}

// entries renders one text block per person, sorted by minutes descending.
func (a *aggregate) entries() []string {
	persons := make([]*personTotals, 0, len(a.persons))
	for _, p := range a.persons {
		persons = append(persons, p)
	}
	sort.Slice(persons, func(i, j int) bool {
		if persons[i].minutes != persons[j].minutes {
			return persons[i].minutes > persons[j].minutes
		}
		return persons[i].name < persons[j].name
	})
	out := make([]string, 0, len(persons))
	for _, p := range persons {
		out = append(out, fmt.Sprintf("%s: %d min, %d session(s), %s to %s\n",
			p.name, p.minutes, p.sessions, p.earliest.Format("15:04"), p.latest.Format("15:04")))
	}
	return out
}

// paginate packs entries into pages greedily: a page accumulates entries until
// appending the next would exceed the budget, then a new page starts. An
// entry larger than the whole budget still gets its own page.
func paginate(entries []string, budget int) [][]string {
	var pages [][]string
	var current []string
	size := 0
	for _, entry := range entries {
		if len(current) > 0 && size+len(entry) > budget {
			pages = append(pages, current)
			current = nil
			size = 0
		}
		current = append(current, entry)
		size += len(entry)
	}
	if len(current) > 0 {
		pages = append(pages, current)
	}
	return pages
}
