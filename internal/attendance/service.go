package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rollcall-hq/rollcall/internal/gateway"
	"github.com/rollcall-hq/rollcall/internal/shared"
	"github.com/rollcall-hq/rollcall/internal/tenant"
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, tenantID, personID string, day time.Time) (*Record, error)
	CloseOpenSessions(ctx context.Context, recordID uuid.UUID, at time.Time) (int, error)
}

// Service implements the live check-in and check-out paths that the
// reconciliation sweep later races against.
type Service struct {
	store    Store
	settings tenant.SettingsReader
	gw       gateway.Client
	loc      *time.Location
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the attendance service.
func NewService(store Store, settings tenant.SettingsReader, gw gateway.Client, loc *time.Location, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		settings: settings,
		gw:       gw,
		loc:      loc,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// CheckInInput carries a check-in request.
type CheckInInput struct {
	TenantID    string `validate:"required"`
	PersonID    string `validate:"required"`
	DisplayName string
	// At defaults to now; a future timestamp is rejected.
	At time.Time
}

// CheckOutInput carries a check-out request.
type CheckOutInput struct {
	TenantID string `validate:"required"`
	PersonID string `validate:"required"`
	At       time.Time
}

// CheckIn opens a session for the person's current day bucket, creating the
// day record if absent. The presence tag is added best-effort afterwards.
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (*Record, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()
	at := in.At
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, ErrFutureCheckIn
	}

	day := DayOf(at, s.loc)
	rec, err := s.store.Get(ctx, in.TenantID, in.PersonID, day)
	switch {
	case err == nil:
	case shared.Classify(err) == shared.KindNotFound:
		rec = NewRecord(in.TenantID, in.PersonID, in.DisplayName, day)
		if appendErr := rec.AppendSession(at, now); appendErr != nil {
			return nil, appendErr
		}
		createErr := s.store.Create(ctx, rec)
		if createErr == nil {
			s.syncTag(ctx, in.TenantID, in.PersonID, true)
			return rec, nil
		}
		if !errors.Is(createErr, ErrRecordExists) {
			return nil, createErr
		}
		// Lost the create race to a concurrent first check-in; reload and
		// append to the winner's record.
		rec, err = s.store.Get(ctx, in.TenantID, in.PersonID, day)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if in.DisplayName != "" {
		rec.DisplayName = in.DisplayName
	}
	if err := rec.AppendSession(at, now); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.syncTag(ctx, in.TenantID, in.PersonID, true)
	return rec, nil
}

// CheckOut closes the person's open session. Closing is idempotent at the
// store layer, so a race with the reconciliation sweep cannot double-count.
func (s *Service) CheckOut(ctx context.Context, in CheckOutInput) (*Record, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	now := s.now()
	at := in.At
	if at.IsZero() {
		at = now
	}

	day := DayOf(at, s.loc)
	rec, err := s.store.Get(ctx, in.TenantID, in.PersonID, day)
	if err != nil {
		if shared.Classify(err) == shared.KindNotFound {
			return nil, ErrNotCheckedIn
		}
		return nil, err
	}
	if rec.OpenSession() < 0 {
		return nil, ErrNotCheckedIn
	}

	if _, err := s.store.CloseOpenSessions(ctx, rec.ID, at); err != nil {
		return nil, err
	}
	rec, err = s.store.Get(ctx, in.TenantID, in.PersonID, day)
	if err != nil {
		return nil, err
	}
	s.syncTag(ctx, in.TenantID, in.PersonID, false)
	return rec, nil
}

// syncTag adds or removes the presence tag, best-effort. An unconfigured tag
// or a missing permission downgrades to a warning; session state is already
// persisted and never rolled back for tag trouble.
func (s *Service) syncTag(ctx context.Context, tenantID, personID string, present bool) {
	settings, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		s.log().Warn("presence tag sync: settings lookup failed",
			slog.String("tenant", tenantID), slog.Any("error", err))
		return
	}
	if settings.PresenceTagID == "" {
		s.log().Warn("presence tag not configured, skipping tag sync",
			slog.String("tenant", tenantID))
		return
	}
	var opErr error
	if present {
		opErr = s.gw.AddTag(ctx, tenantID, personID, settings.PresenceTagID)
	} else {
		opErr = s.gw.RemoveTag(ctx, tenantID, personID, settings.PresenceTagID)
	}
	if opErr != nil {
		s.log().Warn("presence tag sync failed",
			slog.String("tenant", tenantID),
			slog.String("person", personID),
			slog.Bool("present", present),
			slog.Any("error", opErr),
		)
	}
}
