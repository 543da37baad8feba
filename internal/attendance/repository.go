package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rollcall-hq/rollcall/internal/shared"
)

// Repository provides persistence for attendance records. Every statement runs
// through the retry executor; transient failures trigger a pool health probe
// before backing off.
type Repository struct {
	pool  *pgxpool.Pool
	retry *shared.Retryer
}

// NewRepository constructs an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	r := &Repository{pool: pool}
	retry := shared.NewRetryer(shared.DefaultStorePolicy)
	retry.OnTransient = r.reconnect
	r.retry = retry
	return r
}

// reconnect probes the pool so a broken connection is discarded before the
// next attempt.
func (r *Repository) reconnect(ctx context.Context) {
	if r.pool == nil {
		return
	}
	_ = r.pool.Ping(ctx)
}

const recordColumns = `id, tenant_id, person_id, display_name, day, sessions, total_minutes, sessions_count, last_session_minutes, created_at, updated_at`

// Create persists a fresh day record. A duplicate (tenant, person, day) key is
// a conflict, surfaced once and never retried.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	const op = "attendance: create record"
	rec.Recompute()
	sessions, err := json.Marshal(rec.Sessions)
	if err != nil {
		return shared.NewError(shared.KindUnexpected, op, err)
	}
	return r.retry.Do(ctx, func(ctx context.Context) error {
		_, execErr := r.pool.Exec(ctx, `
			INSERT INTO attendance_records
				(id, tenant_id, person_id, display_name, day, sessions, total_minutes, sessions_count, last_session_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
			rec.ID, rec.TenantID, rec.PersonID, rec.DisplayName, dateOf(rec.Day), sessions,
			rec.TotalMinutes, rec.SessionsCount, rec.LastSessionMinutes,
		)
		return classify(op, execErr)
	})
}

// Save rewrites the mutable portion of a record. Derived totals are recomputed
// from the full session list before the write; incremental totals are never
// trusted.
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	const op = "attendance: save record"
	rec.Recompute()
	sessions, err := json.Marshal(rec.Sessions)
	if err != nil {
		return shared.NewError(shared.KindUnexpected, op, err)
	}
	return r.retry.Do(ctx, func(ctx context.Context) error {
		_, execErr := r.pool.Exec(ctx, `
			UPDATE attendance_records
			SET sessions = $2, total_minutes = $3, sessions_count = $4, last_session_minutes = $5, updated_at = now()
			WHERE id = $1`,
			rec.ID, sessions, rec.TotalMinutes, rec.SessionsCount, rec.LastSessionMinutes,
		)
		return classify(op, execErr)
	})
}

// Get fetches the record for the (tenant, person, day) key.
func (r *Repository) Get(ctx context.Context, tenantID, personID string, day time.Time) (*Record, error) {
	const op = "attendance: get record"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (*Record, error) {
		row := r.pool.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE tenant_id = $1 AND person_id = $2 AND day = $3`,
			tenantID, personID, dateOf(day),
		)
		rec, err := scanRecord(row)
		if err != nil {
			return nil, classify(op, err)
		}
		return rec, nil
	})
}

// FindOpenForDay returns every record for the tenant's day bucket that still
// has an open session.
func (r *Repository) FindOpenForDay(ctx context.Context, tenantID string, day time.Time) ([]*Record, error) {
	const op = "attendance: find open sessions"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) ([]*Record, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE tenant_id = $1 AND day = $2
			  AND EXISTS (
				SELECT 1 FROM jsonb_array_elements(sessions) s
				WHERE s->>'check_out' IS NULL
			  )
			ORDER BY person_id`,
			tenantID, dateOf(day),
		)
		if err != nil {
			return nil, classify(op, err)
		}
		defer rows.Close()
		return collectRecords(op, rows)
	})
}

// FindInRange returns the tenant's records whose day bucket falls in
// [start, end). An empty personID matches everyone.
func (r *Repository) FindInRange(ctx context.Context, tenantID, personID string, start, end time.Time) ([]*Record, error) {
	const op = "attendance: find records in range"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) ([]*Record, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE tenant_id = $1
			  AND ($2 = '' OR person_id = $2)
			  AND day >= $3 AND day < $4
			ORDER BY day, person_id`,
			tenantID, personID, dateOf(start), dateOf(end),
		)
		if err != nil {
			return nil, classify(op, err)
		}
		defer rows.Close()
		return collectRecords(op, rows)
	})
}

// CloseOpenSessions force-closes every open session of the record at the given
// time and returns how many were closed. The row is locked and re-read first:
// a session closed by a racing caller is left alone and the call is a no-op
// success, which keeps reconciliation idempotent.
func (r *Repository) CloseOpenSessions(ctx context.Context, recordID uuid.UUID, at time.Time) (int, error) {
	const op = "attendance: close session"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (int, error) {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return 0, classify(op, err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM attendance_records
			WHERE id = $1
			FOR UPDATE`, recordID)
		rec, err := scanRecord(row)
		if err != nil {
			return 0, classify(op, err)
		}

		closed, err := rec.ForceCloseOpenSessions(at)
		if err != nil {
			return 0, classify(op, err)
		}
		if closed == 0 {
			return 0, nil
		}

		sessions, err := json.Marshal(rec.Sessions)
		if err != nil {
			return 0, shared.NewError(shared.KindUnexpected, op, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE attendance_records
			SET sessions = $2, total_minutes = $3, sessions_count = $4, last_session_minutes = $5, updated_at = now()
			WHERE id = $1`,
			rec.ID, sessions, rec.TotalMinutes, rec.SessionsCount, rec.LastSessionMinutes,
		); err != nil {
			return 0, classify(op, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, classify(op, err)
		}
		return closed, nil
	})
}

func dateOf(day time.Time) pgtype.Date {
	return pgtype.Date{Time: day, Valid: true}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec      Record
		day      pgtype.Date
		sessions []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.PersonID, &rec.DisplayName, &day, &sessions,
		&rec.TotalMinutes, &rec.SessionsCount, &rec.LastSessionMinutes,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Day = day.Time
	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &rec.Sessions); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func collectRecords(op string, rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// classify maps driver failures onto the closed error taxonomy at the store
// boundary, so nothing downstream matches on strings.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *shared.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewError(shared.KindNotFound, op, err)
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrCloseBeforeCheckIn) {
		return shared.NewError(shared.KindConflict, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return shared.NewError(shared.KindConflict, op, ErrRecordExists)
		}
		return shared.NewError(shared.KindUnexpected, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return shared.NewError(shared.KindTransient, op, err)
	}
	return shared.NewError(shared.KindUnexpected, op, err)
}
