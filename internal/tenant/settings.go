// Package tenant provides read access to per-tenant routing configuration.
package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rollcall-hq/rollcall/internal/shared"
)

// Settings is the per-tenant routing configuration. Empty ids mean the tenant
// has not configured that piece; callers degrade to skip-and-warn, they never
// fall back to name matching.
type Settings struct {
	TenantID      string
	PresenceTagID string
	LogChannelID  string
}

// Configured reports whether any routing is set at all.
func (s Settings) Configured() bool {
	return s.PresenceTagID != "" || s.LogChannelID != ""
}

// Repository reads and writes tenant settings rows.
type Repository struct {
	pool  *pgxpool.Pool
	retry *shared.Retryer
}

// NewRepository constructs a tenant settings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, retry: shared.NewRetryer(shared.DefaultStorePolicy)}
}

// Get returns the settings for a tenant. An absent row is not an error: the
// zero-valued Settings is returned so callers hit their skip paths.
func (r *Repository) Get(ctx context.Context, tenantID string) (Settings, error) {
	const op = "tenant: get settings"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) (Settings, error) {
		s := Settings{TenantID: tenantID}
		err := r.pool.QueryRow(ctx, `
			SELECT presence_tag_id, log_channel_id
			FROM tenant_settings
			WHERE tenant_id = $1`, tenantID,
		).Scan(&s.PresenceTagID, &s.LogChannelID)
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{TenantID: tenantID}, nil
		}
		if err != nil {
			return Settings{}, shared.NewError(shared.KindUnexpected, op, err)
		}
		return s, nil
	})
}

// Upsert stores the settings row for a tenant.
func (r *Repository) Upsert(ctx context.Context, s Settings) error {
	const op = "tenant: upsert settings"
	return r.retry.Do(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO tenant_settings (tenant_id, presence_tag_id, log_channel_id, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (tenant_id)
			DO UPDATE SET presence_tag_id = $2, log_channel_id = $3, updated_at = now()`,
			s.TenantID, s.PresenceTagID, s.LogChannelID,
		)
		if err != nil {
			return shared.NewError(shared.KindUnexpected, op, err)
		}
		return nil
	})
}

// ListTenantIDs returns every tenant the process currently serves.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]string, error) {
	const op = "tenant: list tenants"
	return shared.DoValue(ctx, r.retry, func(ctx context.Context) ([]string, error) {
		rows, err := r.pool.Query(ctx, `SELECT tenant_id FROM tenant_settings ORDER BY tenant_id`)
		if err != nil {
			return nil, shared.NewError(shared.KindUnexpected, op, err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, shared.NewError(shared.KindUnexpected, op, err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, shared.NewError(shared.KindUnexpected, op, err)
		}
		return ids, nil
	})
}
