package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TenantLister enumerates the tenants the process currently serves.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// resolveTenants expands a payload to the tenant ids a run should cover.
func resolveTenants(ctx context.Context, lister TenantLister, payload TenantPayload) ([]string, error) {
	if payload.TenantID != "" && payload.TenantID != TenantAll {
		return []string{payload.TenantID}, nil
	}
	return lister.ListTenantIDs(ctx)
}

func decodePayload(task *asynq.Task) (TenantPayload, error) {
	var payload TenantPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TenantPayload{}, err
	}
	if payload.TenantID == "" {
		payload.TenantID = TenantAll
	}
	return payload, nil
}
