package gateway

import (
	"context"
	"log/slog"
)

// LogOnly is a stand-in client used until a real chat-platform client is wired
// into the worker. Sends and tag mutations are logged and dropped; every
// capability check passes; lookups resolve to an active tenant with no tag
// holders.
type LogOnly struct {
	Logger *slog.Logger
}

func (l *LogOnly) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Tenant implements Client.
func (l *LogOnly) Tenant(_ context.Context, tenantID string) (Tenant, error) {
	return Tenant{ID: tenantID, Name: tenantID, Active: true}, nil
}

// Member implements Client.
func (l *LogOnly) Member(_ context.Context, _, personID string) (Member, error) {
	return Member{PersonID: personID, DisplayName: personID}, nil
}

// TagHolders implements Client.
func (l *LogOnly) TagHolders(context.Context, string, string) ([]Member, error) {
	return nil, nil
}

// HasCapability implements Client.
func (l *LogOnly) HasCapability(context.Context, string, string, Capability) (bool, error) {
	return true, nil
}

// Send implements Client.
func (l *LogOnly) Send(_ context.Context, tenantID, destinationID string, msg Message) error {
	l.log().Info("gateway send (log only)",
		slog.String("tenant", tenantID),
		slog.String("destination", destinationID),
		slog.String("title", msg.Title),
	)
	return nil
}

// AddTag implements Client.
func (l *LogOnly) AddTag(_ context.Context, tenantID, personID, tagID string) error {
	l.log().Info("gateway add tag (log only)",
		slog.String("tenant", tenantID), slog.String("person", personID), slog.String("tag", tagID))
	return nil
}

// RemoveTag implements Client.
func (l *LogOnly) RemoveTag(_ context.Context, tenantID, personID, tagID string) error {
	l.log().Info("gateway remove tag (log only)",
		slog.String("tenant", tenantID), slog.String("person", personID), slog.String("tag", tagID))
	return nil
}

var _ Client = (*LogOnly)(nil)
