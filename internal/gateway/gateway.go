// Package gateway defines the chat-platform surface the core consumes. The
// concrete client lives outside this module; everything here is the contract
// plus the error taxonomy produced at that boundary.
package gateway

import (
	"context"
)

// Capability is a permission the client may or may not hold on a destination.
type Capability string

const (
	// CapabilitySendMessages allows posting to a destination channel.
	CapabilitySendMessages Capability = "send_messages"
	// CapabilityManageTags allows adding and removing membership tags.
	CapabilityManageTags Capability = "manage_tags"
)

// Tenant is the resolved platform view of a community the process serves.
type Tenant struct {
	ID     string
	Name   string
	Active bool
}

// Member is a person inside a tenant.
type Member struct {
	PersonID    string
	DisplayName string
	Tags        []string
}

// HasTag reports whether the member currently holds the tag.
func (m Member) HasTag(tagID string) bool {
	for _, t := range m.Tags {
		if t == tagID {
			return true
		}
	}
	return false
}

// Message is a formatted notification for a destination channel.
type Message struct {
	Title string
	Body  string
}

// Client is the call surface of the chat platform.
type Client interface {
	// Tenant resolves a tenant by id. Absent or inactive memberships surface
	// as KindNotFound.
	Tenant(ctx context.Context, tenantID string) (Tenant, error)
	// Member fetches one person inside a tenant.
	Member(ctx context.Context, tenantID, personID string) (Member, error)
	// TagHolders lists every member currently holding the tag.
	TagHolders(ctx context.Context, tenantID, tagID string) ([]Member, error)
	// HasCapability checks a permission for a destination.
	HasCapability(ctx context.Context, tenantID, destinationID string, cap Capability) (bool, error)
	// Send posts a message to a destination channel.
	Send(ctx context.Context, tenantID, destinationID string, msg Message) error
	// AddTag attaches a membership tag to a person.
	AddTag(ctx context.Context, tenantID, personID, tagID string) error
	// RemoveTag detaches a membership tag from a person.
	RemoveTag(ctx context.Context, tenantID, personID, tagID string) error
}
