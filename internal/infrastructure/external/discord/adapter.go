package discord

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLER ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// Adapter exposes the client through the narrow interfaces the event
// handlers depend on (eventhandler.Notifier and eventhandler.RoleGranter).
// A Discord guild maps one-to-one onto a community, so the community ID is
// used directly as the guild ID.
type Adapter struct {
	client *Client
}

// NewAdapter creates a new Adapter.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// SendCommunityLog posts a message to the community's log channel.
func (a *Adapter) SendCommunityLog(ctx context.Context, communityID, message string) error {
	return a.client.SendLogMessage(ctx, communityID, message)
}

// GrantRole assigns the named role to a community member.
func (a *Adapter) GrantRole(ctx context.Context, communityID, userID, roleName string) error {
	return a.client.GrantRoleByName(ctx, communityID, userID, roleName)
}
