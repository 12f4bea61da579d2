// Package eventhandler contains the domain event handlers. They are the
// reactive part of the system: they consume tracker events from the bus and
// run the outward side effects (log-channel messages, role grants) without
// ever touching the stores that produced the events.
package eventhandler

import "context"

// Notifier delivers human-readable messages to a community's log channel.
type Notifier interface {
	SendCommunityLog(ctx context.Context, communityID, message string) error
}

// RoleGranter assigns a named community role to a user. Implementations must
// tolerate the role already being assigned.
type RoleGranter interface {
	GrantRole(ctx context.Context, communityID, userID, roleName string) error
}

// ProfileCache drops a cached profile view so the next read reflects a
// progression change instead of waiting out the TTL.
type ProfileCache interface {
	InvalidateProfile(ctx context.Context, communityID, userID string) error
}
