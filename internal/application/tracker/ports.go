package tracker

import (
	"context"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// EndCommit is the result of committing a session end: the deleted session's
// identity plus the aggregate state strictly after the delta was applied.
type EndCommit struct {
	Game            string
	ChannelLabel    string
	StartedAt       time.Time
	DurationSeconds int64
	Aggregate       *player.UserAggregate
}

// EndCommitter atomically ends an in-flight session: it deletes the session
// record and applies the elapsed duration to the aggregate as one unit. The
// deletion is the idempotency guard: if no record exists the commit must
// return session.ErrNoActiveSession and touch nothing, so that duplicate end
// triggers (voice-leave plus activity-clear for the same real-world change)
// can never double-apply a delta.
type EndCommitter interface {
	CommitEnd(ctx context.Context, key shared.PlayerKey, displayName string, endedAt time.Time) (*EndCommit, error)
}

// PresenceSnapshot is the advisory view of a user's live voice membership
// and last-observed game. It mirrors transport events; it is never used to
// compute durations.
type PresenceSnapshot struct {
	InVoice      bool
	ChannelLabel string
	Game         string
	UpdatedAt    time.Time
}

// VoicePresence mirrors live voice membership and last-observed activity per
// key. Backed by Redis; a miss or failure is survivable because every
// inbound event also carries the transport's own view.
type VoicePresence interface {
	// SetVoiceState records a voice join or leave.
	SetVoiceState(ctx context.Context, key shared.PlayerKey, inVoice bool, channelLabel string) error

	// SetCurrentGame records the game from the latest activity observation
	// ("" when no game is reported).
	SetCurrentGame(ctx context.Context, key shared.PlayerKey, game string) error

	// Snapshot returns the current presence view, or nil when nothing is
	// known about the key.
	Snapshot(ctx context.Context, key shared.PlayerKey) (*PresenceSnapshot, error)
}

// EventPublisher publishes domain events for the notification and role
// side-effect handlers. Publishing is fire-and-forget from the tracker's
// point of view.
type EventPublisher interface {
	Publish(event shared.Event) error
}
