package session

import (
	"context"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// Store defines the durable record of in-flight sessions. Implementations
// must behave as if every operation on the same key executed under mutual
// exclusion: concurrent Begin/End for one key never interleave partially.
// The tracker additionally serializes per key, so single-row statements on
// the primary key are sufficient in practice.
type Store interface {
	// Begin idempotently replaces any prior in-flight session for the key
	// with a new one (last-write-wins, no merge).
	Begin(ctx context.Context, key shared.PlayerKey, game string, startedAt time.Time, channelLabel string) error

	// Get returns the in-flight session for the key, or ErrNoActiveSession.
	Get(ctx context.Context, key shared.PlayerKey) (*InFlightSession, error)

	// End removes the in-flight session record. Removing an absent record
	// is a no-op, not an error: duplicate end triggers are expected.
	End(ctx context.Context, key shared.PlayerKey) error

	// ListStale returns sessions whose start time is older than the cutoff.
	// Used by the janitor to reap sessions orphaned by missed leave events.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*InFlightSession, error)
}
