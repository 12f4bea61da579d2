package player

import (
	"context"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// Repository defines persistence for user aggregates. Implemented by the
// infrastructure layer; the domain has no knowledge of the storage engine.
type Repository interface {
	// Get returns the aggregate for a key, or ErrNotFound.
	Get(ctx context.Context, key shared.PlayerKey) (*UserAggregate, error)

	// ApplyDelta atomically adds deltaSeconds to the total and to the
	// per-game counter (creating it at zero if absent), refreshes the
	// display name, and returns the aggregate strictly after the update.
	// The read-after-write is consistent: the returned state reflects this
	// update and any that committed before it.
	ApplyDelta(ctx context.Context, key shared.PlayerKey, displayName, game string, deltaSeconds int64) (*UserAggregate, error)

	// SaveProgression persists a recomputed level and unions new titles
	// into the persisted title set. Idempotent: replaying the same call
	// never produces duplicates or regressions.
	SaveProgression(ctx context.Context, key shared.PlayerKey, level int, newTitles []string) error

	// TopByTotalTime returns up to limit aggregates in a community ordered
	// by total playtime descending.
	TopByTotalTime(ctx context.Context, communityID shared.CommunityID, limit int) ([]*UserAggregate, error)

	// TopByGameTime returns up to limit aggregates in a community ordered
	// by playtime in one game descending. Players who never played the
	// game are excluded.
	TopByGameTime(ctx context.Context, communityID shared.CommunityID, game string, limit int) ([]*UserAggregate, error)
}
