package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gametime-hub/gametime-tracker/internal/application/tracker"
	"github.com/gametime-hub/gametime-tracker/internal/domain/session"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATOMIC END-OF-SESSION COMMIT
// ══════════════════════════════════════════════════════════════════════════════

// EndCommitStore implements tracker.EndCommitter. Deleting the session row
// and applying the elapsed duration to the aggregate happen in one
// transaction: either both take effect or neither does. The DELETE with
// RETURNING doubles as the idempotency guard, since a second commit for the
// same key finds no row and returns session.ErrNoActiveSession without
// touching the aggregate.
type EndCommitStore struct {
	conn *Connection
}

// NewEndCommitStore creates a new EndCommitStore.
func NewEndCommitStore(conn *Connection) *EndCommitStore {
	return &EndCommitStore{conn: conn}
}

// CommitEnd deletes the in-flight session for the key and applies its
// elapsed duration to the aggregate, returning the post-commit state.
func (s *EndCommitStore) CommitEnd(ctx context.Context, key shared.PlayerKey, displayName string, endedAt time.Time) (*tracker.EndCommit, error) {
	var commit *tracker.EndCommit

	// Replaying the whole transaction after a transient failure is safe:
	// the DELETE guard means a replay of an already-committed end finds no
	// row and surfaces ErrNoActiveSession instead of a second delta.
	err := s.conn.withRetry(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
			var (
				game         string
				channelLabel string
				startedAt    time.Time
			)
			err := tx.QueryRow(ctx, `
				DELETE FROM play_sessions
				WHERE user_id = $1 AND community_id = $2
				RETURNING game, channel_label, started_at
			`, key.UserID.String(), key.CommunityID.String()).
				Scan(&game, &channelLabel, &startedAt)
			if IsNoRows(err) {
				return session.ErrNoActiveSession
			}
			if err != nil {
				return err
			}
			startedAt = startedAt.UTC()

			// Clock skew between the recorded start and the observed end
			// must never produce a negative delta.
			duration := timeutil.SecondsBetween(startedAt, endedAt.UTC())

			agg, err := scanAggregate(tx.QueryRow(ctx, applyDeltaSQL,
				key.UserID.String(),
				key.CommunityID.String(),
				displayName,
				duration,
				game,
			))
			if err != nil {
				return err
			}

			commit = &tracker.EndCommit{
				Game:            game,
				ChannelLabel:    channelLabel,
				StartedAt:       startedAt,
				DurationSeconds: duration,
				Aggregate:       agg,
			}
			return nil
		})
	})
	if errors.Is(err, session.ErrNoActiveSession) {
		return nil, session.ErrNoActiveSession
	}
	if err != nil {
		return nil, shared.WrapError("session", "CommitEnd",
			shared.ErrStoreUnavailable, "failed to commit session end", err)
	}
	return commit, nil
}
