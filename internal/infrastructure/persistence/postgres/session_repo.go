package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/session"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Store for PostgreSQL. Every statement
// operates on the (user_id, community_id) primary key, so per-key operations
// are atomic at the row level.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

// Begin idempotently replaces any prior in-flight session for the key.
func (r *SessionRepository) Begin(ctx context.Context, key shared.PlayerKey, game string, startedAt time.Time, channelLabel string) error {
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, `
			INSERT INTO play_sessions (user_id, community_id, game, channel_label, started_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, community_id) DO UPDATE SET
				game = EXCLUDED.game,
				channel_label = EXCLUDED.channel_label,
				started_at = EXCLUDED.started_at
		`,
			key.UserID.String(),
			key.CommunityID.String(),
			game,
			channelLabel,
			startedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return shared.WrapError("session", "Begin",
			shared.ErrStoreUnavailable, "failed to begin session", err)
	}
	return nil
}

// Get returns the in-flight session for the key.
func (r *SessionRepository) Get(ctx context.Context, key shared.PlayerKey) (*session.InFlightSession, error) {
	s := session.InFlightSession{Key: key}
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		row := r.conn.QueryRow(ctx, `
			SELECT game, channel_label, started_at
			FROM play_sessions
			WHERE user_id = $1 AND community_id = $2
		`, key.UserID.String(), key.CommunityID.String())
		return row.Scan(&s.Game, &s.ChannelLabel, &s.StartedAt)
	})
	if IsNoRows(err) {
		return nil, session.ErrNoActiveSession
	}
	if err != nil {
		return nil, shared.WrapError("session", "Get",
			shared.ErrStoreUnavailable, "failed to get session", err)
	}
	s.StartedAt = s.StartedAt.UTC()
	return &s, nil
}

// End removes the in-flight session record; no-op if absent.
func (r *SessionRepository) End(ctx context.Context, key shared.PlayerKey) error {
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, `
			DELETE FROM play_sessions
			WHERE user_id = $1 AND community_id = $2
		`, key.UserID.String(), key.CommunityID.String())
		return err
	})
	if err != nil {
		return shared.WrapError("session", "End",
			shared.ErrStoreUnavailable, "failed to end session", err)
	}
	return nil
}

// ListStale returns sessions started before the cutoff, oldest first.
func (r *SessionRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*session.InFlightSession, error) {
	var sessions []*session.InFlightSession
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, `
			SELECT user_id, community_id, game, channel_label, started_at
			FROM play_sessions
			WHERE started_at < $1
			ORDER BY started_at ASC
			LIMIT $2
		`, olderThan.UTC(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions = sessions[:0]
		for rows.Next() {
			var userID, communityID string
			s := &session.InFlightSession{}
			if err := rows.Scan(&userID, &communityID, &s.Game, &s.ChannelLabel, &s.StartedAt); err != nil {
				return fmt.Errorf("failed to scan session row: %w", err)
			}
			s.Key = shared.PlayerKey{
				UserID:      shared.UserID(userID),
				CommunityID: shared.CommunityID(communityID),
			}
			s.StartedAt = s.StartedAt.UTC()
			sessions = append(sessions, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, shared.WrapError("session", "ListStale",
			shared.ErrStoreUnavailable, "failed to list stale sessions", err)
	}
	return sessions, nil
}
