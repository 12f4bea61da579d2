package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLAYER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PlayerRepository implements player.Repository for PostgreSQL.
type PlayerRepository struct {
	conn *Connection
}

// NewPlayerRepository creates a new PlayerRepository.
func NewPlayerRepository(conn *Connection) *PlayerRepository {
	return &PlayerRepository{conn: conn}
}

const aggregateColumns = `user_id, community_id, display_name, total_seconds, game_seconds, level, titles, created_at, updated_at`

// applyDeltaSQL increments the total and the per-game counter in a single
// upsert. RETURNING yields the post-update row, so the read-after-write the
// milestone evaluator depends on is consistent by construction.
const applyDeltaSQL = `
	INSERT INTO user_aggregates (user_id, community_id, display_name, total_seconds, game_seconds)
	VALUES ($1, $2, $3, $4, jsonb_build_object($5::text, $4::bigint))
	ON CONFLICT (user_id, community_id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		total_seconds = user_aggregates.total_seconds + EXCLUDED.total_seconds,
		game_seconds = jsonb_set(
			user_aggregates.game_seconds,
			ARRAY[$5::text],
			to_jsonb(COALESCE((user_aggregates.game_seconds->>$5)::bigint, 0) + $4::bigint)
		),
		updated_at = NOW()
	RETURNING ` + aggregateColumns

// Get returns the aggregate for a key.
func (r *PlayerRepository) Get(ctx context.Context, key shared.PlayerKey) (*player.UserAggregate, error) {
	var agg *player.UserAggregate
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		row := r.conn.QueryRow(ctx, `
			SELECT `+aggregateColumns+`
			FROM user_aggregates
			WHERE user_id = $1 AND community_id = $2
		`, key.UserID.String(), key.CommunityID.String())

		var err error
		agg, err = scanAggregate(row)
		return err
	})
	if IsNoRows(err) {
		return nil, player.ErrNotFound
	}
	if err != nil {
		return nil, shared.WrapError("player", "Get",
			shared.ErrStoreUnavailable, "failed to get aggregate", err)
	}
	return agg, nil
}

// ApplyDelta atomically applies a playtime delta and returns the aggregate
// strictly after the update.
func (r *PlayerRepository) ApplyDelta(ctx context.Context, key shared.PlayerKey, displayName, game string, deltaSeconds int64) (*player.UserAggregate, error) {
	if deltaSeconds < 0 {
		return nil, player.ErrNegativeDelta
	}

	var agg *player.UserAggregate
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		row := r.conn.QueryRow(ctx, applyDeltaSQL,
			key.UserID.String(),
			key.CommunityID.String(),
			displayName,
			deltaSeconds,
			game,
		)

		var err error
		agg, err = scanAggregate(row)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("player", "ApplyDelta",
			shared.ErrStoreUnavailable, "failed to apply delta", err)
	}
	return agg, nil
}

// SaveProgression persists a recomputed level and unions new titles into the
// persisted set. GREATEST and the jsonb union make the statement idempotent
// and monotonic: replays never regress a level or duplicate a title.
func (r *PlayerRepository) SaveProgression(ctx context.Context, key shared.PlayerKey, level int, newTitles []string) error {
	if newTitles == nil {
		newTitles = []string{}
	}
	titlesJSON, err := json.Marshal(newTitles)
	if err != nil {
		return fmt.Errorf("failed to marshal titles: %w", err)
	}

	err = r.conn.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, `
			UPDATE user_aggregates SET
				level = GREATEST(level, $3),
				titles = (
					SELECT COALESCE(jsonb_agg(DISTINCT val), '[]'::jsonb)
					FROM jsonb_array_elements_text(titles || $4::jsonb) AS val
				),
				updated_at = NOW()
			WHERE user_id = $1 AND community_id = $2
		`,
			key.UserID.String(),
			key.CommunityID.String(),
			level,
			titlesJSON,
		)
		return err
	})
	if err != nil {
		return shared.WrapError("player", "SaveProgression",
			shared.ErrStoreUnavailable, "failed to save progression", err)
	}
	return nil
}

// TopByTotalTime returns the community leaderboard by total playtime.
func (r *PlayerRepository) TopByTotalTime(ctx context.Context, communityID shared.CommunityID, limit int) ([]*player.UserAggregate, error) {
	var aggs []*player.UserAggregate
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, `
			SELECT `+aggregateColumns+`
			FROM user_aggregates
			WHERE community_id = $1 AND total_seconds > 0
			ORDER BY total_seconds DESC, user_id ASC
			LIMIT $2
		`, communityID.String(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		aggs, err = scanAggregates(rows)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("player", "TopByTotalTime",
			shared.ErrStoreUnavailable, "failed to query leaderboard", err)
	}
	return aggs, nil
}

// TopByGameTime returns the community leaderboard for a single game.
func (r *PlayerRepository) TopByGameTime(ctx context.Context, communityID shared.CommunityID, game string, limit int) ([]*player.UserAggregate, error) {
	var aggs []*player.UserAggregate
	err := r.conn.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.conn.Query(ctx, `
			SELECT `+aggregateColumns+`
			FROM user_aggregates
			WHERE community_id = $1 AND game_seconds ? $2
			ORDER BY (game_seconds->>$2)::bigint DESC, user_id ASC
			LIMIT $3
		`, communityID.String(), game, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		aggs, err = scanAggregates(rows)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("player", "TopByGameTime",
			shared.ErrStoreUnavailable, "failed to query game leaderboard", err)
	}
	return aggs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanAggregate(row pgx.Row) (*player.UserAggregate, error) {
	var (
		userID, communityID string
		gameSecondsRaw      []byte
		titlesRaw           []byte
		agg                 player.UserAggregate
	)

	err := row.Scan(
		&userID,
		&communityID,
		&agg.DisplayName,
		&agg.TotalSeconds,
		&gameSecondsRaw,
		&agg.Level,
		&titlesRaw,
		&agg.CreatedAt,
		&agg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	agg.Key = shared.PlayerKey{
		UserID:      shared.UserID(userID),
		CommunityID: shared.CommunityID(communityID),
	}
	if err := json.Unmarshal(gameSecondsRaw, &agg.GameSeconds); err != nil {
		return nil, fmt.Errorf("failed to decode game_seconds: %w", err)
	}
	if err := json.Unmarshal(titlesRaw, &agg.Titles); err != nil {
		return nil, fmt.Errorf("failed to decode titles: %w", err)
	}
	return &agg, nil
}

func scanAggregates(rows pgx.Rows) ([]*player.UserAggregate, error) {
	var aggs []*player.UserAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}
