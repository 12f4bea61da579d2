// Package query contains read operations following the CQRS split: queries
// never modify tracking state, they only read aggregates and serve
// leaderboard and profile views. Each query is a self-contained use case
// with its own request/response types.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns the top players of a community, by total playtime or by time in a
// single game. Served cache-aside with a short TTL.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request parameters.
type GetLeaderboardQuery struct {
	// CommunityID identifies the community.
	CommunityID string

	// Game restricts the ranking to one game. Empty means total playtime.
	Game string

	// Limit is the number of entries (default 10, maximum 50).
	Limit int
}

// Validate checks and normalizes the query parameters.
func (q *GetLeaderboardQuery) Validate() error {
	if q.CommunityID == "" {
		return errors.New("community ID cannot be empty")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	if q.Limit > 50 {
		q.Limit = 50
	}
	return nil
}

// LeaderboardEntryDTO is one row of the leaderboard response.
type LeaderboardEntryDTO struct {
	// Rank is the position in the ranking, starting at 1.
	Rank int `json:"rank"`

	// UserID is the player's user ID.
	UserID string `json:"user_id"`

	// DisplayName is the last-seen display name.
	DisplayName string `json:"display_name"`

	// Seconds is the ranked playtime in seconds (total or per game).
	Seconds int64 `json:"seconds"`

	// Playtime is Seconds rendered as "12h 30m".
	Playtime string `json:"playtime"`

	// Level is the player's current level.
	Level int `json:"level"`
}

// GetLeaderboardResult contains the leaderboard response.
type GetLeaderboardResult struct {
	CommunityID string                `json:"community_id"`
	Game        string                `json:"game,omitempty"`
	Entries     []LeaderboardEntryDTO `json:"entries"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler serves leaderboard queries.
type GetLeaderboardHandler struct {
	players player.Repository
	cache   ReadCache
	logger  *slog.Logger
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler. The cache is
// optional; without it every query hits the database.
func NewGetLeaderboardHandler(players player.Repository, cache ReadCache, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		players: players,
		cache:   cache,
		logger:  logger.With("query", "get_leaderboard"),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		var cached GetLeaderboardResult
		if h.cache.GetLeaderboard(ctx, q.CommunityID, q.Game, q.Limit, &cached) {
			return &cached, nil
		}
	}

	communityID := shared.CommunityID(q.CommunityID)

	var (
		aggs []*player.UserAggregate
		err  error
	)
	if q.Game == "" {
		aggs, err = h.players.TopByTotalTime(ctx, communityID, q.Limit)
	} else {
		aggs, err = h.players.TopByGameTime(ctx, communityID, q.Game, q.Limit)
	}
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard",
			shared.ErrServiceUnavailable, "leaderboard read failed", err)
	}

	result := &GetLeaderboardResult{
		CommunityID: q.CommunityID,
		Game:        q.Game,
		Entries:     make([]LeaderboardEntryDTO, 0, len(aggs)),
		GeneratedAt: time.Now().UTC(),
	}

	for i, agg := range aggs {
		seconds := agg.TotalSeconds
		if q.Game != "" {
			seconds = agg.SecondsFor(q.Game)
		}
		result.Entries = append(result.Entries, LeaderboardEntryDTO{
			Rank:        i + 1,
			UserID:      agg.Key.UserID.String(),
			DisplayName: agg.DisplayName,
			Seconds:     seconds,
			Playtime:    timeutil.FormatCompact(seconds),
			Level:       agg.Level,
		})
	}

	if h.cache != nil {
		h.cache.SetLeaderboard(ctx, q.CommunityID, q.Game, q.Limit, result)
	}

	return result, nil
}
