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
// GET PROFILE QUERY
// Returns one player's accumulated playtime, level, titles, and top games.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery contains the profile request parameters.
type GetProfileQuery struct {
	// CommunityID identifies the community.
	CommunityID string

	// UserID identifies the player within the community.
	UserID string

	// TopGames is how many per-game rows to include (default 5, maximum 25).
	TopGames int
}

// Validate checks and normalizes the query parameters.
func (q *GetProfileQuery) Validate() error {
	if q.CommunityID == "" {
		return errors.New("community ID cannot be empty")
	}
	if q.UserID == "" {
		return errors.New("user ID cannot be empty")
	}
	if q.TopGames < 0 {
		return errors.New("top games cannot be negative")
	}
	if q.TopGames == 0 {
		q.TopGames = 5
	}
	if q.TopGames > 25 {
		q.TopGames = 25
	}
	return nil
}

// GameTimeDTO is one per-game row of a profile.
type GameTimeDTO struct {
	Game     string `json:"game"`
	Seconds  int64  `json:"seconds"`
	Playtime string `json:"playtime"`
}

// GetProfileResult contains the profile response.
type GetProfileResult struct {
	CommunityID   string `json:"community_id"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	TotalSeconds  int64  `json:"total_seconds"`
	TotalPlaytime string `json:"total_playtime"`
	Level         int    `json:"level"`

	// NextLevelSeconds is the total needed for the next level; omitted at
	// the level cap.
	NextLevelSeconds int64         `json:"next_level_seconds,omitempty"`
	Titles           []string      `json:"titles"`
	TopGames         []GameTimeDTO `json:"top_games"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// ErrProfileNotFound is returned when the player has no tracked playtime.
var ErrProfileNotFound = errors.New("query: profile not found")

// GetProfileHandler serves profile queries.
type GetProfileHandler struct {
	players player.Repository
	cache   ReadCache
	logger  *slog.Logger
}

// NewGetProfileHandler creates a new GetProfileHandler.
func NewGetProfileHandler(players player.Repository, cache ReadCache, logger *slog.Logger) *GetProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetProfileHandler{
		players: players,
		cache:   cache,
		logger:  logger.With("query", "get_profile"),
	}
}

// Handle executes the query.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*GetProfileResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		var cached GetProfileResult
		if h.cache.GetProfile(ctx, q.CommunityID, q.UserID, &cached) {
			return &cached, nil
		}
	}

	key, err := shared.NewPlayerKey(q.UserID, q.CommunityID)
	if err != nil {
		return nil, err
	}

	agg, err := h.players.Get(ctx, key)
	if errors.Is(err, player.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, shared.WrapError("query", "GetProfile",
			shared.ErrServiceUnavailable, "profile read failed", err)
	}

	titles := agg.Titles
	if titles == nil {
		titles = []string{}
	}

	next := player.NextThreshold(agg.TotalSeconds, player.DefaultLevelThresholds)
	if next < 0 {
		next = 0
	}

	result := &GetProfileResult{
		CommunityID:      q.CommunityID,
		UserID:           q.UserID,
		DisplayName:      agg.DisplayName,
		TotalSeconds:     agg.TotalSeconds,
		TotalPlaytime:    timeutil.FormatCompact(agg.TotalSeconds),
		Level:            agg.Level,
		NextLevelSeconds: next,
		Titles:           titles,
		TopGames:         make([]GameTimeDTO, 0, q.TopGames),
		GeneratedAt:      time.Now().UTC(),
	}

	for _, gt := range agg.TopGames(q.TopGames) {
		result.TopGames = append(result.TopGames, GameTimeDTO{
			Game:     gt.Game,
			Seconds:  gt.Seconds,
			Playtime: timeutil.FormatCompact(gt.Seconds),
		})
	}

	if h.cache != nil {
		h.cache.SetProfile(ctx, q.CommunityID, q.UserID, result)
	}

	return result, nil
}
