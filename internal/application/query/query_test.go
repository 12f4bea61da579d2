package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/internal/infrastructure/persistence/redis"
)

const (
	testUserID      = "123456789012345678"
	testCommunityID = "987654321098765432"
)

var _ ReadCache = (*redis.ReadModelCache)(nil)

type fakePlayers struct {
	aggs  []*player.UserAggregate
	calls int32
}

func (f *fakePlayers) Get(_ context.Context, key shared.PlayerKey) (*player.UserAggregate, error) {
	atomic.AddInt32(&f.calls, 1)
	for _, agg := range f.aggs {
		if agg.Key == key {
			return agg, nil
		}
	}
	return nil, player.ErrNotFound
}

func (f *fakePlayers) ApplyDelta(context.Context, shared.PlayerKey, string, string, int64) (*player.UserAggregate, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePlayers) SaveProgression(context.Context, shared.PlayerKey, int, []string) error {
	return nil
}

func (f *fakePlayers) TopByTotalTime(_ context.Context, _ shared.CommunityID, limit int) ([]*player.UserAggregate, error) {
	atomic.AddInt32(&f.calls, 1)
	if len(f.aggs) > limit {
		return f.aggs[:limit], nil
	}
	return f.aggs, nil
}

func (f *fakePlayers) TopByGameTime(_ context.Context, _ shared.CommunityID, game string, limit int) ([]*player.UserAggregate, error) {
	atomic.AddInt32(&f.calls, 1)
	var out []*player.UserAggregate
	for _, agg := range f.aggs {
		if agg.SecondsFor(game) > 0 {
			out = append(out, agg)
		}
	}
	return out, nil
}

func queryTestKey(t *testing.T) shared.PlayerKey {
	t.Helper()
	key, err := shared.NewPlayerKey(testUserID, testCommunityID)
	require.NoError(t, err)
	return key
}

func seededPlayers(t *testing.T) *fakePlayers {
	t.Helper()
	return &fakePlayers{aggs: []*player.UserAggregate{
		{
			Key:          queryTestKey(t),
			DisplayName:  "Alice",
			TotalSeconds: 7530,
			GameSeconds:  map[string]int64{"Factorio": 7000, "Dota 2": 530},
			Level:        5,
			Titles:       []string{"Professional Gamer"},
		},
	}}
}

func newReadCache(t *testing.T) *redis.ReadModelCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewReadModelCache(redis.NewCacheFromClient(client))
}

// ─────────────────────────────────────────────────────────────────────────────
// Leaderboard
// ─────────────────────────────────────────────────────────────────────────────

func TestGetLeaderboard_TotalTime(t *testing.T) {
	h := NewGetLeaderboardHandler(seededPlayers(t), nil, nil)

	result, err := h.Handle(context.Background(), GetLeaderboardQuery{CommunityID: testCommunityID})
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	assert.Equal(t, 1, entry.Rank)
	assert.Equal(t, testUserID, entry.UserID)
	assert.Equal(t, int64(7530), entry.Seconds)
	assert.Equal(t, "2h 5m", entry.Playtime)
	assert.Equal(t, 5, entry.Level)
}

func TestGetLeaderboard_PerGameUsesGameSeconds(t *testing.T) {
	h := NewGetLeaderboardHandler(seededPlayers(t), nil, nil)

	result, err := h.Handle(context.Background(), GetLeaderboardQuery{
		CommunityID: testCommunityID,
		Game:        "Dota 2",
	})
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, int64(530), result.Entries[0].Seconds,
		"per-game boards rank by the game's counter, not the total")
}

func TestGetLeaderboard_Validation(t *testing.T) {
	h := NewGetLeaderboardHandler(seededPlayers(t), nil, nil)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	assert.Error(t, err, "community ID is required")

	q := GetLeaderboardQuery{CommunityID: testCommunityID, Limit: 500}
	require.NoError(t, q.Validate())
	assert.Equal(t, 50, q.Limit, "limit is capped")

	q = GetLeaderboardQuery{CommunityID: testCommunityID}
	require.NoError(t, q.Validate())
	assert.Equal(t, 10, q.Limit, "limit defaults")
}

func TestGetLeaderboard_CacheAvoidsSecondRead(t *testing.T) {
	players := seededPlayers(t)
	h := NewGetLeaderboardHandler(players, newReadCache(t), nil)

	q := GetLeaderboardQuery{CommunityID: testCommunityID}
	first, err := h.Handle(context.Background(), q)
	require.NoError(t, err)

	second, err := h.Handle(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&players.calls),
		"the second request is served from cache")
	assert.Equal(t, first.Entries, second.Entries)
}

// ─────────────────────────────────────────────────────────────────────────────
// Profile
// ─────────────────────────────────────────────────────────────────────────────

func TestGetProfile(t *testing.T) {
	h := NewGetProfileHandler(seededPlayers(t), nil, nil)

	result, err := h.Handle(context.Background(), GetProfileQuery{
		CommunityID: testCommunityID,
		UserID:      testUserID,
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice", result.DisplayName)
	assert.Equal(t, int64(7530), result.TotalSeconds)
	assert.Equal(t, "2h 5m", result.TotalPlaytime)
	assert.Equal(t, 5, result.Level)
	assert.Equal(t, int64(18000), result.NextLevelSeconds)
	assert.Equal(t, []string{"Professional Gamer"}, result.Titles)

	require.Len(t, result.TopGames, 2)
	assert.Equal(t, "Factorio", result.TopGames[0].Game)
	assert.Equal(t, "Dota 2", result.TopGames[1].Game)
}

func TestGetProfile_NotFound(t *testing.T) {
	h := NewGetProfileHandler(&fakePlayers{}, nil, nil)

	_, err := h.Handle(context.Background(), GetProfileQuery{
		CommunityID: testCommunityID,
		UserID:      testUserID,
	})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestGetProfile_NextLevelOmittedAtCap(t *testing.T) {
	players := seededPlayers(t)
	players.aggs[0].TotalSeconds = 500000
	players.aggs[0].Level = 10
	h := NewGetProfileHandler(players, nil, nil)

	result, err := h.Handle(context.Background(), GetProfileQuery{
		CommunityID: testCommunityID,
		UserID:      testUserID,
	})
	require.NoError(t, err)
	assert.Zero(t, result.NextLevelSeconds)
}

func TestGetProfile_CacheAvoidsSecondRead(t *testing.T) {
	players := seededPlayers(t)
	h := NewGetProfileHandler(players, newReadCache(t), nil)

	q := GetProfileQuery{CommunityID: testCommunityID, UserID: testUserID}
	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&players.calls))
}
