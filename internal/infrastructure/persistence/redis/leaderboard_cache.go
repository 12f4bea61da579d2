package redis

import (
	"context"
	"errors"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ-MODEL CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ReadModelCache provides short-TTL caching for leaderboard and profile
// reads. Leaderboard staleness is bounded only by the TTL, since a
// 30-second-old ranking is acceptable; profile views are additionally
// invalidated on progression changes. The commit path never depends on
// cache availability.
type ReadModelCache struct {
	cache *Cache
}

// NewReadModelCache creates a new ReadModelCache.
func NewReadModelCache(cache *Cache) *ReadModelCache {
	return &ReadModelCache{cache: cache}
}

// GetLeaderboard loads a cached leaderboard page into dest. Returns false on
// a miss or any cache failure; callers fall through to the database.
func (c *ReadModelCache) GetLeaderboard(ctx context.Context, communityID, game string, limit int, dest interface{}) bool {
	err := c.cache.Get(ctx, LeaderboardCacheKey(communityID, game, limit), dest)
	return err == nil
}

// SetLeaderboard caches a leaderboard page. Failures are swallowed.
func (c *ReadModelCache) SetLeaderboard(ctx context.Context, communityID, game string, limit int, value interface{}) {
	_ = c.cache.Set(ctx, LeaderboardCacheKey(communityID, game, limit), value, TTLLeaderboardCache)
}

// GetProfile loads a cached profile view into dest.
func (c *ReadModelCache) GetProfile(ctx context.Context, communityID, userID string, dest interface{}) bool {
	err := c.cache.Get(ctx, ProfileCacheKey(communityID, userID), dest)
	return err == nil
}

// SetProfile caches a profile view. Failures are swallowed.
func (c *ReadModelCache) SetProfile(ctx context.Context, communityID, userID string, value interface{}) {
	_ = c.cache.Set(ctx, ProfileCacheKey(communityID, userID), value, TTLProfileCache)
}

// InvalidateProfile removes a cached profile view, used when a caller needs
// read-your-writes semantics after a progression change.
func (c *ReadModelCache) InvalidateProfile(ctx context.Context, communityID, userID string) error {
	err := c.cache.Delete(ctx, ProfileCacheKey(communityID, userID))
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return err
	}
	return nil
}
