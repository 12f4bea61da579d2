package query

import "context"

// ReadCache is the optional read-model cache consulted before the database.
// Get methods report a hit by returning true after loading dest; misses and
// cache failures both read as false so callers fall through to the source
// of truth. Set methods are fire-and-forget.
type ReadCache interface {
	GetLeaderboard(ctx context.Context, communityID, game string, limit int, dest interface{}) bool
	SetLeaderboard(ctx context.Context, communityID, game string, limit int, value interface{})
	GetProfile(ctx context.Context, communityID, userID string, dest interface{}) bool
	SetProfile(ctx context.Context, communityID, userID string, value interface{})
}
