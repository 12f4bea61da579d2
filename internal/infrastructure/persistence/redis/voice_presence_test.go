package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCacheFromClient(client), mr
}

func presenceTestKey(t *testing.T) shared.PlayerKey {
	t.Helper()
	key, err := shared.NewPlayerKey("123456789012345678", "987654321098765432")
	require.NoError(t, err)
	return key
}

func TestVoicePresenceMirror_JoinAndSnapshot(t *testing.T) {
	cache, _ := newTestCache(t)
	mirror := NewVoicePresenceMirror(cache)
	key := presenceTestKey(t)
	ctx := context.Background()

	require.NoError(t, mirror.SetVoiceState(ctx, key, true, "General"))

	snap, err := mirror.Snapshot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.InVoice)
	assert.Equal(t, "General", snap.ChannelLabel)
	assert.Empty(t, snap.Game)
}

func TestVoicePresenceMirror_LeaveClearsChannelKeepsGame(t *testing.T) {
	cache, _ := newTestCache(t)
	mirror := NewVoicePresenceMirror(cache)
	key := presenceTestKey(t)
	ctx := context.Background()

	require.NoError(t, mirror.SetVoiceState(ctx, key, true, "General"))
	require.NoError(t, mirror.SetCurrentGame(ctx, key, "Factorio"))
	require.NoError(t, mirror.SetVoiceState(ctx, key, false, ""))

	snap, err := mirror.Snapshot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.False(t, snap.InVoice)
	assert.Empty(t, snap.ChannelLabel)
	assert.Equal(t, "Factorio", snap.Game, "the last-observed game survives a voice leave")
}

func TestVoicePresenceMirror_UnknownKeyReturnsNil(t *testing.T) {
	cache, _ := newTestCache(t)
	mirror := NewVoicePresenceMirror(cache)
	ctx := context.Background()

	snap, err := mirror.Snapshot(ctx, presenceTestKey(t))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestVoicePresenceMirror_EntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	mirror := NewVoicePresenceMirror(cache)
	key := presenceTestKey(t)
	ctx := context.Background()

	require.NoError(t, mirror.SetVoiceState(ctx, key, true, "General"))

	mr.FastForward(TTLPresence + time.Minute)

	snap, err := mirror.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, snap, "expired entries read as unknown, not as stale truth")
}

func TestVoicePresenceMirror_GameChangeOverwrites(t *testing.T) {
	cache, _ := newTestCache(t)
	mirror := NewVoicePresenceMirror(cache)
	key := presenceTestKey(t)
	ctx := context.Background()

	require.NoError(t, mirror.SetCurrentGame(ctx, key, "Factorio"))
	require.NoError(t, mirror.SetCurrentGame(ctx, key, ""))

	snap, err := mirror.Snapshot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap.Game)
}
