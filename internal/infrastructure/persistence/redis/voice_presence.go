package redis

import (
	"context"
	"errors"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/application/tracker"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE PRESENCE MIRROR
// ══════════════════════════════════════════════════════════════════════════════

// VoicePresenceMirror implements tracker.VoicePresence. It keeps one JSON
// entry per (user, community) reflecting the latest voice transition and
// activity observation. The mirror is advisory: entries expire after
// TTLPresence and a miss degrades to the flag the transport stamped on the
// event, so losing Redis never loses playtime.
type VoicePresenceMirror struct {
	cache *Cache
	clock func() time.Time
}

// presenceEntry is the stored form of a presence snapshot.
type presenceEntry struct {
	InVoice      bool      `json:"in_voice"`
	ChannelLabel string    `json:"channel_label,omitempty"`
	Game         string    `json:"game,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewVoicePresenceMirror creates a new VoicePresenceMirror.
func NewVoicePresenceMirror(cache *Cache) *VoicePresenceMirror {
	return &VoicePresenceMirror{cache: cache, clock: time.Now}
}

// SetVoiceState records a voice join or leave, preserving the last-observed
// game across the transition.
func (m *VoicePresenceMirror) SetVoiceState(ctx context.Context, key shared.PlayerKey, inVoice bool, channelLabel string) error {
	entry, err := m.load(ctx, key)
	if err != nil {
		return err
	}

	entry.InVoice = inVoice
	entry.ChannelLabel = channelLabel
	if !inVoice {
		entry.ChannelLabel = ""
	}
	entry.UpdatedAt = m.clock().UTC()

	return m.store(ctx, key, entry)
}

// SetCurrentGame records the game from the latest activity observation.
func (m *VoicePresenceMirror) SetCurrentGame(ctx context.Context, key shared.PlayerKey, game string) error {
	entry, err := m.load(ctx, key)
	if err != nil {
		return err
	}

	entry.Game = game
	entry.UpdatedAt = m.clock().UTC()

	return m.store(ctx, key, entry)
}

// Snapshot returns the current presence view, or nil when nothing is known.
func (m *VoicePresenceMirror) Snapshot(ctx context.Context, key shared.PlayerKey) (*tracker.PresenceSnapshot, error) {
	var entry presenceEntry
	err := m.cache.Get(ctx, m.key(key), &entry)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tracker.PresenceSnapshot{
		InVoice:      entry.InVoice,
		ChannelLabel: entry.ChannelLabel,
		Game:         entry.Game,
		UpdatedAt:    entry.UpdatedAt,
	}, nil
}

func (m *VoicePresenceMirror) key(key shared.PlayerKey) string {
	return PresenceKey(key.CommunityID.String(), key.UserID.String())
}

func (m *VoicePresenceMirror) load(ctx context.Context, key shared.PlayerKey) (presenceEntry, error) {
	var entry presenceEntry
	err := m.cache.Get(ctx, m.key(key), &entry)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return presenceEntry{}, err
	}
	return entry, nil
}

func (m *VoicePresenceMirror) store(ctx context.Context, key shared.PlayerKey, entry presenceEntry) error {
	return m.cache.Set(ctx, m.key(key), entry, TTLPresence)
}
