package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type sentMessage struct {
	CommunityID string
	Message     string
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

func (n *fakeNotifier) SendCommunityLog(_ context.Context, communityID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, sentMessage{CommunityID: communityID, Message: message})
	return nil
}

type grantedRole struct {
	CommunityID string
	UserID      string
	RoleName    string
}

type fakeRoleGranter struct {
	mu     sync.Mutex
	grants []grantedRole
	err    error
}

func (g *fakeRoleGranter) GrantRole(_ context.Context, communityID, userID, roleName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.grants = append(g.grants, grantedRole{CommunityID: communityID, UserID: userID, RoleName: roleName})
	return nil
}

type invalidatedProfile struct {
	CommunityID string
	UserID      string
}

type fakeProfileCache struct {
	mu          sync.Mutex
	invalidated []invalidatedProfile
}

func (c *fakeProfileCache) InvalidateProfile(_ context.Context, communityID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, invalidatedProfile{CommunityID: communityID, UserID: userID})
	return nil
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func handlerTestKey(t *testing.T) shared.PlayerKey {
	t.Helper()
	key, err := shared.NewPlayerKey("123456789012345678", "987654321098765432")
	require.NoError(t, err)
	return key
}

// ─────────────────────────────────────────────────────────────────────────────
// Session notifications
// ─────────────────────────────────────────────────────────────────────────────

func TestOnSession_StartAnnouncement(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewOnSessionHandler(notifier, nil, DefaultSessionNotificationConfig())

	key := handlerTestKey(t)
	ev := shared.NewSessionStartedEvent(key, "Alice", "Factorio", "General", testTime())

	require.NoError(t, h.HandleStarted(ev))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, key.CommunityID.String(), notifier.messages[0].CommunityID)
	assert.Equal(t, "▶️ **Alice** started playing **Factorio**", notifier.messages[0].Message)
}

func TestOnSession_StartAnnouncementsCanBeDisabled(t *testing.T) {
	notifier := &fakeNotifier{}
	cfg := DefaultSessionNotificationConfig()
	cfg.AnnounceStarts = false
	h := NewOnSessionHandler(notifier, nil, cfg)

	ev := shared.NewSessionStartedEvent(handlerTestKey(t), "Alice", "Factorio", "", testTime())
	require.NoError(t, h.HandleStarted(ev))
	assert.Empty(t, notifier.messages)
}

func TestOnSession_EndSummaryWording(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		seconds int64
		want    string
	}{
		{
			name:    "left voice",
			reason:  "left voice",
			seconds: 7530,
			want:    "🎮 **Alice** played **Factorio** in voice for **2 hrs 5 mins 30 secs**",
		},
		{
			name:    "stopped playing",
			reason:  "stopped playing",
			seconds: 305,
			want:    "🛑 **Alice** stopped playing **Factorio** (Duration: 5 mins 5 secs)",
		},
		{
			name:    "switched game reads as a stop",
			reason:  "switched game",
			seconds: 61,
			want:    "🛑 **Alice** stopped playing **Factorio** (Duration: 1 min 1 sec)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			h := NewOnSessionHandler(notifier, nil, DefaultSessionNotificationConfig())

			ev := shared.NewSessionEndedEvent(handlerTestKey(t), "Alice", "Factorio",
				tt.seconds, tt.seconds, tt.reason)
			require.NoError(t, h.HandleEnded(ev))

			require.Len(t, notifier.messages, 1)
			assert.Equal(t, tt.want, notifier.messages[0].Message)
		})
	}
}

func TestOnSession_DeliveryFailureIsReported(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("api down")}
	h := NewOnSessionHandler(notifier, nil, DefaultSessionNotificationConfig())

	ev := shared.NewSessionEndedEvent(handlerTestKey(t), "Alice", "Factorio", 60, 60, "left voice")
	err := h.HandleEnded(ev)
	assert.ErrorIs(t, err, shared.ErrNotificationFailed)
}

func TestOnSession_WrongEventTypeIsIgnored(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewOnSessionHandler(notifier, nil, DefaultSessionNotificationConfig())

	ev := shared.NewLevelUpEvent(handlerTestKey(t), "Alice", 0, 1, 305)
	assert.NoError(t, h.HandleStarted(ev))
	assert.NoError(t, h.HandleEnded(ev))
	assert.Empty(t, notifier.messages)
}

// ─────────────────────────────────────────────────────────────────────────────
// Progression notifications and role grants
// ─────────────────────────────────────────────────────────────────────────────

func TestOnProgression_LevelUpAnnouncement(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewOnProgressionHandler(notifier, nil, nil, nil, DefaultProgressionConfig())

	ev := shared.NewLevelUpEvent(handlerTestKey(t), "Alice", 4, 5, 7530)
	require.NoError(t, h.HandleLevelUp(ev))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "🏆 **Alice** reached **Level 5**! (total playtime: 2h 5m)",
		notifier.messages[0].Message)
}

func TestOnProgression_TitleGrantsRole(t *testing.T) {
	notifier := &fakeNotifier{}
	roles := &fakeRoleGranter{}
	h := NewOnProgressionHandler(notifier, roles, nil, nil, DefaultProgressionConfig())

	key := handlerTestKey(t)
	ev := shared.NewTitleEarnedEvent(key, "Alice", "Professional Gamer", "")
	require.NoError(t, h.HandleTitleEarned(ev))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "🎖️ **Alice** earned the title **Professional Gamer**!",
		notifier.messages[0].Message)

	require.Len(t, roles.grants, 1)
	assert.Equal(t, key.UserID.String(), roles.grants[0].UserID)
	assert.Equal(t, "Professional Gamer", roles.grants[0].RoleName)
}

func TestOnProgression_AnnouncementFailureStillGrantsRole(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("api down")}
	roles := &fakeRoleGranter{}
	h := NewOnProgressionHandler(notifier, roles, nil, nil, DefaultProgressionConfig())

	ev := shared.NewTitleEarnedEvent(handlerTestKey(t), "Alice", "Factorio Master", "Factorio")
	require.NoError(t, h.HandleTitleEarned(ev))

	assert.Len(t, roles.grants, 1, "the role grant is independent of the announcement")
}

func TestOnProgression_RoleGrantFailure(t *testing.T) {
	notifier := &fakeNotifier{}
	roles := &fakeRoleGranter{err: errors.New("missing permission")}
	h := NewOnProgressionHandler(notifier, roles, nil, nil, DefaultProgressionConfig())

	ev := shared.NewTitleEarnedEvent(handlerTestKey(t), "Alice", "Professional Gamer", "")
	err := h.HandleTitleEarned(ev)
	assert.ErrorIs(t, err, shared.ErrRoleGrantFailed)
}

func TestOnProgression_InvalidatesCachedProfile(t *testing.T) {
	notifier := &fakeNotifier{}
	cache := &fakeProfileCache{}
	h := NewOnProgressionHandler(notifier, nil, cache, nil, DefaultProgressionConfig())

	key := handlerTestKey(t)
	require.NoError(t, h.HandleLevelUp(shared.NewLevelUpEvent(key, "Alice", 4, 5, 7530)))
	require.NoError(t, h.HandleTitleEarned(shared.NewTitleEarnedEvent(key, "Alice", "Professional Gamer", "")))

	require.Len(t, cache.invalidated, 2,
		"both progression changes drop the cached profile view")
	assert.Equal(t, key.UserID.String(), cache.invalidated[0].UserID)
	assert.Equal(t, key.CommunityID.String(), cache.invalidated[0].CommunityID)
}

func TestOnProgression_RoleGrantsCanBeDisabled(t *testing.T) {
	notifier := &fakeNotifier{}
	roles := &fakeRoleGranter{}
	cfg := DefaultProgressionConfig()
	cfg.GrantRoles = false
	h := NewOnProgressionHandler(notifier, roles, nil, nil, cfg)

	ev := shared.NewTitleEarnedEvent(handlerTestKey(t), "Alice", "Professional Gamer", "")
	require.NoError(t, h.HandleTitleEarned(ev))
	assert.Empty(t, roles.grants)
	assert.Len(t, notifier.messages, 1)
}
