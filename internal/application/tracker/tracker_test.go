package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/session"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session.InFlightSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*session.InFlightSession)}
}

func (s *memSessionStore) Begin(_ context.Context, key shared.PlayerKey, game string, startedAt time.Time, channelLabel string) error {
	sess, err := session.New(key, game, startedAt, channelLabel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key.String()] = sess
	return nil
}

func (s *memSessionStore) Get(_ context.Context, key shared.PlayerKey) (*session.InFlightSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key.String()]
	if !ok {
		return nil, session.ErrNoActiveSession
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) End(_ context.Context, key shared.PlayerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key.String())
	return nil
}

func (s *memSessionStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*session.InFlightSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*session.InFlightSession
	for _, sess := range s.sessions {
		if sess.StartedAt.Before(olderThan) {
			cp := *sess
			stale = append(stale, &cp)
			if len(stale) == limit {
				break
			}
		}
	}
	return stale, nil
}

type memPlayers struct {
	mu   sync.Mutex
	aggs map[string]*player.UserAggregate
}

func newMemPlayers() *memPlayers {
	return &memPlayers{aggs: make(map[string]*player.UserAggregate)}
}

func (p *memPlayers) Get(_ context.Context, key shared.PlayerKey) (*player.UserAggregate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agg, ok := p.aggs[key.String()]
	if !ok {
		return nil, player.ErrNotFound
	}
	return copyAggregate(agg), nil
}

func (p *memPlayers) ApplyDelta(_ context.Context, key shared.PlayerKey, displayName, game string, deltaSeconds int64) (*player.UserAggregate, error) {
	if deltaSeconds < 0 {
		return nil, player.ErrNegativeDelta
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	agg, ok := p.aggs[key.String()]
	if !ok {
		agg, _ = player.NewUserAggregate(key, displayName)
		p.aggs[key.String()] = agg
	}
	agg.DisplayName = displayName
	agg.TotalSeconds += deltaSeconds
	agg.GameSeconds[game] += deltaSeconds
	return copyAggregate(agg), nil
}

func (p *memPlayers) SaveProgression(_ context.Context, key shared.PlayerKey, level int, newTitles []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	agg, ok := p.aggs[key.String()]
	if !ok {
		return player.ErrNotFound
	}
	if level > agg.Level {
		agg.Level = level
	}
	for _, title := range newTitles {
		if !agg.HasTitle(title) {
			agg.Titles = append(agg.Titles, title)
		}
	}
	return nil
}

func (p *memPlayers) TopByTotalTime(_ context.Context, _ shared.CommunityID, _ int) ([]*player.UserAggregate, error) {
	return nil, nil
}

func (p *memPlayers) TopByGameTime(_ context.Context, _ shared.CommunityID, _ string, _ int) ([]*player.UserAggregate, error) {
	return nil, nil
}

func copyAggregate(agg *player.UserAggregate) *player.UserAggregate {
	cp := *agg
	cp.GameSeconds = make(map[string]int64, len(agg.GameSeconds))
	for g, s := range agg.GameSeconds {
		cp.GameSeconds[g] = s
	}
	cp.Titles = append([]string(nil), agg.Titles...)
	return &cp
}

// memCommitter mirrors the transactional semantics of the real commit store:
// the session delete is the idempotency guard, and the delta is applied only
// when a record was actually removed.
type memCommitter struct {
	sessions *memSessionStore
	players  *memPlayers
}

func (c *memCommitter) CommitEnd(ctx context.Context, key shared.PlayerKey, displayName string, endedAt time.Time) (*EndCommit, error) {
	sess, err := c.sessions.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.End(ctx, key); err != nil {
		return nil, err
	}

	duration := int64(endedAt.UTC().Sub(sess.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	agg, err := c.players.ApplyDelta(ctx, key, displayName, sess.Game, duration)
	if err != nil {
		return nil, err
	}

	return &EndCommit{
		Game:            sess.Game,
		ChannelLabel:    sess.ChannelLabel,
		StartedAt:       sess.StartedAt,
		DurationSeconds: duration,
		Aggregate:       agg,
	}, nil
}

type memPresence struct {
	mu      sync.Mutex
	entries map[string]*PresenceSnapshot
}

func newMemPresence() *memPresence {
	return &memPresence{entries: make(map[string]*PresenceSnapshot)}
}

func (p *memPresence) SetVoiceState(_ context.Context, key shared.PlayerKey, inVoice bool, channelLabel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key.String()]
	if !ok {
		e = &PresenceSnapshot{}
		p.entries[key.String()] = e
	}
	e.InVoice = inVoice
	e.ChannelLabel = channelLabel
	return nil
}

func (p *memPresence) SetCurrentGame(_ context.Context, key shared.PlayerKey, game string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key.String()]
	if !ok {
		e = &PresenceSnapshot{}
		p.entries[key.String()] = e
	}
	e.Game = game
	return nil
}

func (p *memPresence) Snapshot(_ context.Context, key shared.PlayerKey) (*PresenceSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

type memBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *memBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *memBus) ofType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type fixture struct {
	tracker  *Tracker
	sessions *memSessionStore
	players  *memPlayers
	presence *memPresence
	bus      *memBus
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	sessions := newMemSessionStore()
	players := newMemPlayers()
	presence := newMemPresence()
	bus := &memBus{}

	cfg := DefaultConfig()
	cfg.Clock = clock.Now

	tr := New(cfg, sessions, players,
		&memCommitter{sessions: sessions, players: players},
		presence, NewMilestoneEvaluator(nil, nil), bus, nil)

	return &fixture{
		tracker:  tr,
		sessions: sessions,
		players:  players,
		presence: presence,
		bus:      bus,
		clock:    clock,
	}
}

const (
	testUserID      = "123456789012345678"
	testCommunityID = "987654321098765432"
)

func testKey(t *testing.T) shared.PlayerKey {
	t.Helper()
	key, err := shared.NewPlayerKey(testUserID, testCommunityID)
	require.NoError(t, err)
	return key
}

func (f *fixture) joinVoice(t *testing.T) {
	t.Helper()
	err := f.tracker.HandleVoiceTransition(context.Background(), VoiceTransition{
		UserID:       testUserID,
		CommunityID:  testCommunityID,
		DisplayName:  "Alice",
		ChannelLabel: "General",
		Joined:       true,
	})
	require.NoError(t, err)
}

func (f *fixture) leaveVoice(t *testing.T) {
	t.Helper()
	err := f.tracker.HandleVoiceTransition(context.Background(), VoiceTransition{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Joined:      false,
	})
	require.NoError(t, err)
}

func (f *fixture) observeGame(t *testing.T, game string) {
	t.Helper()
	var activities []shared.Activity
	if game != "" {
		activities = []shared.Activity{{Label: game, IsGame: true}}
	}
	err := f.tracker.HandleActivityObservation(context.Background(), ActivityObservation{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Activities:  activities,
		InVoice:     true,
	})
	require.NoError(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Session lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestTracker_GameInVoiceStartsSession(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")

	sess, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, "Factorio", sess.Game)
	assert.Equal(t, f.clock.Now(), sess.StartedAt)

	started := f.bus.ofType(shared.EventSessionStarted)
	require.Len(t, started, 1)
	ev := started[0].(shared.SessionStartedEvent)
	assert.Equal(t, "Alice", ev.DisplayName)
	assert.Equal(t, "Factorio", ev.Game)
}

func TestTracker_GameWithoutVoiceDoesNotStart(t *testing.T) {
	f := newFixture(t)

	err := f.tracker.HandleActivityObservation(context.Background(), ActivityObservation{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Activities:  []shared.Activity{{Label: "Factorio", IsGame: true}},
		InVoice:     false,
	})
	require.NoError(t, err)

	_, err = f.sessions.Get(context.Background(), testKey(t))
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	assert.Empty(t, f.bus.events)
}

func TestTracker_NonGameActivityDoesNotStart(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	err := f.tracker.HandleActivityObservation(context.Background(), ActivityObservation{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Activities:  []shared.Activity{{Label: "Spotify", IsGame: false}},
		InVoice:     true,
	})
	require.NoError(t, err)

	_, err = f.sessions.Get(context.Background(), testKey(t))
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestTracker_JoinWithKnownGameStartsSession(t *testing.T) {
	f := newFixture(t)

	// An activity snapshot before the voice join primes the presence mirror.
	err := f.tracker.HandleActivityObservation(context.Background(), ActivityObservation{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Activities:  []shared.Activity{{Label: "Factorio", IsGame: true}},
		InVoice:     false,
	})
	require.NoError(t, err)

	f.joinVoice(t)

	sess, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, "Factorio", sess.Game)
}

func TestTracker_LeaveVoiceCommitsDuration(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(305 * time.Second)
	f.leaveVoice(t)

	agg, err := f.players.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, int64(305), agg.TotalSeconds)
	assert.Equal(t, int64(305), agg.GameSeconds["Factorio"])
	assert.Equal(t, 1, agg.Level, "305 seconds crosses the first level threshold")
	assert.True(t, agg.TotalsConsistent())

	ended := f.bus.ofType(shared.EventSessionEnded)
	require.Len(t, ended, 1)
	ev := ended[0].(shared.SessionEndedEvent)
	assert.Equal(t, int64(305), ev.DurationSeconds)
	assert.Equal(t, shared.EndReasonLeftVoice, ev.Reason)

	levelUps := f.bus.ofType(shared.EventLevelUp)
	require.Len(t, levelUps, 1)
	lu := levelUps[0].(shared.LevelUpEvent)
	assert.Equal(t, 0, lu.OldLevel)
	assert.Equal(t, 1, lu.NewLevel)
}

func TestTracker_StoppedPlayingCommitsDuration(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(120 * time.Second)
	f.observeGame(t, "") // activity cleared, still in voice

	agg, err := f.players.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, int64(120), agg.TotalSeconds)

	ended := f.bus.ofType(shared.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, shared.EndReasonStoppedPlaying, ended[0].(shared.SessionEndedEvent).Reason)
}

// ─────────────────────────────────────────────────────────────────────────────
// Idempotency and double counting
// ─────────────────────────────────────────────────────────────────────────────

func TestTracker_DuplicateEndNeverDoubleCounts(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(100 * time.Second)
	f.leaveVoice(t)

	// A duplicate end trigger for the same real-world change.
	f.leaveVoice(t)
	f.observeGame(t, "")

	agg, err := f.players.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, int64(100), agg.TotalSeconds, "duplicate ends must not re-apply the delta")
	assert.Len(t, f.bus.ofType(shared.EventSessionEnded), 1)
}

func TestTracker_DuplicateSnapshotIsNoOp(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")

	started, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)

	f.clock.Advance(60 * time.Second)
	f.observeGame(t, "Factorio")

	after, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, started.StartedAt, after.StartedAt, "the running timer must not restart")
	assert.Len(t, f.bus.ofType(shared.EventSessionStarted), 1)
}

func TestTracker_ChannelMoveDoesNotRestart(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(30 * time.Second)

	// Moving between channels arrives as another join.
	err := f.tracker.HandleVoiceTransition(context.Background(), VoiceTransition{
		UserID:       testUserID,
		CommunityID:  testCommunityID,
		DisplayName:  "Alice",
		ChannelLabel: "AFK",
		Joined:       true,
	})
	require.NoError(t, err)

	sess, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(-30*time.Second), sess.StartedAt)
	assert.Len(t, f.bus.ofType(shared.EventSessionStarted), 1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Game switches
// ─────────────────────────────────────────────────────────────────────────────

func TestTracker_GameSwitchIsGapFree(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(200 * time.Second)
	f.observeGame(t, "Dota 2")

	// The old session committed exactly the elapsed time.
	agg, err := f.players.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, int64(200), agg.TotalSeconds)
	assert.Equal(t, int64(200), agg.GameSeconds["Factorio"])

	// The new session started at the same instant the old one ended.
	sess, err := f.sessions.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, "Dota 2", sess.Game)
	assert.Equal(t, f.clock.Now(), sess.StartedAt)

	ended := f.bus.ofType(shared.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, shared.EndReasonSwitchedGame, ended[0].(shared.SessionEndedEvent).Reason)
	assert.Len(t, f.bus.ofType(shared.EventSessionStarted), 2)
}

func TestTracker_SwitchOutOfVoiceEndsOnly(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(50 * time.Second)

	// The leave was missed; the mirror is updated directly to simulate it.
	require.NoError(t, f.presence.SetVoiceState(context.Background(), testKey(t), false, ""))

	err := f.tracker.HandleActivityObservation(context.Background(), ActivityObservation{
		UserID:      testUserID,
		CommunityID: testCommunityID,
		DisplayName: "Alice",
		Activities:  []shared.Activity{{Label: "Dota 2", IsGame: true}},
		InVoice:     true, // stale transport flag, the mirror wins
	})
	require.NoError(t, err)

	_, err = f.sessions.Get(context.Background(), testKey(t))
	assert.ErrorIs(t, err, session.ErrNoActiveSession, "no new session out of voice")

	agg, err := f.players.Get(context.Background(), testKey(t))
	require.NoError(t, err)
	assert.Equal(t, int64(50), agg.TotalSeconds)
}

// ─────────────────────────────────────────────────────────────────────────────
// Progression
// ─────────────────────────────────────────────────────────────────────────────

func TestTracker_MilestoneTitleGrantedOnce(t *testing.T) {
	f := newFixture(t)
	key := testKey(t)

	// Seed the aggregate just below the hundred-hour milestone.
	_, err := f.players.ApplyDelta(context.Background(), key, "Alice", "Factorio", 359900)
	require.NoError(t, err)
	require.NoError(t, f.players.SaveProgression(context.Background(), key, 9, nil))

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(200 * time.Second)
	f.leaveVoice(t)

	agg, err := f.players.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(360100), agg.TotalSeconds)
	assert.Equal(t, 10, agg.Level)
	assert.Contains(t, agg.Titles, "Professional Gamer")
	assert.Contains(t, agg.Titles, "Factorio Master")

	titleEvents := f.bus.ofType(shared.EventTitleEarned)
	assert.Len(t, titleEvents, 2)

	// Crossing again must not regrant.
	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(100 * time.Second)
	f.leaveVoice(t)

	agg, err = f.players.Get(context.Background(), key)
	require.NoError(t, err)
	count := 0
	for _, title := range agg.Titles {
		if title == "Professional Gamer" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, f.bus.ofType(shared.EventTitleEarned), 2)
}

// ─────────────────────────────────────────────────────────────────────────────
// Janitor
// ─────────────────────────────────────────────────────────────────────────────

func TestJanitor_DiscardsOrphanedSessionWithoutDelta(t *testing.T) {
	f := newFixture(t)
	key := testKey(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(25 * time.Hour)

	janitor := NewJanitor(JanitorConfig{
		Interval:      time.Minute,
		MaxSessionAge: 24 * time.Hour,
		BatchSize:     10,
	}, f.tracker)

	reaped, err := janitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = f.sessions.Get(context.Background(), key)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	// Orphaned intervals are discarded, never credited.
	_, err = f.players.Get(context.Background(), key)
	assert.ErrorIs(t, err, player.ErrNotFound)
	assert.Empty(t, f.bus.ofType(shared.EventSessionEnded))
}

func TestJanitor_LeavesFreshSessionsAlone(t *testing.T) {
	f := newFixture(t)

	f.joinVoice(t)
	f.observeGame(t, "Factorio")
	f.clock.Advance(2 * time.Hour)

	janitor := NewJanitor(JanitorConfig{
		Interval:      time.Minute,
		MaxSessionAge: 24 * time.Hour,
		BatchSize:     10,
	}, f.tracker)

	reaped, err := janitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)

	_, err = f.sessions.Get(context.Background(), testKey(t))
	assert.NoError(t, err)
}
