// Package tracker implements the session lifecycle state machine. It
// consumes voice-state and activity events from the transport layer,
// decides when a play session starts, continues, switches, or ends, and
// commits elapsed durations to the aggregate store exactly once.
//
// All cross-event state lives in the stores: the tracker holds nothing in
// memory beyond the handling of a single event, so a restart loses at most
// attribution for end events that arrived while the process was down.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
	"github.com/gametime-hub/gametime-tracker/internal/domain/session"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/internal/metrics"
)

// VoiceTransition reports that a user entered or left a voice-capable
// context within a community.
type VoiceTransition struct {
	UserID       string
	CommunityID  string
	DisplayName  string
	ChannelLabel string
	Joined       bool
}

// ActivityObservation is a snapshot of what a user is currently reported as
// doing, independent of voice presence. May carry an empty activity set.
type ActivityObservation struct {
	UserID      string
	CommunityID string
	DisplayName string
	Activities  []shared.Activity

	// InVoice is the transport's own view of voice membership, used as a
	// fallback when the live presence mirror has no entry for the key.
	InVoice bool
}

// Config holds tracker tunables.
type Config struct {
	// StoreTimeout bounds every store call made while handling one event.
	StoreTimeout time.Duration

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreTimeout: 5 * time.Second,
	}
}

// Tracker is the session lifecycle state machine. Safe for concurrent use;
// transitions for one (user, community) key are serialized internally.
type Tracker struct {
	sessions  session.Store
	players   player.Repository
	committer EndCommitter
	presence  VoicePresence
	evaluator *MilestoneEvaluator
	bus       EventPublisher
	locks     *keyedMutex
	clock     func() time.Time
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Tracker.
func New(
	cfg Config,
	sessions session.Store,
	players player.Repository,
	committer EndCommitter,
	presence VoicePresence,
	evaluator *MilestoneEvaluator,
	bus EventPublisher,
	logger *slog.Logger,
) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = NewMilestoneEvaluator(nil, nil)
	}
	return &Tracker{
		sessions:  sessions,
		players:   players,
		committer: committer,
		presence:  presence,
		evaluator: evaluator,
		bus:       bus,
		locks:     newKeyedMutex(),
		clock:     cfg.Clock,
		timeout:   cfg.StoreTimeout,
		logger:    logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Event entry points
// ─────────────────────────────────────────────────────────────────────────────

// HandleVoiceTransition processes a voice join or leave.
func (t *Tracker) HandleVoiceTransition(ctx context.Context, ev VoiceTransition) error {
	key, err := shared.NewPlayerKey(ev.UserID, ev.CommunityID)
	if err != nil {
		return err
	}

	unlock := t.locks.Lock(key.String())
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	now := t.clock().UTC()

	if !ev.Joined {
		if err := t.presence.SetVoiceState(ctx, key, false, ""); err != nil {
			t.logger.Warn("presence mirror update failed",
				"key", key.String(), "error", err)
		}
		return t.endSession(ctx, key, ev.DisplayName, now, shared.EndReasonLeftVoice)
	}

	if err := t.presence.SetVoiceState(ctx, key, true, ev.ChannelLabel); err != nil {
		t.logger.Warn("presence mirror update failed",
			"key", key.String(), "error", err)
	}

	// A join while a session is already tracked (e.g. a channel move) must
	// not restart the timer.
	if _, err := t.sessions.Get(ctx, key); err == nil {
		return nil
	} else if !errors.Is(err, session.ErrNoActiveSession) {
		return t.storeFailure(key, "Get", err)
	}

	// Begin only if a prior activity observation already showed a game.
	game := ""
	if snap := t.snapshot(ctx, key); snap != nil {
		game = snap.Game
	}
	if game == "" {
		return nil
	}

	return t.beginSession(ctx, key, ev.DisplayName, game, ev.ChannelLabel, now)
}

// HandleActivityObservation processes an activity snapshot.
func (t *Tracker) HandleActivityObservation(ctx context.Context, ev ActivityObservation) error {
	key, err := shared.NewPlayerKey(ev.UserID, ev.CommunityID)
	if err != nil {
		return err
	}

	unlock := t.locks.Lock(key.String())
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	now := t.clock().UTC()
	game := shared.CurrentGame(ev.Activities)

	channelLabel := ""
	inVoice := ev.InVoice
	if snap := t.snapshot(ctx, key); snap != nil {
		// The mirror is fed by voice transitions and is fresher than the
		// flag the transport stamped on this observation.
		inVoice = snap.InVoice
		channelLabel = snap.ChannelLabel
	}

	if err := t.presence.SetCurrentGame(ctx, key, game); err != nil {
		t.logger.Warn("presence mirror update failed",
			"key", key.String(), "error", err)
	}

	cur, err := t.sessions.Get(ctx, key)
	switch {
	case err == nil:
		// Active(g)
		switch {
		case game == "":
			return t.endSession(ctx, key, ev.DisplayName, now, shared.EndReasonStoppedPlaying)
		case cur.IsPlaying(game):
			// Duplicate snapshot: idempotent no-op, the timer keeps running.
			return nil
		case inVoice:
			// Game switch: end and begin at the same instant, no gap and no
			// double count.
			if err := t.endSession(ctx, key, ev.DisplayName, now, shared.EndReasonSwitchedGame); err != nil {
				return err
			}
			return t.beginSession(ctx, key, ev.DisplayName, game, channelLabel, now)
		default:
			// Switched games but no longer in voice: the leave was missed,
			// close out the old session.
			return t.endSession(ctx, key, ev.DisplayName, now, shared.EndReasonStoppedPlaying)
		}

	case errors.Is(err, session.ErrNoActiveSession):
		// Idle
		if game == "" || !inVoice {
			return nil
		}
		return t.beginSession(ctx, key, ev.DisplayName, game, channelLabel, now)

	default:
		return t.storeFailure(key, "Get", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

func (t *Tracker) beginSession(ctx context.Context, key shared.PlayerKey, displayName, game, channelLabel string, now time.Time) error {
	if err := t.sessions.Begin(ctx, key, game, now, channelLabel); err != nil {
		return t.storeFailure(key, "Begin", err)
	}

	metrics.SessionsStartedTotal.Inc()
	t.logger.Info("session started",
		"key", key.String(), "game", game, "channel", channelLabel)

	t.publish(shared.NewSessionStartedEvent(key, displayName, game, channelLabel, now))
	return nil
}

// endSession commits the in-flight session for the key, if any. Ending is a
// single idempotent transition guarded by the store deletion inside
// CommitEnd: a second end attempt after the record is gone is a warning and
// a no-op, never a second delta.
func (t *Tracker) endSession(ctx context.Context, key shared.PlayerKey, displayName string, now time.Time, reason string) error {
	commit, err := t.committer.CommitEnd(ctx, key, displayName, now)
	if errors.Is(err, session.ErrNoActiveSession) {
		metrics.DuplicateEndsTotal.Inc()
		t.logger.Warn("end requested with no active session",
			"key", key.String(), "reason", reason)
		return nil
	}
	if err != nil {
		// The transaction rolled back as a unit: the session record is
		// still present and the aggregate untouched, so the caller may
		// retry the event without risk of double counting.
		return t.storeFailure(key, "CommitEnd", err)
	}

	metrics.SessionsEndedTotal.WithLabelValues(reason).Inc()
	metrics.SessionDurationSeconds.Observe(float64(commit.DurationSeconds))
	t.logger.Info("session ended",
		"key", key.String(),
		"game", commit.Game,
		"duration_seconds", commit.DurationSeconds,
		"reason", reason,
	)

	agg := commit.Aggregate
	prog := t.evaluator.Evaluate(agg, commit.Game, commit.DurationSeconds)

	if prog.LevelOrTitlesChanged(agg.Level) {
		titles := make([]string, 0, len(prog.NewTitles))
		for _, earned := range prog.NewTitles {
			titles = append(titles, earned.Title)
		}
		if err := t.players.SaveProgression(ctx, key, prog.NewLevel, titles); err != nil {
			// The delta is already committed; progression is recomputed
			// from totals on the next commit, so log and continue.
			t.logger.Error("failed to persist progression",
				"key", key.String(), "level", prog.NewLevel, "error", err)
		}
	}

	t.publish(shared.NewSessionEndedEvent(
		key, displayName, commit.Game, commit.DurationSeconds, agg.TotalSeconds, reason))

	if prog.LeveledUp {
		metrics.LevelUpsTotal.Inc()
		t.publish(shared.NewLevelUpEvent(
			key, displayName, prog.OldLevel, prog.NewLevel, agg.TotalSeconds))
	}
	for _, earned := range prog.NewTitles {
		metrics.TitlesGrantedTotal.WithLabelValues(earned.Rule).Inc()
		t.publish(shared.NewTitleEarnedEvent(key, displayName, earned.Title, earned.Game))
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (t *Tracker) snapshot(ctx context.Context, key shared.PlayerKey) *PresenceSnapshot {
	snap, err := t.presence.Snapshot(ctx, key)
	if err != nil {
		t.logger.Warn("presence mirror read failed",
			"key", key.String(), "error", err)
		return nil
	}
	return snap
}

func (t *Tracker) publish(event shared.Event) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(event); err != nil {
		t.logger.Error("failed to publish event",
			"event_type", event.EventType(), "error", err)
	}
}

func (t *Tracker) storeFailure(key shared.PlayerKey, op string, err error) error {
	t.logger.Error("store operation failed",
		"key", key.String(), "op", op, "error", err)
	return shared.WrapError("tracker", op, shared.ErrServiceUnavailable, "store operation failed", err)
}
