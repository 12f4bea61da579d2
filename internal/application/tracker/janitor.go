package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/session"
	"github.com/gametime-hub/gametime-tracker/internal/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// STALE SESSION JANITOR
// A voice-leave event that never arrives (gateway outage, dropped relay)
// leaves an in-flight session open forever. The janitor discards sessions
// older than a cutoff WITHOUT applying their duration: fabricating hours of
// phantom playtime is worse than losing an unattributable interval.
// ══════════════════════════════════════════════════════════════════════════════

// JanitorConfig holds janitor tunables.
type JanitorConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// MaxSessionAge is the age past which an in-flight session is
	// considered orphaned. Must comfortably exceed any legitimate marathon
	// session.
	MaxSessionAge time.Duration

	// BatchSize limits sessions reaped per sweep.
	BatchSize int
}

// DefaultJanitorConfig returns sensible defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:      15 * time.Minute,
		MaxSessionAge: 24 * time.Hour,
		BatchSize:     100,
	}
}

// Janitor periodically reaps orphaned in-flight sessions.
type Janitor struct {
	cfg      JanitorConfig
	sessions session.Store
	locks    *keyedMutex
	clock    func() time.Time
	logger   *slog.Logger
}

// NewJanitor creates a Janitor sharing the tracker's per-key locks so that a
// sweep never races a live transition for the same key.
func NewJanitor(cfg JanitorConfig, t *Tracker) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorConfig().Interval
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = DefaultJanitorConfig().MaxSessionAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultJanitorConfig().BatchSize
	}
	return &Janitor{
		cfg:      cfg,
		sessions: t.sessions,
		locks:    t.locks,
		clock:    t.clock,
		logger:   t.logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", "error", err)
			} else if n > 0 {
				j.logger.Info("janitor sweep completed", "reaped", n)
			}
		}
	}
}

// Sweep reaps one batch of stale sessions and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.clock().UTC().Add(-j.cfg.MaxSessionAge)

	stale, err := j.sessions.ListStale(ctx, cutoff, j.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, s := range stale {
		unlock := j.locks.Lock(s.Key.String())

		// Re-check under the lock: a concurrent end may have committed it.
		cur, err := j.sessions.Get(ctx, s.Key)
		if err != nil || !cur.StartedAt.Before(cutoff) {
			unlock()
			continue
		}

		if err := j.sessions.End(ctx, s.Key); err != nil {
			unlock()
			j.logger.Error("failed to reap stale session",
				"key", s.Key.String(), "game", s.Game, "error", err)
			continue
		}
		unlock()

		reaped++
		metrics.StaleSessionsReapedTotal.Inc()
		j.logger.Warn("discarded orphaned session",
			"key", s.Key.String(),
			"game", s.Game,
			"started_at", s.StartedAt,
			"open_for", s.DurationUntil(j.clock().UTC()),
		)
	}

	return reaped, nil
}
