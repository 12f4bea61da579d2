// Package session contains the in-flight play session entity and its store
// contract. A play session is the interval during which a user is both
// present in a voice channel and reporting a game activity; at most one
// exists per (user, community) pair. This is a pure domain layer with zero
// external dependencies.
package session

import (
	"errors"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// Domain errors for the session package.
var (
	ErrInvalidKey = errors.New("session: invalid player key")
	ErrEmptyGame  = errors.New("session: game label cannot be empty")

	// ErrNoActiveSession aliases the shared taxonomy error so the store
	// contract and the tracker agree on a single identity for "nothing to
	// end here".
	ErrNoActiveSession error = shared.ErrNoActiveSession
)

// InFlightSession is a currently-open, not-yet-committed play interval.
// It is owned exclusively by the store: the tracker never holds one across
// events, so a process restart loses nothing but the chance to attribute
// time to sessions whose end event arrived while the process was down.
type InFlightSession struct {
	Key shared.PlayerKey

	// Game is the label of the game being played.
	Game string

	// StartedAt is the UTC instant tracking began.
	StartedAt time.Time

	// ChannelLabel is the voice channel the user was in when tracking
	// started. Advisory only, never used for correctness.
	ChannelLabel string
}

// New creates a new in-flight session.
func New(key shared.PlayerKey, game string, startedAt time.Time, channelLabel string) (*InFlightSession, error) {
	if !key.IsValid() {
		return nil, ErrInvalidKey
	}
	if game == "" {
		return nil, ErrEmptyGame
	}
	return &InFlightSession{
		Key:          key,
		Game:         game,
		StartedAt:    startedAt.UTC(),
		ChannelLabel: channelLabel,
	}, nil
}

// DurationUntil returns the elapsed play time at the given instant, clamped
// to zero. Clock skew between event sources must never produce a negative
// delta.
func (s *InFlightSession) DurationUntil(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsPlaying reports whether the session tracks the given game label.
func (s *InFlightSession) IsPlaying(game string) bool {
	return s.Game == game
}
