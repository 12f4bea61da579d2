// Package player contains the per-(user, community) playtime aggregate, the
// level model, and the milestone rules. This is a pure domain layer with
// zero external dependencies.
package player

import (
	"errors"
	"sort"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
)

// Domain errors for the player package.
var (
	ErrInvalidKey    = errors.New("player: invalid player key")
	ErrNegativeDelta = errors.New("player: delta cannot be negative")
	ErrNotFound      = errors.New("player: aggregate not found")
)

// UserAggregate holds the accumulated playtime totals for one user within
// one community. Totals only ever grow; they are mutated exclusively by the
// end-of-session commit path, never by session start.
//
// Invariant: TotalSeconds equals the sum of GameSeconds values after every
// completed update.
type UserAggregate struct {
	Key shared.PlayerKey

	// DisplayName is the last-seen display name, refreshed on every commit.
	DisplayName string

	// TotalSeconds is the total tracked playtime across all games.
	TotalSeconds int64

	// GameSeconds maps game label to accumulated seconds.
	GameSeconds map[string]int64

	// Level is derived from TotalSeconds but persisted for cheap reads.
	Level int

	// Titles is the set of milestone titles earned, monotonically growing.
	Titles []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserAggregate creates an empty aggregate for a key.
func NewUserAggregate(key shared.PlayerKey, displayName string) (*UserAggregate, error) {
	if !key.IsValid() {
		return nil, ErrInvalidKey
	}
	now := time.Now().UTC()
	return &UserAggregate{
		Key:         key,
		DisplayName: displayName,
		GameSeconds: make(map[string]int64),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SecondsFor returns the accumulated seconds for a game (0 if never played).
func (a *UserAggregate) SecondsFor(game string) int64 {
	return a.GameSeconds[game]
}

// HasTitle reports whether the title has already been earned.
func (a *UserAggregate) HasTitle(title string) bool {
	for _, t := range a.Titles {
		if t == title {
			return true
		}
	}
	return false
}

// GameTotal is one entry of a per-game ranking.
type GameTotal struct {
	Game    string
	Seconds int64
}

// TopGames returns up to n games ordered by accumulated time descending.
// Ties are broken alphabetically so the ordering is stable.
func (a *UserAggregate) TopGames(n int) []GameTotal {
	totals := make([]GameTotal, 0, len(a.GameSeconds))
	for game, secs := range a.GameSeconds {
		totals = append(totals, GameTotal{Game: game, Seconds: secs})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Seconds != totals[j].Seconds {
			return totals[i].Seconds > totals[j].Seconds
		}
		return totals[i].Game < totals[j].Game
	})
	if n > 0 && len(totals) > n {
		totals = totals[:n]
	}
	return totals
}

// TotalsConsistent verifies the aggregate invariant.
func (a *UserAggregate) TotalsConsistent() bool {
	var sum int64
	for _, secs := range a.GameSeconds {
		sum += secs
	}
	return sum == a.TotalSeconds
}
