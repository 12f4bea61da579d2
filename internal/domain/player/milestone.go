package player

import (
	"fmt"
	"strings"
)

// MilestoneScope selects which counter a milestone rule watches.
type MilestoneScope string

const (
	// ScopeTotal evaluates against total playtime across all games.
	ScopeTotal MilestoneScope = "total"

	// ScopeGame evaluates against the playtime of the game just committed.
	ScopeGame MilestoneScope = "game"
)

// MilestoneRule is a declarative one-time reward: a threshold over the
// updated aggregate and a title granted at most once per (user, community,
// title). Rules are data, not code; new ones can be added without touching
// the tracker.
type MilestoneRule struct {
	// Name identifies the rule in logs.
	Name string

	// Scope selects the counter the threshold applies to.
	Scope MilestoneScope

	// ThresholdSeconds is the cumulative seconds required.
	ThresholdSeconds int64

	// TitleTemplate is the title label. Game-scoped rules may contain the
	// "{game}" placeholder, substituted with the game label.
	TitleTemplate string
}

// Title renders the title label for a given game.
func (r MilestoneRule) Title(game string) string {
	return strings.ReplaceAll(r.TitleTemplate, "{game}", game)
}

// Matches evaluates the rule against an aggregate that was just updated by
// a commit for the given game.
func (r MilestoneRule) Matches(agg *UserAggregate, game string) bool {
	switch r.Scope {
	case ScopeTotal:
		return agg.TotalSeconds >= r.ThresholdSeconds
	case ScopeGame:
		return game != "" && agg.SecondsFor(game) >= r.ThresholdSeconds
	default:
		return false
	}
}

// Validate checks the rule definition.
func (r MilestoneRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("milestone rule: name is required")
	}
	if r.Scope != ScopeTotal && r.Scope != ScopeGame {
		return fmt.Errorf("milestone rule %q: unknown scope %q", r.Name, r.Scope)
	}
	if r.ThresholdSeconds <= 0 {
		return fmt.Errorf("milestone rule %q: threshold must be positive", r.Name)
	}
	if r.TitleTemplate == "" {
		return fmt.Errorf("milestone rule %q: title template is required", r.Name)
	}
	return nil
}

const hundredHours = 100 * 60 * 60

// DefaultMilestoneRules returns the built-in milestone set.
func DefaultMilestoneRules() []MilestoneRule {
	return []MilestoneRule{
		{
			Name:             "professional-gamer",
			Scope:            ScopeTotal,
			ThresholdSeconds: hundredHours,
			TitleTemplate:    "Professional Gamer",
		},
		{
			Name:             "game-master",
			Scope:            ScopeGame,
			ThresholdSeconds: hundredHours,
			TitleTemplate:    "{game} Master",
		},
	}
}
