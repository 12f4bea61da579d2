package tracker

import (
	"github.com/gametime-hub/gametime-tracker/internal/domain/player"
)

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONE EVALUATOR
// Runs on the end-of-session commit path, after the delta has been applied.
// ══════════════════════════════════════════════════════════════════════════════

// EarnedTitle is a title granted by a milestone rule during one evaluation.
type EarnedTitle struct {
	Title string
	Game  string // set for game-scoped rules
	Rule  string
}

// Progression is the outcome of evaluating one committed delta.
type Progression struct {
	OldLevel  int
	NewLevel  int
	LeveledUp bool
	NewTitles []EarnedTitle
}

// LevelOrTitlesChanged reports whether anything needs persisting.
func (p Progression) LevelOrTitlesChanged(persistedLevel int) bool {
	return p.NewLevel != persistedLevel || len(p.NewTitles) > 0
}

// MilestoneEvaluator recomputes level and titles from updated aggregates.
type MilestoneEvaluator struct {
	thresholds []int64
	rules      []player.MilestoneRule
}

// NewMilestoneEvaluator creates an evaluator. Nil arguments select the
// built-in thresholds and rules.
func NewMilestoneEvaluator(thresholds []int64, rules []player.MilestoneRule) *MilestoneEvaluator {
	if thresholds == nil {
		thresholds = player.DefaultLevelThresholds
	}
	if rules == nil {
		rules = player.DefaultMilestoneRules()
	}
	return &MilestoneEvaluator{thresholds: thresholds, rules: rules}
}

// Evaluate computes the progression caused by a commit of deltaSeconds of
// the given game. The previous level is derived from the aggregate state
// before the delta (totals are monotonic, so subtraction reconstructs it
// exactly). Titles already present on the aggregate are never granted again.
func (e *MilestoneEvaluator) Evaluate(agg *player.UserAggregate, game string, deltaSeconds int64) Progression {
	prevTotal := agg.TotalSeconds - deltaSeconds
	if prevTotal < 0 {
		prevTotal = 0
	}

	p := Progression{
		OldLevel: player.LevelFor(prevTotal, e.thresholds),
		NewLevel: player.LevelFor(agg.TotalSeconds, e.thresholds),
	}
	p.LeveledUp = p.NewLevel > p.OldLevel

	for _, rule := range e.rules {
		if !rule.Matches(agg, game) {
			continue
		}
		ruleGame := ""
		if rule.Scope == player.ScopeGame {
			ruleGame = game
		}
		title := rule.Title(ruleGame)
		if agg.HasTitle(title) {
			continue
		}
		p.NewTitles = append(p.NewTitles, EarnedTitle{
			Title: title,
			Game:  ruleGame,
			Rule:  rule.Name,
		})
	}

	return p
}
