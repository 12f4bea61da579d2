package player

// Level thresholds in total tracked seconds. level(t) is the number of
// thresholds at or below t; a player below the first threshold is level 0.
var DefaultLevelThresholds = []int64{
	300,    // Level 1: 5 min
	900,    // Level 2: 15 min
	1800,   // Level 3: 30 min
	3600,   // Level 4: 1 hr
	7200,   // Level 5: 2 hr
	18000,  // Level 6: 5 hr
	36000,  // Level 7: 10 hr
	72000,  // Level 8: 20 hr
	180000, // Level 9: 50 hr
	360000, // Level 10: 100 hr
}

// LevelForTotal maps cumulative seconds to a level against the default
// thresholds. Pure, total, and monotonic non-decreasing in its input.
func LevelForTotal(totalSeconds int64) int {
	return LevelFor(totalSeconds, DefaultLevelThresholds)
}

// LevelFor maps cumulative seconds to a level against an ordered ascending
// threshold sequence.
func LevelFor(totalSeconds int64, thresholds []int64) int {
	for i := len(thresholds) - 1; i >= 0; i-- {
		if totalSeconds >= thresholds[i] {
			return i + 1
		}
	}
	return 0
}

// NextThreshold returns the seconds required for the next level, or -1 when
// the player is already at the maximum level. Used by the profile view to
// show progress toward the next level.
func NextThreshold(totalSeconds int64, thresholds []int64) int64 {
	for _, t := range thresholds {
		if totalSeconds < t {
			return t
		}
	}
	return -1
}
