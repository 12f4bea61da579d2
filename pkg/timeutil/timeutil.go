// Package timeutil provides duration formatting helpers for notifications
// and read-model responses.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders a second count as "2 hrs 5 mins 30 secs". Zero
// components are omitted; a zero total renders as "0 secs". Units are
// pluralized individually, so 61 seconds is "1 min 1 sec".
func FormatDuration(totalSeconds int64) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, pluralize(hours, "hr"))
	}
	if minutes > 0 {
		parts = append(parts, pluralize(minutes, "min"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, pluralize(seconds, "sec"))
	}

	return strings.Join(parts, " ")
}

// FormatCompact renders a second count as "2h 5m", the form used in
// leaderboard rows and profile summaries. Seconds are dropped.
func FormatCompact(totalSeconds int64) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60

	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// SecondsBetween returns the whole seconds from start to end, clamped at
// zero so skewed clocks never yield a negative span.
func SecondsBetween(start, end time.Time) int64 {
	secs := int64(end.Sub(start).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

func pluralize(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
