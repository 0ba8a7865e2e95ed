package cli

import (
	"fmt"
	"time"
)

// FormatClock renders d as M:SS, or H:MM:SS from one hour up. Negative
// durations render as 0:00.
func FormatClock(d time.Duration) string {
	d = max(d, 0).Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatRetryIn describes when a job's next attempt is due relative to now.
func FormatRetryIn(next, now time.Time) string {
	if next.IsZero() {
		return "-"
	}
	if !next.After(now) {
		return "due"
	}
	return "in " + FormatClock(next.Sub(now))
}
