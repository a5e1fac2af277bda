package util

import (
	"fmt"
	"time"
)

// FormatRelativeTime formats t relative to now, e.g. "5 min ago". Times
// older than a week are formatted as date.
func FormatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)

	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%d s ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, pluralize(days))
	}

	return t.Format("Jan 2 2006")
}

func pluralize(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
