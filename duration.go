package qaspace

import (
	"fmt"
	"time"
)

// FormatDuration renders d as "<m>m <s>.<ms>s". Every component is truncated
// from the full duration, so seconds and milliseconds are totals and not the
// remainders of the larger unit: 125.3s becomes "2m 125.125300s". Reporting
// backends parse this format, it must not change.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%dm %d.%ds",
		int64(d/time.Minute),
		int64(d/time.Second),
		int64(d/time.Millisecond),
	)
}
