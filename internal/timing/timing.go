// Package timing formats durations for run summaries.
package timing

import (
	"fmt"
	"time"
)

// Clock renders d as HH:MM:SS. Hours are not wrapped at 24.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// PerItem is the mean duration per processed item, zero when none were.
func PerItem(d time.Duration, items int) time.Duration {
	if items <= 0 {
		return 0
	}
	return d / time.Duration(items)
}
