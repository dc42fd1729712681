// Package timefmt renders durations and timestamps for transcript views.
package timefmt

import (
	"fmt"
	"time"
)

// MinutesDisplaying converts seconds into a zero-padded "MM:SS" string.
func MinutesDisplaying(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// TimeDisplay renders t as "HH:MM, M/D/YYYY" in t's location.
func TimeDisplay(t time.Time) string {
	return fmt.Sprintf("%02d:%02d, %s", t.Hour(), t.Minute(), DateDisplay(t))
}

// DateDisplay renders t as "M/D/YYYY". The zero time renders today's date.
func DateDisplay(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("%d/%d/%d", int(t.Month()), t.Day(), t.Year())
}
