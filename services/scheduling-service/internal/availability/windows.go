package availability

import (
	"fmt"
	"time"
)

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses the half-open rule: [a1,a2) and [b1,b2) conflict iff
// a1 < b2 && b1 < a2. Back-to-back intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func OverlapsAny(start, end time.Time, busy []Interval) bool {
	candidate := Interval{Start: start, End: end}
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// Window is a recurring weekly open period in minutes from UTC midnight,
// half-open [StartMinute, EndMinute) on DayOfWeek (0 = Sunday).
type Window struct {
	DayOfWeek   int
	StartMinute int
	EndMinute   int
}

// Contains reports whether [start, end) falls fully inside the window. The
// candidate is evaluated against the UTC day its start falls on; a booking
// crossing UTC midnight can never be contained because windows end at or
// before minute 1440.
func (w Window) Contains(start, end time.Time) bool {
	start = start.UTC()
	if !end.After(start) {
		return false
	}
	if int(start.Weekday()) != w.DayOfWeek {
		return false
	}
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int((end.Sub(start)+time.Minute-1)/time.Minute)
	return startMin >= w.StartMinute && endMin <= w.EndMinute
}

// AnyContains requires full containment in a single window; a candidate
// spanning the gap between two adjacent windows is not bookable.
func AnyContains(windows []Window, start, end time.Time) bool {
	for _, w := range windows {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}

// ParseClock converts a wall-clock "HH:MM" string to minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
