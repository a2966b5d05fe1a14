package availability

import (
	"sort"
	"time"
)

// FirstSlot walks a horizon of calendar days (UTC) looking for the earliest
// candidate of the given duration that fits inside an open window without
// overlapping any busy interval. Candidate starts advance at a fixed stride
// from each window's start. First fit wins; there is no load balancing across
// days. The busy set is expected to be prefetched for the whole horizon so the
// walk never touches storage.
func FirstSlot(now time.Time, horizonDays int, duration, stride time.Duration, windows []Window, busy []Interval) (Interval, bool) {
	if duration <= 0 || stride <= 0 || horizonDays <= 0 {
		return Interval{}, false
	}

	byDay := make(map[int][]Window)
	for _, w := range windows {
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], w)
	}
	for _, ws := range byDay {
		sort.Slice(ws, func(i, j int) bool { return ws[i].StartMinute < ws[j].StartMinute })
	}

	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for day := 0; day < horizonDays; day++ {
		date := midnight.AddDate(0, 0, day)
		dayWindows := byDay[int(date.Weekday())]
		if len(dayWindows) == 0 {
			continue
		}
		for _, w := range dayWindows {
			windowStart := date.Add(time.Duration(w.StartMinute) * time.Minute)
			windowEnd := date.Add(time.Duration(w.EndMinute) * time.Minute)
			for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(stride) {
				if t.Before(now) {
					continue
				}
				slotEnd := t.Add(duration)
				if !OverlapsAny(t, slotEnd, busy) {
					return Interval{Start: t, End: slotEnd}, true
				}
			}
		}
	}
	return Interval{}, false
}
