package availability

import (
	"testing"
	"time"
)

var mondayWindow = Window{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 17 * 60}

func TestFirstSlot_EmptyCalendar(t *testing.T) {
	// Searching from Monday 00:00 with a Monday 09:00-17:00 window.
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	slot, ok := FirstSlot(now, 14, time.Hour, time.Hour, []Window{mondayWindow}, nil)
	if !ok {
		t.Fatal("expected a slot")
	}
	if !slot.Start.Equal(monday(9, 0)) || !slot.End.Equal(monday(10, 0)) {
		t.Fatalf("expected 09:00-10:00, got %s-%s", slot.Start, slot.End)
	}
}

func TestFirstSlot_SkipsBookedSlot(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	busy := []Interval{{Start: monday(9, 0), End: monday(10, 0)}}

	slot, ok := FirstSlot(now, 14, time.Hour, time.Hour, []Window{mondayWindow}, busy)
	if !ok {
		t.Fatal("expected a slot")
	}
	if !slot.Start.Equal(monday(10, 0)) || !slot.End.Equal(monday(11, 0)) {
		t.Fatalf("expected 10:00-11:00, got %s-%s", slot.Start, slot.End)
	}
}

func TestFirstSlot_SkipsPastCandidates(t *testing.T) {
	// Searching at Monday 09:30: the 09:00 candidate is in the past.
	now := monday(9, 30)

	slot, ok := FirstSlot(now, 14, time.Hour, time.Hour, []Window{mondayWindow}, nil)
	if !ok {
		t.Fatal("expected a slot")
	}
	if !slot.Start.Equal(monday(10, 0)) {
		t.Fatalf("expected 10:00, got %s", slot.Start)
	}
}

func TestFirstSlot_RollsToNextWeek(t *testing.T) {
	// Searching on a Tuesday with only a Monday window: first fit is next Monday.
	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	slot, ok := FirstSlot(now, 14, time.Hour, time.Hour, []Window{mondayWindow}, nil)
	if !ok {
		t.Fatal("expected a slot")
	}
	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	if !slot.Start.Equal(want) {
		t.Fatalf("expected next Monday 09:00, got %s", slot.Start)
	}
}

func TestFirstSlot_DurationLongerThanWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	short := Window{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 10 * 60}

	if _, ok := FirstSlot(now, 14, 2*time.Hour, time.Hour, []Window{short}, nil); ok {
		t.Fatal("slot longer than every window must not be found")
	}
}

func TestFirstSlot_HorizonExhausted(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// No windows at all: the search must report failure, never invent a slot.
	if _, ok := FirstSlot(now, 14, time.Hour, time.Hour, nil, nil); ok {
		t.Fatal("expected no slot with no windows")
	}

	// Fully booked horizon.
	var busy []Interval
	for day := 0; day < 14; day++ {
		date := now.AddDate(0, 0, day)
		busy = append(busy, Interval{
			Start: date.Add(9 * time.Hour),
			End:   date.Add(17 * time.Hour),
		})
	}
	everyDay := make([]Window, 0, 7)
	for dow := 0; dow < 7; dow++ {
		everyDay = append(everyDay, Window{DayOfWeek: dow, StartMinute: 9 * 60, EndMinute: 17 * 60})
	}
	if _, ok := FirstSlot(now, 14, time.Hour, time.Hour, everyDay, busy); ok {
		t.Fatal("expected no slot when the whole horizon is booked")
	}
}

func TestFirstSlot_ReturnedSlotPassesConflictCheck(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: monday(9, 0), End: monday(10, 0)},
		{Start: monday(11, 0), End: monday(12, 30)},
	}

	slot, ok := FirstSlot(now, 14, time.Hour, time.Hour, []Window{mondayWindow}, busy)
	if !ok {
		t.Fatal("expected a slot")
	}
	if OverlapsAny(slot.Start, slot.End, busy) {
		t.Fatalf("returned slot %s-%s overlaps the busy set", slot.Start, slot.End)
	}
	if !AnyContains([]Window{mondayWindow}, slot.Start, slot.End) {
		t.Fatalf("returned slot %s-%s is outside every window", slot.Start, slot.End)
	}
}
