package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/availability"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/outbox"
)

// fakeStore keeps appointments in memory and enforces the same non-overlap
// rule the Postgres exclusion constraint does: no two active-status
// appointments on one resource may overlap, checked on insert and again when
// an update flips a status into the active set.
type fakeStore struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment
	windows []model.AvailabilityWindow
	events  []outbox.Event
}

func newFakeStore(windows ...model.AvailabilityWindow) *fakeStore {
	return &fakeStore{
		appts:   make(map[string]model.Appointment),
		windows: windows,
	}
}

func (f *fakeStore) conflictsLocked(candidate model.Appointment) bool {
	if !candidate.Status.Active() {
		return false
	}
	for _, other := range f.appts {
		if other.ID == candidate.ID || other.ResourceID != candidate.ResourceID || !other.Status.Active() {
			continue
		}
		if candidate.StartTime.Before(other.EndTime) && other.StartTime.Before(candidate.EndTime) {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateAppointment(_ context.Context, appt *model.Appointment, evt *outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLocked(*appt) {
		return ErrSlotUnavailable
	}
	f.appts[appt.ID] = *appt
	if evt != nil {
		f.events = append(f.events, *evt)
	}
	return nil
}

func (f *fakeStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (f *fakeStore) GetBySessionToken(_ context.Context, token string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, appt := range f.appts {
		if appt.SessionToken == token {
			return appt, nil
		}
	}
	return model.Appointment{}, ErrNotFound
}

func (f *fakeStore) ListAppointments(_ context.Context, filter ListFilter) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if filter.Status != "" && appt.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && appt.StartTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !appt.StartTime.Before(filter.To) {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) UpdateAppointment(_ context.Context, id string, mutate func(*model.Appointment) error) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if err := mutate(&appt); err != nil {
		return model.Appointment{}, err
	}
	if f.conflictsLocked(appt) {
		return model.Appointment{}, ErrSlotUnavailable
	}
	f.appts[id] = appt
	return appt, nil
}

func (f *fakeStore) ActiveIntervals(_ context.Context, resourceID string, from, to time.Time) ([]availability.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []availability.Interval
	for _, appt := range f.appts {
		if appt.ResourceID != resourceID || !appt.Status.Active() {
			continue
		}
		if appt.StartTime.Before(to) && from.Before(appt.EndTime) {
			out = append(out, availability.Interval{Start: appt.StartTime, End: appt.EndTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *fakeStore) WindowsOn(_ context.Context, resourceID string, dayOfWeek int) ([]model.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AvailabilityWindow
	for _, w := range f.windows {
		if w.ResourceID == resourceID && w.DayOfWeek == dayOfWeek && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveWindows(_ context.Context, resourceID string) ([]model.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AvailabilityWindow
	for _, w := range f.windows {
		if w.ResourceID == resourceID && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, evt outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

// 2026-03-02 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func mondayWindow(startMin, endMin int) model.AvailabilityWindow {
	return model.AvailabilityWindow{
		ID:          fmt.Sprintf("win-%d-%d", startMin, endMin),
		ResourceID:  "primary",
		DayOfWeek:   1,
		StartMinute: startMin,
		EndMinute:   endMin,
		IsActive:    true,
	}
}

func newTestService(store Store) *Service {
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	// The Sunday before the Monday windows open.
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return svc
}

func seedActive(t *testing.T, store *fakeStore, start, end time.Time) model.Appointment {
	t.Helper()
	appt := model.Appointment{
		ID:          fmt.Sprintf("seed-%d", start.Unix()),
		ResourceID:  "primary",
		ClientName:  "Seed Client",
		ClientEmail: "seed@example.com",
		StartTime:   start,
		EndTime:     end,
		Status:      model.StatusConfirmed,
	}
	if err := store.CreateAppointment(context.Background(), &appt, nil); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	return appt
}

func TestCreatePublicBooking(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020)) // 09:00-17:00
	svc := newTestService(store)

	appt, err := svc.Create(context.Background(), CreateRequest{
		ClientName:      "Ada Teixeira",
		ClientEmail:     "ada@example.com",
		StartTime:       monday(10, 0),
		EndTime:         monday(11, 0),
		RequireApproval: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != model.StatusPendingApproval {
		t.Errorf("status = %s, want %s", appt.Status, model.StatusPendingApproval)
	}
	if !appt.RequiresApproval || appt.IsApproved {
		t.Errorf("approval flags = (%v, %v), want (true, false)", appt.RequiresApproval, appt.IsApproved)
	}
	if appt.DurationMinutes != 60 {
		t.Errorf("duration = %d, want 60", appt.DurationMinutes)
	}
	if appt.SessionToken == "" {
		t.Error("expected a session token")
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != outbox.TopicAppointmentRequested {
		t.Errorf("events = %v, want [%s]", got, outbox.TopicAppointmentRequested)
	}
}

func TestCreateSystemBookingBlocksSlot(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	appt, err := svc.Create(context.Background(), CreateRequest{
		ClientName:  "Paid Client",
		ClientEmail: "paid@example.com",
		StartTime:   monday(9, 0),
		EndTime:     monday(10, 0),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Errorf("status = %s, want %s", appt.Status, model.StatusPending)
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != outbox.TopicAppointmentBooked {
		t.Errorf("events = %v, want [%s]", got, outbox.TopicAppointmentBooked)
	}

	_, err = svc.Create(context.Background(), CreateRequest{
		ClientName:  "Second Client",
		ClientEmail: "second@example.com",
		StartTime:   monday(9, 30),
		EndTime:     monday(10, 30),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("overlapping create: got %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateOutsideWindows(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"before opening", monday(8, 0), monday(9, 0)},
		{"straddles opening", monday(8, 30), monday(9, 30)},
		{"runs past closing", monday(16, 30), monday(17, 30)},
		{"closed day", monday(10, 0).AddDate(0, 0, 1), monday(11, 0).AddDate(0, 0, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), CreateRequest{
				ClientName:  "Ada Teixeira",
				ClientEmail: "ada@example.com",
				StartTime:   tc.start,
				EndTime:     tc.end,
			})
			if !errors.Is(err, ErrSlotUnavailable) {
				t.Fatalf("got %v, want ErrSlotUnavailable", err)
			}
		})
	}
}

func TestCreateBackToBack(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)
	seedActive(t, store, monday(9, 0), monday(10, 0))

	if _, err := svc.Create(context.Background(), CreateRequest{
		ClientName:  "Ada Teixeira",
		ClientEmail: "ada@example.com",
		StartTime:   monday(10, 0),
		EndTime:     monday(11, 0),
	}); err != nil {
		t.Fatalf("back-to-back booking should succeed, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{ClientEmail: "a@b.com", StartTime: monday(10, 0), EndTime: monday(11, 0)}},
		{"missing email", CreateRequest{ClientName: "Ada", StartTime: monday(10, 0), EndTime: monday(11, 0)}},
		{"zero times", CreateRequest{ClientName: "Ada", ClientEmail: "a@b.com"}},
		{"end before start", CreateRequest{ClientName: "Ada", ClientEmail: "a@b.com", StartTime: monday(11, 0), EndTime: monday(10, 0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.req)
			if !IsValidation(err) {
				t.Fatalf("got %v, want validation error", err)
			}
		})
	}
}

func TestPendingApprovalDoesNotBlockSlot(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	req := CreateRequest{
		ClientName:      "Ada Teixeira",
		ClientEmail:     "ada@example.com",
		StartTime:       monday(10, 0),
		EndTime:         monday(11, 0),
		RequireApproval: true,
	}
	first, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	req.ClientName = "Beto Farah"
	req.ClientEmail = "beto@example.com"
	second, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("second pending_approval request for the same slot should coexist, got %v", err)
	}

	confirmed := model.StatusConfirmed
	if _, err := svc.Update(context.Background(), first.ID, UpdateRequest{Status: &confirmed}); err != nil {
		t.Fatalf("approving first request: %v", err)
	}
	_, err = svc.Update(context.Background(), second.ID, UpdateRequest{Status: &confirmed})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("approving second request for a taken slot: got %v, want ErrSlotUnavailable", err)
	}
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), CreateRequest{
				ClientName:  fmt.Sprintf("Client %d", i),
				ClientEmail: fmt.Sprintf("client%d@example.com", i),
				StartTime:   monday(14, 0),
				EndTime:     monday(15, 0),
			})
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d writers won the slot, want exactly 1", won)
	}
}

func TestUpdateTransitions(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	appt, err := svc.Create(context.Background(), CreateRequest{
		ClientName:      "Ada Teixeira",
		ClientEmail:     "ada@example.com",
		StartTime:       monday(10, 0),
		EndTime:         monday(11, 0),
		RequireApproval: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	completed := model.StatusCompleted
	if _, err := svc.Update(context.Background(), appt.ID, UpdateRequest{Status: &completed}); !IsValidation(err) {
		t.Fatalf("pending_approval -> completed: got %v, want validation error", err)
	}

	confirmed := model.StatusConfirmed
	got, err := svc.Update(context.Background(), appt.ID, UpdateRequest{Status: &confirmed})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != model.StatusConfirmed || !got.IsApproved {
		t.Errorf("after approval: status=%s approved=%v, want confirmed/true", got.Status, got.IsApproved)
	}

	got, err = svc.Update(context.Background(), appt.ID, UpdateRequest{Status: &completed})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	cancelled := model.StatusCancelled
	if _, err := svc.Update(context.Background(), appt.ID, UpdateRequest{Status: &cancelled}); !IsValidation(err) {
		t.Fatalf("completed is terminal: got %v, want validation error", err)
	}
}

func TestUpdateFields(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)
	appt := seedActive(t, store, monday(10, 0), monday(11, 0))

	hours := 1.5
	notes := "retouching ordered"
	got, err := svc.Update(context.Background(), appt.ID, UpdateRequest{
		BillableHours: &hours,
		WorkNotes:     &notes,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.BillableHours != 1.5 || got.WorkNotes != notes {
		t.Errorf("got (%v, %q), want (1.5, %q)", got.BillableHours, got.WorkNotes, notes)
	}
	if got.Status != model.StatusConfirmed {
		t.Errorf("field patch must not change status, got %s", got.Status)
	}

	negative := -1.0
	if _, err := svc.Update(context.Background(), appt.ID, UpdateRequest{BillableHours: &negative}); !IsValidation(err) {
		t.Fatalf("negative billableHours: got %v, want validation error", err)
	}
}

func TestCancelEmitsEvent(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)
	appt := seedActive(t, store, monday(10, 0), monday(11, 0))

	cancelled := model.StatusCancelled
	got, err := svc.Update(context.Background(), appt.ID, UpdateRequest{Status: &cancelled})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if types := store.eventTypes(); len(types) != 1 || types[0] != outbox.TopicAppointmentCancelled {
		t.Errorf("events = %v, want [%s]", types, outbox.TopicAppointmentCancelled)
	}
}

func TestUpdateNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	cancelled := model.StatusCancelled
	_, err := svc.Update(context.Background(), "no-such-id", UpdateRequest{Status: &cancelled})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLookup(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	appt, err := svc.Create(context.Background(), CreateRequest{
		ClientName:      "Ada Teixeira",
		ClientEmail:     "ada@example.com",
		StartTime:       monday(10, 0),
		EndTime:         monday(11, 0),
		RequireApproval: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The sessionId parameter carries the appointment id on the wire.
	got, err := svc.Lookup(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Lookup by id: %v", err)
	}
	if got.ID != appt.ID {
		t.Errorf("got id %s, want %s", got.ID, appt.ID)
	}

	// Token links keep resolving too.
	got, err = svc.Lookup(context.Background(), appt.SessionToken)
	if err != nil {
		t.Fatalf("Lookup by token: %v", err)
	}
	if got.ID != appt.ID {
		t.Errorf("token lookup got id %s, want %s", got.ID, appt.ID)
	}

	if _, err := svc.Lookup(context.Background(), "bogus-ref"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown reference: got %v, want ErrNotFound", err)
	}
}

func TestListOrderingAndFilters(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)
	late := seedActive(t, store, monday(15, 0), monday(16, 0))
	early := seedActive(t, store, monday(9, 0), monday(10, 0))

	got, err := svc.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
		t.Fatalf("expected ascending order [%s %s], got %v", early.ID, late.ID, got)
	}

	got, err = svc.List(context.Background(), ListFilter{From: monday(12, 0)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != late.ID {
		t.Fatalf("from filter: got %v", got)
	}

	if _, err := svc.List(context.Background(), ListFilter{Status: "nope"}); !IsValidation(err) {
		t.Fatalf("bad status filter: got %v, want validation error", err)
	}
	if _, err := svc.List(context.Background(), ListFilter{From: monday(12, 0), To: monday(9, 0)}); !IsValidation(err) {
		t.Fatalf("inverted range: got %v, want validation error", err)
	}
}

func TestScheduleFirstAvailable(t *testing.T) {
	store := newFakeStore(mondayWindow(540, 1020))
	svc := newTestService(store)

	appt, err := svc.ScheduleFirstAvailable(context.Background(), AutoBookRequest{
		ClientName:  "Paid Client",
		ClientEmail: "paid@example.com",
		OrderRef:    "order-123",
	})
	if err != nil {
		t.Fatalf("ScheduleFirstAvailable: %v", err)
	}
	if !appt.StartTime.Equal(monday(9, 0)) || !appt.EndTime.Equal(monday(10, 0)) {
		t.Errorf("slot = [%s, %s), want Monday 09:00-10:00", appt.StartTime, appt.EndTime)
	}
	if appt.Status != model.StatusPending {
		t.Errorf("status = %s, want %s", appt.Status, model.StatusPending)
	}

	// The first slot is now taken; the next request lands one stride later.
	next, err := svc.ScheduleFirstAvailable(context.Background(), AutoBookRequest{
		ClientName:  "Next Client",
		ClientEmail: "next@example.com",
	})
	if err != nil {
		t.Fatalf("second ScheduleFirstAvailable: %v", err)
	}
	if !next.StartTime.Equal(monday(10, 0)) {
		t.Errorf("next slot starts %s, want Monday 10:00", next.StartTime)
	}
}

func TestScheduleFirstAvailableExhausted(t *testing.T) {
	store := newFakeStore() // no windows at all
	svc := newTestService(store)

	_, err := svc.ScheduleFirstAvailable(context.Background(), AutoBookRequest{
		ClientName:  "Paid Client",
		ClientEmail: "paid@example.com",
		OrderRef:    "order-456",
	})
	if !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("got %v, want ErrNoAvailability", err)
	}
	if got := store.eventTypes(); len(got) != 1 || got[0] != outbox.TopicAutoBookFailed {
		t.Fatalf("events = %v, want [%s]", got, outbox.TopicAutoBookFailed)
	}
}
