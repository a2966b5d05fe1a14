package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/availability"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/outbox"
)

// Store is the persistence contract the booking engine runs against. The
// Postgres implementation enforces non-overlap of active-status appointments
// with an exclusion constraint, so CreateAppointment and UpdateAppointment
// return ErrSlotUnavailable when a concurrent writer got the slot first.
type Store interface {
	// CreateAppointment persists the appointment and, when evt is non-nil,
	// records the event in the same transaction.
	CreateAppointment(ctx context.Context, appt *model.Appointment, evt *outbox.Event) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	GetBySessionToken(ctx context.Context, token string) (model.Appointment, error)
	// ListAppointments returns matches ordered ascending by start time.
	ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error)
	// UpdateAppointment loads the appointment for update, applies mutate and
	// persists the result atomically.
	UpdateAppointment(ctx context.Context, id string, mutate func(*model.Appointment) error) (model.Appointment, error)
	// ActiveIntervals returns the occupied spans of active-status appointments
	// intersecting [from, to), ascending by start.
	ActiveIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]availability.Interval, error)
	WindowsOn(ctx context.Context, resourceID string, dayOfWeek int) ([]model.AvailabilityWindow, error)
	ListActiveWindows(ctx context.Context, resourceID string) ([]model.AvailabilityWindow, error)
	// AppendEvent records an event outside of any appointment mutation.
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type ListFilter struct {
	From   time.Time
	To     time.Time
	Status model.Status
}

type Config struct {
	// ResourceID is the calendar being booked. Single-operator deployments use
	// one fixed value; nothing below assumes there could never be more.
	ResourceID      string
	HorizonDays     int
	SlotStride      time.Duration
	DefaultDuration time.Duration
}

type Service struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger, cfg Config) *Service {
	if cfg.ResourceID == "" {
		cfg.ResourceID = "primary"
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 14
	}
	if cfg.SlotStride <= 0 {
		cfg.SlotStride = time.Hour
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = time.Hour
	}
	return &Service{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

type CreateRequest struct {
	ClientName       string
	ClientEmail      string
	StartTime        time.Time
	EndTime          time.Time
	ConsultationType string
	Notes            string
	// RequireApproval is true for the public booking form. System-triggered
	// bookings (paid checkout) pass false and land directly in the active set.
	RequireApproval bool
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	if req.ClientName == "" {
		return model.Appointment{}, validationf("clientName is required")
	}
	if req.ClientEmail == "" {
		return model.Appointment{}, validationf("clientEmail is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return model.Appointment{}, validationf("startTime and endTime are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return model.Appointment{}, validationf("endTime must be after startTime")
	}

	start := req.StartTime.UTC()
	end := req.EndTime.UTC()

	if err := s.checkBookable(ctx, start, end); err != nil {
		return model.Appointment{}, err
	}

	now := s.now().UTC()
	appt := model.Appointment{
		ID:               uuid.NewString(),
		ResourceID:       s.cfg.ResourceID,
		ClientName:       req.ClientName,
		ClientEmail:      req.ClientEmail,
		StartTime:        start,
		EndTime:          end,
		DurationMinutes:  int(end.Sub(start) / time.Minute),
		Status:           model.StatusPendingApproval,
		RequiresApproval: true,
		SessionToken:     newSessionToken(),
		ConsultationType: strings.TrimSpace(req.ConsultationType),
		Notes:            req.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	eventType := outbox.TopicAppointmentRequested
	if !req.RequireApproval {
		appt.Status = model.StatusPending
		appt.RequiresApproval = false
		eventType = outbox.TopicAppointmentBooked
	}

	evt, err := appointmentEvent(eventType, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.store.CreateAppointment(ctx, &appt, evt); err != nil {
		// A concurrent writer may have taken the slot between the pre-check
		// and the insert; the exclusion constraint is the authority.
		if errors.Is(err, ErrSlotUnavailable) {
			return model.Appointment{}, ErrSlotUnavailable
		}
		return model.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	return appt, nil
}

// checkBookable is the conflict check: the candidate must sit fully inside one
// active window for the UTC day its start falls on, and must not overlap any
// active-status appointment. Pure read; no side effects.
func (s *Service) checkBookable(ctx context.Context, start, end time.Time) error {
	windows, err := s.store.WindowsOn(ctx, s.cfg.ResourceID, int(start.UTC().Weekday()))
	if err != nil {
		return fmt.Errorf("load windows: %w", err)
	}
	if !availability.AnyContains(toWindows(windows), start, end) {
		return ErrSlotUnavailable
	}

	busy, err := s.store.ActiveIntervals(ctx, s.cfg.ResourceID, start, end)
	if err != nil {
		return fmt.Errorf("load booked intervals: %w", err)
	}
	if availability.OverlapsAny(start, end, busy) {
		return ErrSlotUnavailable
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, validationf("id is required")
	}
	return s.store.GetAppointment(ctx, id)
}

// Lookup resolves the reference the booking page polls with, so a client can
// re-fetch their appointment without authenticating. The sessionId query
// parameter carries the appointment id despite its name; references that miss
// by id fall back to the session token so links minted from the token still
// resolve.
func (s *Service) Lookup(ctx context.Context, ref string) (model.Appointment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Appointment{}, validationf("sessionId is required")
	}
	appt, err := s.store.GetAppointment(ctx, ref)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Appointment{}, err
	}
	return s.store.GetBySessionToken(ctx, ref)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, validationf("unknown status %q", f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, validationf("endDate must not precede startDate")
	}
	return s.store.ListAppointments(ctx, f)
}

type UpdateRequest struct {
	Status        *model.Status
	BillableHours *float64
	WorkNotes     *string
	Notes         *string
}

// Update applies an administrative patch. It deliberately does not re-run the
// conflict check: status changes do not move the appointment in time. A status
// flip into the active set is still subject to the exclusion constraint, which
// is what resolves two pending_approval requests racing for one slot.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, validationf("id is required")
	}

	var cancelled bool
	updated, err := s.store.UpdateAppointment(ctx, id, func(appt *model.Appointment) error {
		if req.Status != nil {
			next := *req.Status
			if !next.Valid() {
				return validationf("unknown status %q", next)
			}
			if next != appt.Status {
				if !canTransition(appt.Status, next) {
					return validationf("cannot transition from %s to %s", appt.Status, next)
				}
				appt.Status = next
				cancelled = next == model.StatusCancelled
				if appt.RequiresApproval && next.Active() {
					appt.IsApproved = true
				}
			}
		}
		if req.BillableHours != nil {
			if *req.BillableHours < 0 {
				return validationf("billableHours must not be negative")
			}
			appt.BillableHours = *req.BillableHours
		}
		if req.WorkNotes != nil {
			appt.WorkNotes = *req.WorkNotes
		}
		if req.Notes != nil {
			appt.Notes = *req.Notes
		}
		appt.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	if cancelled {
		// The slot is free again; downstream listeners (notification mail,
		// shop follow-ups) learn about it asynchronously.
		if evt, evtErr := appointmentEvent(outbox.TopicAppointmentCancelled, updated); evtErr != nil {
			s.logger.Error("failed to build cancellation event", "err", evtErr)
		} else if appendErr := s.store.AppendEvent(ctx, *evt); appendErr != nil {
			s.logger.Error("failed to record cancellation event", "err", appendErr)
		}
	}
	return updated, nil
}

type AutoBookRequest struct {
	ClientName       string
	ClientEmail      string
	DurationMinutes  int
	ConsultationType string
	Notes            string
	// OrderRef identifies the purchase that triggered the booking; carried on
	// the failure event so the back office can follow up manually.
	OrderRef string
}

// ScheduleFirstAvailable books the earliest open slot within the horizon for a
// system-triggered request. The busy set is fetched once for the whole horizon
// and the walk happens in memory. When the horizon is exhausted it reports
// ErrNoAvailability; it never invents a fallback slot, because a fabricated
// time could land outside every availability window.
func (s *Service) ScheduleFirstAvailable(ctx context.Context, req AutoBookRequest) (model.Appointment, error) {
	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}

	var lastErr error
	// The search itself is side-effect-free, so losing a race on the final
	// insert is safe to retry with a fresh busy set.
	for attempt := 0; attempt < 3; attempt++ {
		now := s.now().UTC()
		horizonEnd := now.AddDate(0, 0, s.cfg.HorizonDays)

		windows, err := s.store.ListActiveWindows(ctx, s.cfg.ResourceID)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("load windows: %w", err)
		}
		busy, err := s.store.ActiveIntervals(ctx, s.cfg.ResourceID, now, horizonEnd)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("load booked intervals: %w", err)
		}

		slot, ok := availability.FirstSlot(now, s.cfg.HorizonDays, duration, s.cfg.SlotStride, toWindows(windows), busy)
		if !ok {
			s.reportNoAvailability(ctx, req, duration)
			return model.Appointment{}, ErrNoAvailability
		}

		appt, err := s.Create(ctx, CreateRequest{
			ClientName:       req.ClientName,
			ClientEmail:      req.ClientEmail,
			StartTime:        slot.Start,
			EndTime:          slot.End,
			ConsultationType: req.ConsultationType,
			Notes:            req.Notes,
			RequireApproval:  false,
		})
		if err == nil {
			return appt, nil
		}
		if !errors.Is(err, ErrSlotUnavailable) {
			return model.Appointment{}, err
		}
		lastErr = err
		s.logger.Warn("auto-book lost slot race, retrying", "attempt", attempt+1)
	}
	return model.Appointment{}, lastErr
}

func (s *Service) reportNoAvailability(ctx context.Context, req AutoBookRequest, duration time.Duration) {
	payload, err := json.Marshal(map[string]any{
		"order_ref":        req.OrderRef,
		"client_name":      req.ClientName,
		"client_email":     req.ClientEmail,
		"duration_minutes": int(duration / time.Minute),
		"horizon_days":     s.cfg.HorizonDays,
		"failed_at":        s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to build autobook failure payload", "err", err)
		return
	}
	if err := s.store.AppendEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   req.OrderRef,
		EventType:     outbox.TopicAutoBookFailed,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("failed to record autobook failure event", "err", err)
	}
}

func appointmentEvent(eventType string, appt model.Appointment) (*outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id":    appt.ID,
		"resource_id":       appt.ResourceID,
		"client_name":       appt.ClientName,
		"client_email":      appt.ClientEmail,
		"start_time":        appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":          appt.EndTime.UTC().Format(time.RFC3339),
		"duration_minutes":  appt.DurationMinutes,
		"status":            string(appt.Status),
		"consultation_type": appt.ConsultationType,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s payload: %w", eventType, err)
	}
	return &outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

func toWindows(in []model.AvailabilityWindow) []availability.Window {
	out := make([]availability.Window, 0, len(in))
	for _, w := range in {
		out = append(out, availability.Window{
			DayOfWeek:   w.DayOfWeek,
			StartMinute: w.StartMinute,
			EndMinute:   w.EndMinute,
		})
	}
	return out
}

func newSessionToken() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
