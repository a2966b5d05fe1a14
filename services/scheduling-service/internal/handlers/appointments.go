package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avelk/studiodesk/libs/auth"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

type AppointmentHandler struct {
	svc         BookingService
	logger      *slog.Logger
	adminSecret string
}

func NewAppointmentHandler(svc BookingService, logger *slog.Logger, adminSecret string) *AppointmentHandler {
	return &AppointmentHandler{
		svc:         svc,
		logger:      logger,
		adminSecret: adminSecret,
	}
}

type createAppointmentRequest struct {
	ClientName  string `json:"clientName"`
	ClientEmail string `json:"clientEmail"`
	// Either startTime/endTime as RFC3339, or date ("2006-01-02") plus
	// time ("15:04") plus durationMinutes. The booking form sends the latter.
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	DurationMinutes  int    `json:"durationMinutes"`
	ConsultationType string `json:"consultationType"`
	Notes            string `json:"notes"`
}

type updateAppointmentRequest struct {
	ID            string   `json:"id"`
	Status        *string  `json:"status"`
	BillableHours *float64 `json:"billableHours"`
	WorkNotes     *string  `json:"workNotes"`
	Notes         *string  `json:"notes"`
}

// Collection serves /api/v1/appointments: POST books, GET with sessionId is
// the public lookup, plain GET is the admin list, PATCH is the admin update
// with the id carried in the body.
func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		if ref := strings.TrimSpace(r.URL.Query().Get("sessionId")); ref != "" {
			h.lookup(w, r, ref)
			return
		}
		h.list(w, r)
	case http.MethodPatch:
		if !h.requireAdmin(w, r) {
			return
		}
		h.update(w, r, "")
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Item serves /api/v1/appointments/{id}: GET fetches, PATCH applies the
// administrative update (status transitions, billing fields).
func (h *AppointmentHandler) Item(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !h.requireAdmin(w, r) {
			return
		}
		appt, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointment": toWire(appt)})
	case http.MethodPatch:
		if !h.requireAdmin(w, r) {
			return
		}
		h.update(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	start, end, err := resolveInterval(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	appt, err := h.svc.Create(r.Context(), booking.CreateRequest{
		ClientName:       req.ClientName,
		ClientEmail:      req.ClientEmail,
		StartTime:        start,
		EndTime:          end,
		ConsultationType: req.ConsultationType,
		Notes:            req.Notes,
		RequireApproval:  true,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("appointment requested",
		"appointment_id", appt.ID,
		"start_time", appt.StartTime.Format(time.RFC3339),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"appointment": toWire(appt)})
}

// lookup resolves the sessionId query parameter, which names the appointment
// id on the wire.
func (h *AppointmentHandler) lookup(w http.ResponseWriter, r *http.Request, ref string) {
	appt, err := h.svc.Lookup(r.Context(), ref)
	if err != nil {
		// An unknown reference reads as "no appointment yet", not an error, so
		// the booking page can poll without special-casing 404s.
		if errors.Is(err, booking.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"appointment": nil})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": toWire(appt)})
}

func (h *AppointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var f booking.ListFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("startDate")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid startDate (want YYYY-MM-DD)")
			return
		}
		f.From = t
	}
	if raw := strings.TrimSpace(q.Get("endDate")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endDate (want YYYY-MM-DD)")
			return
		}
		// endDate is inclusive on the wire; the filter bound is exclusive.
		f.To = t.AddDate(0, 0, 1)
	}
	f.Status = model.Status(strings.TrimSpace(q.Get("status")))

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]appointmentJSON, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toWire(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) update(w http.ResponseWriter, r *http.Request, pathID string) {
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id := pathID
	if id == "" {
		id = strings.TrimSpace(req.ID)
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	upd := booking.UpdateRequest{
		BillableHours: req.BillableHours,
		WorkNotes:     req.WorkNotes,
		Notes:         req.Notes,
	}
	if req.Status != nil {
		status := model.Status(strings.TrimSpace(*req.Status))
		upd.Status = &status
	}

	appt, err := h.svc.Update(r.Context(), id, upd)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("appointment updated", "appointment_id", appt.ID, "status", appt.Status)
	writeJSON(w, http.StatusOK, map[string]any{"appointment": toWire(appt)})
}

func (h *AppointmentHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	return requireAdminToken(w, r, h.adminSecret)
}

// requireAdminToken gates admin routes on a bearer token signed with the
// shared admin secret and carrying role "admin".
func requireAdminToken(w http.ResponseWriter, r *http.Request, secret string) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
	if err != nil || claims.Role != "admin" {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

var errMissingInterval = errors.New("either startTime/endTime or date/time is required")

func errBadField(name, format string) error {
	return fmt.Errorf("invalid %s (want %s)", name, format)
}

func resolveInterval(req createAppointmentRequest) (time.Time, time.Time, error) {
	if req.StartTime != "" || req.EndTime != "" {
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return time.Time{}, time.Time{}, errBadField("startTime", "RFC3339")
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, errBadField("endTime", "RFC3339")
		}
		return start, end, nil
	}

	if req.Date == "" || req.Time == "" {
		return time.Time{}, time.Time{}, errMissingInterval
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return time.Time{}, time.Time{}, errBadField("date", "YYYY-MM-DD")
	}
	clock, err := time.Parse("15:04", req.Time)
	if err != nil {
		return time.Time{}, time.Time{}, errBadField("time", "HH:MM")
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Hour
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
	return start, start.Add(duration), nil
}
