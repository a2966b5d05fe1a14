package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

// BookingService is the slice of the booking engine the HTTP layer needs.
// Handler tests stub it.
type BookingService interface {
	Create(ctx context.Context, req booking.CreateRequest) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	Lookup(ctx context.Context, ref string) (model.Appointment, error)
	List(ctx context.Context, f booking.ListFilter) ([]model.Appointment, error)
	Update(ctx context.Context, id string, req booking.UpdateRequest) (model.Appointment, error)
}

// WindowStore is the admin surface over availability windows.
type WindowStore interface {
	ListWindows(ctx context.Context, resourceID string) ([]model.AvailabilityWindow, error)
	CreateWindow(ctx context.Context, w *model.AvailabilityWindow) error
	SetWindowActive(ctx context.Context, id string, active bool) error
	DeleteWindow(ctx context.Context, id string) error
}

type appointmentJSON struct {
	ID               string  `json:"id"`
	ResourceID       string  `json:"resourceId"`
	ClientName       string  `json:"clientName"`
	ClientEmail      string  `json:"clientEmail"`
	StartTime        string  `json:"startTime"`
	EndTime          string  `json:"endTime"`
	DurationMinutes  int     `json:"durationMinutes"`
	Status           string  `json:"status"`
	RequiresApproval bool    `json:"requiresApproval"`
	IsApproved       bool    `json:"isApproved"`
	SessionToken     string  `json:"sessionToken,omitempty"`
	ConsultationType string  `json:"consultationType,omitempty"`
	Notes            string  `json:"notes,omitempty"`
	WorkNotes        string  `json:"workNotes,omitempty"`
	BillableHours    float64 `json:"billableHours,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toWire(appt model.Appointment) appointmentJSON {
	return appointmentJSON{
		ID:               appt.ID,
		ResourceID:       appt.ResourceID,
		ClientName:       appt.ClientName,
		ClientEmail:      appt.ClientEmail,
		StartTime:        appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:          appt.EndTime.UTC().Format(time.RFC3339),
		DurationMinutes:  appt.DurationMinutes,
		Status:           string(appt.Status),
		RequiresApproval: appt.RequiresApproval,
		IsApproved:       appt.IsApproved,
		SessionToken:     appt.SessionToken,
		ConsultationType: appt.ConsultationType,
		Notes:            appt.Notes,
		WorkNotes:        appt.WorkNotes,
		BillableHours:    appt.BillableHours,
		CreatedAt:        appt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps booking engine errors to HTTP statuses: bad input is
// 400, unknown id 404, a lost slot 409. Anything else is a 500 with a generic
// message so internals never leak to clients.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case booking.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "requested time is no longer available")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
