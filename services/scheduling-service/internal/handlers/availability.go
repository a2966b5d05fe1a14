package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/availability"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

// AvailabilityHandler is the admin surface for weekly availability windows.
// Times cross the wire as "HH:MM" and are stored as minutes from UTC midnight.
type AvailabilityHandler struct {
	store       WindowStore
	logger      *slog.Logger
	resourceID  string
	adminSecret string
}

func NewAvailabilityHandler(store WindowStore, logger *slog.Logger, resourceID, adminSecret string) *AvailabilityHandler {
	return &AvailabilityHandler{
		store:       store,
		logger:      logger,
		resourceID:  resourceID,
		adminSecret: adminSecret,
	}
}

type windowJSON struct {
	ID        string `json:"id"`
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	IsActive  bool   `json:"isActive"`
}

type createWindowRequest struct {
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type patchWindowRequest struct {
	IsActive *bool `json:"isActive"`
}

func windowToWire(w model.AvailabilityWindow) windowJSON {
	return windowJSON{
		ID:        w.ID,
		DayOfWeek: w.DayOfWeek,
		StartTime: availability.FormatClock(w.StartMinute),
		EndTime:   availability.FormatClock(w.EndMinute),
		IsActive:  w.IsActive,
	}
}

func (h *AvailabilityHandler) Collection(w http.ResponseWriter, r *http.Request) {
	if !requireAdminToken(w, r, h.adminSecret) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		windows, err := h.store.ListWindows(r.Context(), h.resourceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		items := make([]windowJSON, 0, len(windows))
		for _, win := range windows {
			items = append(items, windowToWire(win))
		}
		writeJSON(w, http.StatusOK, map[string]any{"windows": items})
	case http.MethodPost:
		h.create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AvailabilityHandler) Item(w http.ResponseWriter, r *http.Request) {
	if !requireAdminToken(w, r, h.adminSecret) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/availability/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "window not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req patchWindowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
			writeError(w, http.StatusBadRequest, "isActive is required")
			return
		}
		if err := h.store.SetWindowActive(r.Context(), id, *req.IsActive); err != nil {
			h.windowStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "isActive": *req.IsActive})
	case http.MethodDelete:
		if err := h.store.DeleteWindow(r.Context(), id); err != nil {
			h.windowStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AvailabilityHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		writeError(w, http.StatusBadRequest, "dayOfWeek must be 0 (Sunday) through 6 (Saturday)")
		return
	}
	startMin, err := availability.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	endMin, err := availability.ParseClock(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if endMin <= startMin {
		writeError(w, http.StatusBadRequest, "endTime must be after startTime")
		return
	}

	win := model.AvailabilityWindow{
		ResourceID:  h.resourceID,
		DayOfWeek:   req.DayOfWeek,
		StartMinute: startMin,
		EndMinute:   endMin,
		IsActive:    true,
	}
	if err := h.store.CreateWindow(r.Context(), &win); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("availability window created",
		"window_id", win.ID,
		"day_of_week", win.DayOfWeek,
		"start", req.StartTime,
		"end", req.EndTime,
	)
	writeJSON(w, http.StatusCreated, map[string]any{"window": windowToWire(win)})
}

func (h *AvailabilityHandler) windowStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, booking.ErrNotFound) {
		writeError(w, http.StatusNotFound, "window not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
