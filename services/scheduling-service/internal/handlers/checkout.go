package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

// AutoBooker books the first open slot for a system-triggered request.
type AutoBooker interface {
	ScheduleFirstAvailable(ctx context.Context, req booking.AutoBookRequest) (model.Appointment, error)
}

// InboxRecorder deduplicates externally delivered events by id.
type InboxRecorder interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// CheckoutHandler auto-books a consultation when a Stripe checkout for a
// consultation product completes. Signature verification is the auth; the
// route is public.
type CheckoutHandler struct {
	booker    AutoBooker
	inbox     InboxRecorder
	logger    *slog.Logger
	secret    string
	tolerance time.Duration
}

func NewCheckoutHandler(booker AutoBooker, inbox InboxRecorder, logger *slog.Logger, secret string) *CheckoutHandler {
	return &CheckoutHandler{
		booker:    booker,
		inbox:     inbox,
		logger:    logger,
		secret:    secret,
		tolerance: 5 * time.Minute,
	}
}

func (h *CheckoutHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		writeError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	fresh, err := h.inbox.Record(r.Context(), evt.ID, string(evt.Type))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record provider event")
		return
	}
	if !fresh {
		h.logger.Info("stripe event duplicate ignored", "provider_event_id", evt.ID, "event_type", evt.Type)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	if evt.Type == "checkout.session.completed" {
		h.handleCheckoutCompleted(r.Context(), evt)
	}

	// The order already succeeded regardless of booking outcome, so the
	// webhook always acknowledges; failures are logged and the no-slot case
	// emits its own event for manual follow-up.
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *CheckoutHandler) handleCheckoutCompleted(ctx context.Context, evt stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		h.logger.Error("stripe: invalid checkout session payload", "err", err)
		return
	}

	consultationType := strings.TrimSpace(session.Metadata["consultation_type"])
	if consultationType == "" {
		// Not a consultation purchase; nothing to book.
		return
	}

	req := booking.AutoBookRequest{
		ConsultationType: consultationType,
		OrderRef:         session.ID,
	}
	if session.CustomerDetails != nil {
		req.ClientName = strings.TrimSpace(session.CustomerDetails.Name)
		req.ClientEmail = strings.TrimSpace(session.CustomerDetails.Email)
	}
	if raw := strings.TrimSpace(session.Metadata["duration_minutes"]); raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			req.DurationMinutes = mins
		}
	}

	appt, err := h.booker.ScheduleFirstAvailable(ctx, req)
	if err != nil {
		if errors.Is(err, booking.ErrNoAvailability) {
			h.logger.Warn("checkout auto-book found no open slot",
				"checkout_session", session.ID,
				"consultation_type", consultationType,
			)
			return
		}
		h.logger.Error("checkout auto-book failed", "checkout_session", session.ID, "err", err)
		return
	}

	h.logger.Info("consultation auto-booked from checkout",
		"checkout_session", session.ID,
		"appointment_id", appt.ID,
		"start_time", appt.StartTime.Format(time.RFC3339),
	)
}
