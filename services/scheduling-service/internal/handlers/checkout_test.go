package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/model"
)

const testWebhookSecret = "whsec_test"

type stubBooker struct {
	requests []booking.AutoBookRequest
	err      error
}

func (s *stubBooker) ScheduleFirstAvailable(_ context.Context, req booking.AutoBookRequest) (model.Appointment, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return model.Appointment{}, s.err
	}
	return sampleAppointment(), nil
}

type stubInbox struct {
	seen map[string]bool
}

func (s *stubInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

// signStripePayload builds a Stripe-Signature header the verifier accepts.
func signStripePayload(payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"api_version": "2024-06-20",
		"created": %d,
		"data": {
			"object": {
				"id": "cs_test_1",
				"metadata": {"consultation_type": "portfolio-review", "duration_minutes": "90"},
				"customer_details": {"name": "Ada Teixeira", "email": "ada@example.com"}
			}
		}
	}`, eventID, time.Now().Unix())
}

func postWebhook(h *CheckoutHandler, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	return rec
}

func TestStripeWebhookAutoBooks(t *testing.T) {
	booker := &stubBooker{}
	h := NewCheckoutHandler(booker, &stubInbox{}, slog.New(slog.NewTextHandler(io.Discard, nil)), testWebhookSecret)

	payload := checkoutEvent("evt_1")
	rec := postWebhook(h, payload, signStripePayload(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if len(booker.requests) != 1 {
		t.Fatalf("booker called %d times, want 1", len(booker.requests))
	}
	got := booker.requests[0]
	if got.ClientName != "Ada Teixeira" || got.ClientEmail != "ada@example.com" {
		t.Errorf("client = (%q, %q)", got.ClientName, got.ClientEmail)
	}
	if got.ConsultationType != "portfolio-review" || got.DurationMinutes != 90 {
		t.Errorf("consultation = (%q, %d), want (portfolio-review, 90)", got.ConsultationType, got.DurationMinutes)
	}
	if got.OrderRef != "cs_test_1" {
		t.Errorf("orderRef = %q, want cs_test_1", got.OrderRef)
	}
}

func TestStripeWebhookDeduplicates(t *testing.T) {
	booker := &stubBooker{}
	h := NewCheckoutHandler(booker, &stubInbox{}, slog.New(slog.NewTextHandler(io.Discard, nil)), testWebhookSecret)

	payload := checkoutEvent("evt_dup")
	if rec := postWebhook(h, payload, signStripePayload(payload)); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: status = %d", rec.Code)
	}
	if rec := postWebhook(h, payload, signStripePayload(payload)); rec.Code != http.StatusOK {
		t.Fatalf("replay: status = %d", rec.Code)
	}
	if len(booker.requests) != 1 {
		t.Fatalf("booker called %d times after replay, want 1", len(booker.requests))
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	booker := &stubBooker{}
	h := NewCheckoutHandler(booker, &stubInbox{}, slog.New(slog.NewTextHandler(io.Discard, nil)), testWebhookSecret)

	payload := checkoutEvent("evt_bad")
	if rec := postWebhook(h, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: status = %d, want 400", rec.Code)
	}
	if rec := postWebhook(h, payload, "t=1,v1=deadbeef"); rec.Code != http.StatusBadRequest {
		t.Fatalf("forged signature: status = %d, want 400", rec.Code)
	}
	if len(booker.requests) != 0 {
		t.Fatal("booker must not run on unverified payloads")
	}
}

func TestStripeWebhookNoAvailabilityStillAcks(t *testing.T) {
	booker := &stubBooker{err: booking.ErrNoAvailability}
	h := NewCheckoutHandler(booker, &stubInbox{}, slog.New(slog.NewTextHandler(io.Discard, nil)), testWebhookSecret)

	payload := checkoutEvent("evt_full")
	rec := postWebhook(h, payload, signStripePayload(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (the order already succeeded)", rec.Code)
	}
}

func TestStripeWebhookIgnoresNonConsultation(t *testing.T) {
	booker := &stubBooker{}
	h := NewCheckoutHandler(booker, &stubInbox{}, slog.New(slog.NewTextHandler(io.Discard, nil)), testWebhookSecret)

	payload := fmt.Sprintf(`{
		"id": "evt_print",
		"type": "checkout.session.completed",
		"api_version": "2024-06-20",
		"created": %d,
		"data": {"object": {"id": "cs_print", "metadata": {"sku": "print-a3"}}}
	}`, time.Now().Unix())
	rec := postWebhook(h, payload, signStripePayload(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(booker.requests) != 0 {
		t.Fatal("non-consultation checkouts must not book anything")
	}
}
