package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryRateLimiter_WindowRollover(t *testing.T) {
	rl := NewMemoryRateLimiter(2, time.Minute)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	now := base
	rl.now = func() time.Time { return now }

	ctx := context.Background()

	d, err := rl.Allow(ctx, "1.2.3.4:POST:/api/v1/appointments")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first request: got allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}
	if !d.ResetAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected resetAt %s", d.ResetAt)
	}

	d, _ = rl.Allow(ctx, "1.2.3.4:POST:/api/v1/appointments")
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second request: got allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}

	d, _ = rl.Allow(ctx, "1.2.3.4:POST:/api/v1/appointments")
	if d.Allowed {
		t.Fatal("third request should be denied")
	}

	// A different route for the same IP has its own bucket.
	d, _ = rl.Allow(ctx, "1.2.3.4:GET:/api/v1/appointments")
	if !d.Allowed {
		t.Fatal("different route should not share the bucket")
	}

	now = base.Add(61 * time.Second)
	d, _ = rl.Allow(ctx, "1.2.3.4:POST:/api/v1/appointments")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after rollover: got allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}
}

func TestWithRateLimit_DeniesWithHeaders(t *testing.T) {
	rl := NewMemoryRateLimiter(1, time.Minute)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), WithRateLimit(rl, nil, false))

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/appointments", nil)
	req.RemoteAddr = "10.0.0.9:4242"

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rw.Code)
	}
	if rw.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header 0, got %q", rw.Header().Get("X-RateLimit-Remaining"))
	}
	if rw.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected reset header")
	}
}
