package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, rate float64, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter("test", rate, burst)
	l.now = clock.now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestAllow_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request exceeding burst should be denied")
	}
}

func TestAllow_Replenishes(t *testing.T) {
	l, clock := newTestLimiter(t, 10, 2)

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	if l.Allow("10.0.0.1") {
		t.Fatal("expected denial after exhausting burst")
	}

	clock.advance(150 * time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Error("expected request to be allowed after replenishment")
	}
}

func TestAllow_TokensCappedAtBurst(t *testing.T) {
	l, clock := newTestLimiter(t, 100, 3)

	l.Allow("10.0.0.1")
	clock.advance(time.Minute)

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected 3 requests allowed, got %d", allowed)
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)

	l.Allow("10.0.0.1")
	if l.Allow("10.0.0.1") {
		t.Error("expected second request from first key to be denied")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("expected other key to be allowed")
	}
}

func TestEvictIdle(t *testing.T) {
	l, clock := newTestLimiter(t, 1, 1)

	l.Allow("10.0.0.1")
	clock.advance(11 * time.Minute)
	l.evictIdle(10 * time.Minute)

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("expected idle client evicted, %d remain", n)
	}
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)
	var rejected string
	l.OnReject = func(name string) { rejected = name }

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rejected != "test" {
		t.Errorf("expected OnReject with limiter name, got %q", rejected)
	}
}
