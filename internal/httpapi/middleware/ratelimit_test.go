package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit_AllowsThenBlocks(t *testing.T) {
	h := RateLimit(60, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("want 200 got %d", rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 429 {
		t.Fatalf("want 429 got %d", rr.Code)
	}

	// a different client has its own bucket
	other := httptest.NewRequest("GET", "/", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if rr.Code != 200 {
		t.Fatalf("want 200 for other client got %d", rr.Code)
	}

	time.Sleep(1100 * time.Millisecond)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	if rr2.Code != 200 {
		t.Fatalf("want 200 after refill got %d", rr2.Code)
	}
}

func TestRateLimit_ForwardedFor(t *testing.T) {
	h := RateLimit(60, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i, want := range []int{200, 429} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: want %d got %d", i, want, rr.Code)
		}
	}
}

func TestLimiter_ForgetsIdleClients(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLimiter(60, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.allow("a")
	l.allow("b")
	if l.size() != 2 {
		t.Fatalf("want 2 visitors, got %d", l.size())
	}
	now = now.Add(2 * time.Minute)
	l.allow("c")
	if l.size() != 1 {
		t.Fatalf("idle visitors not evicted, have %d", l.size())
	}
}
