package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	h := tb.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := func() []int {
		var out []int
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
			out = append(out, rec.Code)
		}
		return out
	}
	got := codes()
	if got[0] != 200 || got[1] != 200 || got[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", got)
	}
	now = now.Add(time.Second)
	if got := codes(); got[0] != 200 || got[2] != http.StatusTooManyRequests {
		t.Fatalf("after refill codes = %v", got)
	}
}

func TestWrapDisabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	Wrap(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code = %d", rec.Code)
	}
}
