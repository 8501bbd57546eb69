package ratelimit

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dskow/baas-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newBucketLimiter(t *testing.T, cfg config.RateLimitConfig, trustedProxies []string) *Limiter {
	t.Helper()
	bucket := NewBucket(cfg)
	l := New(bucket, trustedProxies, testLogger())
	t.Cleanup(l.Stop)
	return l
}

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}, nil)
	handler := limiter.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, nil)
	handler := limiter.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
		req.RemoteAddr = "10.0.0.2:12345"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestLimiter_PerClientIsolation(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	handler := limiter.Middleware()(okHandler())

	req1 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req1.RemoteAddr = "10.0.0.1:12345"
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	req1b := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req1b.RemoteAddr = "10.0.0.1:12345"
	rec1b := httptest.NewRecorder()
	handler.ServeHTTP(rec1b, req1b)
	if rec1b.Code != http.StatusTooManyRequests {
		t.Errorf("client 1 should be rate limited, got %d", rec1b.Code)
	}

	req2 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req2.RemoteAddr = "10.0.0.2:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Errorf("client 2 should be allowed, got %d", rec2.Code)
	}
}

func TestLimiter_XForwardedFor_NoTrustedProxies(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req.RemoteAddr = "10.0.0.50:8080"
	req.Header.Set("X-Forwarded-For", "192.168.1.100")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	// Same RemoteAddr, different XFF: XFF is ignored without trusted
	// proxies, so the second request is keyed by RemoteAddr and blocked.
	req2 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req2.RemoteAddr = "10.0.0.50:8080"
	req2.Header.Set("X-Forwarded-For", "192.168.1.200")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 (XFF ignored without trusted proxies), got %d", rec2.Code)
	}
}

func TestLimiter_XForwardedFor_TrustedProxy(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, []string{"10.0.0.0/8"})
	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req2 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req2.RemoteAddr = "10.0.0.1:8080"
	req2.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for same XFF IP via trusted proxy, got %d", rec2.Code)
	}
}

func TestLimiter_XForwardedFor_UntrustedPeer(t *testing.T) {
	limiter := newBucketLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, []string{"10.0.0.0/8"})
	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req.RemoteAddr = "203.0.113.99:12345"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	// Spoofed XFF from an untrusted peer is ignored.
	req2 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req2.RemoteAddr = "203.0.113.99:12345"
	req2.Header.Set("X-Forwarded-For", "5.6.7.8")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 (spoofed XFF from untrusted peer ignored), got %d", rec2.Code)
	}
}

func TestBucket_UpdateConfigResetsClients(t *testing.T) {
	bucket := NewBucket(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	limiter := New(bucket, nil, testLogger())
	defer limiter.Stop()
	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req.RemoteAddr = "10.0.0.9:12345"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	// Exhausted with the old settings.
	rec := httptest.NewRecorder()
	req2 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req2.RemoteAddr = "10.0.0.9:12345"
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 before reload, got %d", rec.Code)
	}

	limiter.UpdateConfig(config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100})

	rec3 := httptest.NewRecorder()
	req3 := httptest.NewRequest("GET", "/rest/v1/posts", nil)
	req3.RemoteAddr = "10.0.0.9:12345"
	handler.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Errorf("expected 200 after raising limits, got %d", rec3.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/rest/v1/posts", "rest"},
		{"/auth/v1/user", "auth"},
		{"/api/token/verify", "api"},
		{"/", "root"},
		{"", "root"},
		{"/health", "health"},
	}

	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
