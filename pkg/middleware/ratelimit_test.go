package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bitechdev/tagstream/pkg/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	defer rl.Stop()
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/ws/dashboard", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Request %d failed: got %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","message":"Too many requests"}`, w.Body.String())

	time.Sleep(600 * time.Millisecond)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Request after wait failed: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	handler := rl.Middleware(okHandler())

	for _, addr := range []string{"192.168.1.1:12345", "192.168.1.2:12345"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
	assert.Equal(t, 2, rl.TrackedClients())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		expectedIP    string
	}{
		{name: "RemoteAddr only", remoteAddr: "192.168.1.1:12345", expectedIP: "192.168.1.1"},
		{name: "X-Forwarded-For single IP", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.1", expectedIP: "203.0.113.1"},
		{name: "X-Forwarded-For multiple IPs", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.1, 10.0.0.2, 10.0.0.3", expectedIP: "203.0.113.1"},
		{name: "X-Real-IP", remoteAddr: "10.0.0.1:12345", xRealIP: "203.0.113.1", expectedIP: "203.0.113.1"},
		{name: "X-Forwarded-For takes precedence", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.1", xRealIP: "203.0.113.2", expectedIP: "203.0.113.1"},
		{name: "IPv6 address", remoteAddr: "[2001:db8::1]:12345", expectedIP: "2001:db8::1"},
		{name: "no port", remoteAddr: "pipe", expectedIP: "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if ip := getClientIP(req); ip != tt.expectedIP {
				t.Errorf("getClientIP() = %q, want %q", ip, tt.expectedIP)
			}
		})
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	defer rl.Stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("203.0.113.1")
	now = now.Add(4 * time.Minute)
	rl.getLimiter("203.0.113.2")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, rl.evictIdle(5*time.Minute))
	assert.Equal(t, 1, rl.TrackedClients())
	assert.Equal(t, 10.0, rl.GetRateLimitInfo("203.0.113.1").TokensRemaining, "evicted clients start with a full bucket")
}

func TestRateLimiter_GetRateLimitInfo(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	defer rl.Stop()
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "198.51.100.7:999"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	info := rl.GetRateLimitInfo("198.51.100.7")
	assert.Equal(t, "198.51.100.7", info.IP)
	assert.Equal(t, 3, info.Burst)
	assert.Equal(t, 1.0, info.Limit)
	assert.InDelta(t, 2.0, info.TokensRemaining, 0.1)
}

func TestNewRateLimiterFromConfig(t *testing.T) {
	rl := NewRateLimiterFromConfig(config.RateLimitConfig{Enabled: true})
	defer rl.Stop()

	info := rl.GetRateLimitInfo("x")
	assert.Equal(t, float64(defaultRPS), info.Limit)
	assert.Equal(t, defaultBurst, info.Burst)
}
