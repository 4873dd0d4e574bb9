package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRequest(remoteAddr, xff, realIP string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	if realIP != "" {
		req.Header.Set("X-Real-IP", realIP)
	}
	return req
}

func TestTokenBucketDepletes(t *testing.T) {
	bucket := newTokenBucket(1, 2)
	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("burst capacity not honoured")
	}
	if bucket.Allow() {
		t.Fatal("bucket allowed request beyond burst")
	}
}

func TestRateLimiterDisabledByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatal("unconfigured limiter rejected request")
		}
	}
	allowed, _, err := rl.AllowLogin("203.0.113.7")
	if err != nil || !allowed {
		t.Fatalf("unconfigured login limiter: allowed=%v err=%v", allowed, err)
	}
}

func TestLoginLimiterPerKey(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})

	allowed, _, err := rl.AllowLogin("10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("first attempt: allowed=%v err=%v", allowed, err)
	}
	allowed, retryAfter, err := rl.AllowLogin("10.0.0.1")
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if allowed {
		t.Fatal("second attempt should be throttled")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want positive", retryAfter)
	}

	// A different client keeps its own budget.
	allowed, _, err = rl.AllowLogin("10.0.0.2")
	if err != nil || !allowed {
		t.Fatalf("other key attempt: allowed=%v err=%v", allowed, err)
	}
}

type stubTokenStore struct {
	allowed bool
	retry   time.Duration
	keys    []string
}

func (s *stubTokenStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.retry, nil
}

func TestLoginLimiterPrefersStore(t *testing.T) {
	store := &stubTokenStore{allowed: false, retry: 30 * time.Second}
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 5, LoginWindow: time.Minute})
	rl.store = store

	allowed, retryAfter, err := rl.AllowLogin("172.16.0.9")
	if err != nil {
		t.Fatalf("AllowLogin: %v", err)
	}
	if allowed {
		t.Fatal("store verdict ignored")
	}
	if retryAfter != 30*time.Second {
		t.Fatalf("retryAfter = %v, want 30s", retryAfter)
	}
	if len(store.keys) != 1 || store.keys[0] != "lanstream:login:172.16.0.9" {
		t.Fatalf("store keys = %v", store.keys)
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"remote addr only", "198.51.100.4:1234", "", "", "198.51.100.4"},
		{"forwarded for wins", "198.51.100.4:1234", "203.0.113.9, 10.0.0.1", "", "203.0.113.9"},
		{"real ip fallback", "198.51.100.4:1234", "", "203.0.113.50", "203.0.113.50"},
		{"bare addr", "198.51.100.4", "", "", "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newTestRequest(tc.remoteAddr, tc.xff, tc.realIP)
			if got := extractClientIP(req); got != tc.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
