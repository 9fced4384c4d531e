package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/simple-idm-account/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute, slog.New(slog.DiscardHandler))(okHandler())

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, status := range want {
		req := httptest.NewRequest(http.MethodPost, "/v1/account/login", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != status {
			t.Errorf("request %d: got status %d, want %d", i+1, w.Code, status)
		}
		if status == http.StatusTooManyRequests {
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["code"] != "RATE_LIMITED" {
				t.Errorf("code = %q, want RATE_LIMITED", body["code"])
			}
		}
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodPost, "/v1/account/login", nil)
	req.RemoteAddr = "10.0.0.7:4000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client: got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewLimiters_Disabled(t *testing.T) {
	limiters := NewLimiters(config.RateLimitConfig{Enabled: false}, nil)
	handler := limiters.Auth(okHandler())

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/account/login", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestNewLimiters_Enabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:                  true,
		AuthRequestsPerMinute:    1,
		AuthWindowMinutes:        1,
		ResetRequestsPerWindow:   1,
		VerifyRequestsPerWindow:  1,
		SocialRequestsPerMinute:  1,
		ProfileRequestsPerMinute: 1,
	}
	limiters := NewLimiters(cfg, slog.New(slog.DiscardHandler))

	for name, limiter := range map[string]Limiter{
		"auth":    limiters.Auth,
		"reset":   limiters.Reset,
		"verify":  limiters.Verify,
		"social":  limiters.Social,
		"profile": limiters.Profile,
	} {
		handler := limiter(okHandler())
		var last int
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.9:1"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			last = w.Code
		}
		if last != http.StatusTooManyRequests {
			t.Errorf("%s limiter: second request status %d, want %d", name, last, http.StatusTooManyRequests)
		}
	}
}
