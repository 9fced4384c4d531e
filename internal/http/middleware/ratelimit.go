package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tendant/simple-idm-account/internal/config"
	"github.com/tendant/simple-idm-account/internal/httputil"
)

// Limiter is a per-client rate limit.
type Limiter func(http.Handler) http.Handler

// Limiters groups the rate limits applied to each family of account routes.
type Limiters struct {
	Auth    Limiter // register, login, passwordless
	Reset   Limiter // forgot-password, check-reset-token, reset-password
	Verify  Limiter // account verification
	Social  Limiter // OAuth start and callback
	Profile Limiter // authenticated reads
}

// RateLimit creates an IP-based limiter allowing requests per window.
func RateLimit(requests int, window time.Duration, logger *slog.Logger) Limiter {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if logger != nil {
				logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a pass-through limiter.
func NoRateLimit() Limiter {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// NewLimiters builds the route group limiters from configuration.
func NewLimiters(cfg config.RateLimitConfig, logger *slog.Logger) Limiters {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return Limiters{Auth: noOp, Reset: noOp, Verify: noOp, Social: noOp, Profile: noOp}
	}

	return Limiters{
		Auth:    RateLimit(cfg.AuthRequestsPerMinute, minutes(cfg.AuthWindowMinutes), logger),
		Reset:   RateLimit(cfg.ResetRequestsPerWindow, minutes(cfg.ResetWindowMinutes), logger),
		Verify:  RateLimit(cfg.VerifyRequestsPerWindow, minutes(cfg.VerifyWindowMinutes), logger),
		Social:  RateLimit(cfg.SocialRequestsPerMinute, minutes(cfg.SocialWindowMinutes), logger),
		Profile: RateLimit(cfg.ProfileRequestsPerMinute, minutes(cfg.ProfileWindowMinutes), logger),
	}
}

func minutes(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Minute
}
