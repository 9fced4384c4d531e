package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tendant/simple-idm-account/internal/config"
	"github.com/tendant/simple-idm-account/internal/http/features/account"
	"github.com/tendant/simple-idm-account/internal/http/features/admin"
	"github.com/tendant/simple-idm-account/internal/http/features/common"
	"github.com/tendant/simple-idm-account/internal/http/features/me"
	"github.com/tendant/simple-idm-account/internal/http/features/pages"
	"github.com/tendant/simple-idm-account/internal/http/features/posts"
	"github.com/tendant/simple-idm-account/internal/http/features/social"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	accountsvc "github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/auth"
	socialauth "github.com/tendant/simple-idm-account/pkg/social"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger   *slog.Logger
	Accounts *accountsvc.Service
	Tokens   *auth.TokenService
	Store    store.Store
	// OAuth is optional; social routes are only mounted when it has providers.
	OAuth *socialauth.OAuth

	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
	CookieSecure    bool // Whether to use Secure flag on cookies (should be true for HTTPS)
	// ServePages serves the pages emailed links point to.
	ServePages bool
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.Store.Ping(ctx); err != nil {
			cfg.Logger.Error("health check failed", "error", err)
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limits := middleware.NewLimiters(cfg.RateLimitConfig, cfg.Logger)
	gateway := middleware.NewGateway(cfg.Tokens, cfg.Store, cfg.Logger)

	cookie := httputil.DefaultCookieConfig()
	cookie.Secure = cfg.CookieSecure
	sessions := &common.Sessions{Tokens: cfg.Tokens, Cookie: cookie}

	account.NewHandler(cfg.Logger, cfg.Accounts, sessions).RegisterRoutes(r, gateway, limits)

	if cfg.OAuth != nil && len(cfg.OAuth.Providers()) > 0 {
		social.NewHandler(cfg.Logger, cfg.Accounts, cfg.OAuth, sessions).RegisterRoutes(r, gateway, limits)
	} else {
		cfg.Logger.Info("social login disabled: no providers configured")
	}

	me.NewHandler(cfg.Logger).RegisterRoutes(r, gateway, limits)
	posts.NewHandler(cfg.Logger, cfg.Store).RegisterRoutes(r, gateway)
	admin.NewHandler(cfg.Logger, cfg.Store).RegisterRoutes(r, gateway)

	if cfg.ServePages {
		pagesHandler, err := pages.NewHandler(cfg.Logger, cfg.Accounts.Config().SiteName)
		if err != nil {
			cfg.Logger.Error("failed to load page templates", "error", err)
		} else {
			pagesHandler.RegisterRoutes(r)
		}
	}

	return r
}
