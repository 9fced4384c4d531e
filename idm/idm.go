// Package idm provides an embeddable account management service: password
// and passwordless login, email verification, password recovery and social
// login, behind a bearer token gateway.
//
// Basic usage with the in-memory store:
//
//	accounts, err := idm.New(idm.Config{
//	    Store:     memory.New(),
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", accounts.Router())
//
// With PostgreSQL, run the embedded migrations first:
//
//	db, _ := postgres.Open(ctx, postgres.Config{Host: "localhost", ...})
//	if err := postgres.Migrate(ctx, db, logger); err != nil {
//	    log.Fatal(err)
//	}
//	accounts, err := idm.New(idm.Config{Store: postgres.New(db), ...})
//
// Protect your own routes with the gateway:
//
//	r.With(accounts.Authorize("admin")).Get("/reports", reports)
package idm

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-idm-account/internal/config"
	httpserver "github.com/tendant/simple-idm-account/internal/http"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
	"github.com/tendant/simple-idm-account/pkg/social"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// RateLimitConfig configures per route group rate limits.
type RateLimitConfig = config.RateLimitConfig

// SecurityHeadersConfig configures response security headers.
type SecurityHeadersConfig = config.SecurityHeadersConfig

// Config holds the configuration for the IDM library.
type Config struct {
	// Store is the credential store (required).
	Store store.Store

	// JWTSecret is the secret key for signing tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in tokens (default: "simple-idm-account").
	JWTIssuer string

	// TokenTTL is the lifetime of session tokens (default: 24 hours).
	TokenTTL time.Duration

	// Revoker records logged out tokens (default: in-memory).
	Revoker auth.Revoker

	// Account controls the enabled flows (default: account.DefaultConfig()).
	Account *account.Config

	// Notifier sends account emails (default: logged, sent in the background).
	Notifier notify.Notifier

	// Social enables OAuth login for the listed providers (optional).
	Social map[string]social.Credentials

	// OAuthRedirectBase is the public URL of the social routes, e.g.
	// "https://id.example.com/v1/account/social".
	OAuthRedirectBase string

	// StateStore keeps pending OAuth flows (default: in-memory).
	StateStore social.StateStore

	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig
	MaxRequestBodySize int64
	CookieSecure       bool
	// ServePages serves the landing pages for emailed links at Account.BaseURL.
	ServePages bool

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// IDM is the main identity management instance.
type IDM struct {
	config   Config
	tokens   *auth.TokenService
	accounts *account.Service
	oauth    *social.OAuth
	gateway  *middleware.Gateway
	async    *notify.Async
	router   http.Handler
}

// New creates a new IDM instance with the given configuration.
func New(cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	}, cfg.Revoker)
	if err != nil {
		return nil, err
	}

	i := &IDM{config: cfg, tokens: tokens}

	notifier := cfg.Notifier
	if notifier == nil {
		mailer, err := notify.NewMailer(notify.NewLogTransport(cfg.Logger), notify.MailerConfig{
			SiteName: cfg.Account.SiteName,
		}, cfg.Logger)
		if err != nil {
			return nil, err
		}
		i.async = notify.NewAsync(mailer, cfg.Logger)
		notifier = i.async
	}

	accountCfg := *cfg.Account
	if len(cfg.Social) > 0 && len(accountCfg.Providers) == 0 {
		for name := range cfg.Social {
			accountCfg.Providers = append(accountCfg.Providers, name)
		}
	}
	i.accounts = account.NewService(accountCfg, cfg.Store, notifier, cfg.Logger)
	if len(cfg.Social) > 0 {
		i.oauth = social.NewOAuth(cfg.OAuthRedirectBase, cfg.Social, cfg.StateStore)
	}
	i.gateway = middleware.NewGateway(tokens, cfg.Store, cfg.Logger)

	i.router = httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          cfg.Logger,
		Accounts:        i.accounts,
		Tokens:          tokens,
		Store:           cfg.Store,
		OAuth:           i.oauth,
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      config.ValidationConfig{MaxRequestBodySize: cfg.MaxRequestBodySize},
		CookieSecure:    cfg.CookieSecure,
		ServePages:      cfg.ServePages,
	})
	return i, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Store == nil {
		return errors.New("idm: Store is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("idm: JWTSecret must be at least 32 characters")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Account == nil {
		def := account.DefaultConfig()
		cfg.Account = &def
	}
	if cfg.Revoker == nil {
		cfg.Revoker = auth.NewMemoryRevoker()
	}
	if cfg.StateStore == nil {
		cfg.StateStore = social.NewMemoryStateStore()
	}
	if cfg.OAuthRedirectBase == "" {
		cfg.OAuthRedirectBase = cfg.Account.BaseURL + "/v1/account/social"
	}
	if cfg.MaxRequestBodySize == 0 {
		cfg.MaxRequestBodySize = 1 << 20
	}
}

// Router returns the handler serving every account route:
//
//	GET    /health
//	POST   /v1/account/{register,verify,passwordless,login,logout}
//	POST   /v1/account/{forgot-password,check-reset-token,reset-password}
//	GET    /v1/account/social/{provider}           (if configured)
//	GET    /v1/account/social/{provider}/callback  (if configured)
//	DELETE /v1/account/social/{provider}           (if configured)
//	GET    /v1/me
//	GET    /api/posts, POST /api/posts
//	GET    /api/admin/users, /api/admin/posts
//	GET    /activate, /passwordless, /reset-password, /login (if ServePages)
func (i *IDM) Router() http.Handler {
	return i.router
}

// Accounts returns the account service for calling actions directly.
func (i *IDM) Accounts() *account.Service {
	return i.accounts
}

// Tokens returns the token service.
func (i *IDM) Tokens() *auth.TokenService {
	return i.tokens
}

// Authorize returns middleware that requires a valid token and, if roles are
// given, one of those roles. Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(accounts.Authorize())
//	    r.Get("/protected", handler)
//	})
func (i *IDM) Authorize(roles ...string) func(http.Handler) http.Handler {
	return i.gateway.Authorize(roles...)
}

// GetUser returns the user attached by Authorize.
//
//	user, ok := idm.GetUser(r)
func GetUser(r *http.Request) (*domain.User, bool) {
	return middleware.GetUser(r.Context())
}

// Wait blocks until background notifications created by the default
// notifier have been delivered. Call it during shutdown.
func (i *IDM) Wait() {
	if i.async != nil {
		i.async.Wait()
	}
}
