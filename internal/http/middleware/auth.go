package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
)

type contextKey string

const (
	// UserKey is the context key for the authenticated user.
	UserKey contextKey = "user"
	// ClaimsKey is the context key for the token claims.
	ClaimsKey contextKey = "claims"
)

// Gateway authenticates requests against the token service and user store.
type Gateway struct {
	tokens *auth.TokenService
	users  store.UserStore
	logger *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway(tokens *auth.TokenService, users store.UserStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{tokens: tokens, users: users, logger: logger}
}

// Authorize rejects requests without a valid bearer token for an active user.
// When roles are given, the token role must be one of them.
// Checks Authorization header first, then falls back to cookie for web clients.
func (g *Gateway) Authorize(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, claims, err := g.authenticate(r)
			if err != nil {
				httputil.WriteError(w, g.logger, err)
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				g.logger.Debug("role rejected", "user_id", user.ID, "role", claims.Role, "path", r.URL.Path)
				httputil.WriteError(w, g.logger, domain.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user, claims)))
		})
	}
}

// OptionalAuth attaches the user when a valid token is present and passes the
// request through unchanged otherwise.
func (g *Gateway) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := httputil.BearerToken(r); ok {
			if user, claims, err := g.authenticate(r); err == nil {
				r = r.WithContext(withUser(r.Context(), user, claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate returns ErrUnauthorized for every token or account problem so
// the cause is never exposed, including a failing revocation list. Failures
// loading the user are returned as is.
func (g *Gateway) authenticate(r *http.Request) (*domain.User, *auth.Claims, error) {
	token, ok := httputil.BearerToken(r)
	if !ok {
		return nil, nil, domain.ErrUnauthorized
	}

	claims, err := g.tokens.Verify(r.Context(), token)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidToken) {
			g.logger.Error("token verification failed", "error", err)
		}
		return nil, nil, domain.ErrUnauthorized
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, domain.ErrUnauthorized
	}

	user, err := g.users.FindByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, domain.ErrUnauthorized
		}
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, domain.ErrUnauthorized
	}
	return user, claims, nil
}

func withUser(ctx context.Context, user *domain.User, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserKey, user)
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetUser extracts the authenticated user from the request context.
func GetUser(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(UserKey).(*domain.User)
	return user, ok
}

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
