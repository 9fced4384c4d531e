package social

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tendant/simple-idm-account/internal/http/features/common"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	socialauth "github.com/tendant/simple-idm-account/pkg/social"
)

// ErrProviderRejected is returned when the provider refuses the authorization
// code or the user denied access.
var ErrProviderRejected = domain.NewClientError(http.StatusBadRequest, "ERR_SOCIAL_PROVIDER", "social provider rejected the login")

// flowCookiePath limits the flow cookie to the social routes.
const flowCookiePath = "/v1/account/social"

// Handler handles social login endpoints.
type Handler struct {
	logger   *slog.Logger
	accounts *account.Service
	oauth    *socialauth.OAuth
	sessions *common.Sessions
}

// NewHandler creates a new social handler.
func NewHandler(logger *slog.Logger, accounts *account.Service, oauth *socialauth.OAuth, sessions *common.Sessions) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
		oauth:    oauth,
		sessions: sessions,
	}
}

// Start redirects to the provider's consent page. The flow is bound to this
// browser by a nonce cookie and, for a signed-in caller, to their account.
// GET /v1/account/social/{provider}
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	nonce, err := auth.GenerateToken(32)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	flow := socialauth.Flow{Nonce: nonce}
	if current, ok := middleware.GetUser(r.Context()); ok {
		flow.LinkUserID = current.ID
	}

	authURL, err := h.oauth.AuthCodeURL(r.Context(), provider, flow)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.SetFlowCookie(w, nonce, flowCookiePath, socialauth.StateTTL, h.sessions.Cookie)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback finishes the provider flow. A flow started by a signed-in user
// links the identity to that user and must finish in the same session; any
// other flow signs in or registers.
// GET /v1/account/social/{provider}/callback?code=...&state=...
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	var nonce string
	if c, err := r.Cookie(httputil.OAuthFlowCookie); err == nil {
		nonce = c.Value
	}
	httputil.ClearFlowCookie(w, flowCookiePath, h.sessions.Cookie)

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("social login denied", "provider", provider, "error", errParam)
		httputil.WriteError(w, h.logger, ErrProviderRejected)
		return
	}

	result, err := h.oauth.Exchange(r.Context(), provider, query.Get("state"), query.Get("code"), nonce)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			h.logger.Warn("social code exchange failed", "provider", provider, "error", err)
			err = ErrProviderRejected
		}
		httputil.WriteError(w, h.logger, err)
		return
	}

	var current *domain.User
	if result.LinkUserID != uuid.Nil {
		user, ok := middleware.GetUser(r.Context())
		if !ok || user.ID != result.LinkUserID {
			h.logger.Warn("social link finished outside the starting session", "provider", provider, "link_user_id", result.LinkUserID)
			httputil.WriteError(w, h.logger, socialauth.ErrInvalidState)
			return
		}
		current = user
	}

	user, err := h.accounts.SocialLogin(r.Context(), account.SocialLoginParams{
		Provider:     provider,
		Profile:      result.Profile,
		AccessToken:  result.Token.AccessToken,
		RefreshToken: result.Token.RefreshToken,
		Current:      current,
	})
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("social login", "provider", provider, "user_id", user.ID, "linked", current != nil)
	if err := h.sessions.Start(w, user); err != nil {
		httputil.WriteError(w, h.logger, err)
	}
}

// Unlink removes a provider identity from the current user.
// DELETE /v1/account/social/{provider}
func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.GetUser(r.Context())
	if !ok {
		httputil.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}
	user, err := h.accounts.Unlink(r.Context(), current.ID, chi.URLParam(r, "provider"))
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.UserResponse{User: user.Public()})
}

// Providers lists the configured providers.
// GET /v1/account/social
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string][]string{"providers": h.oauth.Providers()})
}
