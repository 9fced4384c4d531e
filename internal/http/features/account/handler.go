package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-idm-account/internal/http/features/common"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	accountsvc "github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

// Handler exposes the account actions over HTTP.
type Handler struct {
	logger   *slog.Logger
	accounts *accountsvc.Service
	sessions *common.Sessions
}

// NewHandler creates a new account handler.
func NewHandler(logger *slog.Logger, accounts *accountsvc.Service, sessions *common.Sessions) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
		sessions: sessions,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar,omitempty"`
}

// TokenRequest carries a single-use token from an emailed link.
type TokenRequest struct {
	Token string `json:"token"`
}

// EmailRequest carries an email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents a password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// LoginRequest represents a login request. Omitting the password requests a
// magic link when passwordless login is enabled.
type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// StatusResponse acknowledges an action with no resource to return.
type StatusResponse struct {
	Status string `json:"status"`
}

// Register creates an account.
// POST /v1/account/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.accounts.Register(r.Context(), accountsvc.RegisterParams{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
		Avatar:   req.Avatar,
	})
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("account registered", "user_id", user.ID)
	httputil.JSON(w, http.StatusCreated, common.UserResponse{User: user.Public()})
}

// Verify activates an account and signs the user in.
// POST /v1/account/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, h.accounts.Verify)
}

// Passwordless consumes a magic link and signs the user in.
// POST /v1/account/passwordless
func (h *Handler) Passwordless(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, h.accounts.Passwordless)
}

// ForgotPassword mails a password reset link.
// POST /v1/account/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, StatusResponse{Status: "reset_link_sent"})
}

// CheckResetToken reports whether a reset token is still usable.
// POST /v1/account/check-reset-token
func (h *Handler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.accounts.CheckResetToken(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.UserResponse{User: user.Public()})
}

// ResetPassword sets a new password and signs the user in.
// POST /v1/account/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	user, err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	h.startSession(w, user)
}

// Login authenticates with a password, or mails a magic link.
// POST /v1/account/login
//
// Returns 200 with a session, or 202 when a magic link was sent.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.accounts.Login(r.Context(), accountsvc.LoginParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	switch result.Outcome {
	case domain.LoginMagicLinkSent:
		httputil.JSON(w, http.StatusAccepted, StatusResponse{Status: result.Outcome.String()})
	default:
		h.startSession(w, result.User)
	}
}

// Logout revokes the presented token and clears the cookie.
// POST /v1/account/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		httputil.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}
	if err := h.sessions.Tokens.Revoke(r.Context(), claims); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.ClearAuthCookie(w, h.sessions.Cookie)
	httputil.JSON(w, http.StatusOK, StatusResponse{Status: "logged_out"})
}

func (h *Handler) withToken(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, token string) (*domain.User, error)) {
	var req TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	user, err := action(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	h.startSession(w, user)
}

func (h *Handler) startSession(w http.ResponseWriter, user *domain.User) {
	if err := h.sessions.Start(w, user); err != nil {
		httputil.WriteError(w, h.logger, err)
	}
}
