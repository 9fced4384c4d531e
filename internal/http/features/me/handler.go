package me

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/internal/http/features/common"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		httputil.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}
	httputil.JSON(w, http.StatusOK, common.UserResponse{User: user.Public()})
}

// RegisterRoutes registers the profile routes.
func (h *Handler) RegisterRoutes(r chi.Router, gateway *middleware.Gateway, limits middleware.Limiters) {
	r.With(gateway.Authorize(), limits.Profile).Get("/v1/me", h.GetMe)
}
