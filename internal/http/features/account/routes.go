package account

import (
	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/internal/http/middleware"
)

// RegisterRoutes registers the account action routes.
func (h *Handler) RegisterRoutes(r chi.Router, gateway *middleware.Gateway, limits middleware.Limiters) {
	r.Route("/v1/account", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limits.Auth)
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/passwordless", h.Passwordless)
		})
		r.With(limits.Verify).Post("/verify", h.Verify)
		r.Group(func(r chi.Router) {
			r.Use(limits.Reset)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Post("/check-reset-token", h.CheckResetToken)
			r.Post("/reset-password", h.ResetPassword)
		})
		r.With(gateway.Authorize()).Post("/logout", h.Logout)
	})
}
