package social

import (
	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/internal/http/middleware"
)

// RegisterRoutes registers the social login routes.
func (h *Handler) RegisterRoutes(r chi.Router, gateway *middleware.Gateway, limits middleware.Limiters) {
	r.Route("/v1/account/social", func(r chi.Router) {
		r.Use(limits.Social)
		r.Get("/", h.Providers)
		r.With(gateway.OptionalAuth).Get("/{provider}", h.Start)
		r.With(gateway.OptionalAuth).Get("/{provider}/callback", h.Callback)
		r.With(gateway.Authorize()).Delete("/{provider}", h.Unlink)
	})
}
