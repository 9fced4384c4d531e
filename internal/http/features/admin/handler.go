package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/internal/http/features/posts"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// Handler serves administrator listings.
type Handler struct {
	logger *slog.Logger
	store  store.Store
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger, s store.Store) *Handler {
	return &Handler{logger: logger, store: s}
}

// UsersResponse is a page of users.
type UsersResponse struct {
	Users []domain.PublicUser `json:"users"`
	Total int64               `json:"total"`
}

// PostsResponse is a page of posts.
type PostsResponse struct {
	Posts []*domain.Post `json:"posts"`
	Total int64          `json:"total"`
}

// ListUsers returns registered users.
// GET /api/admin/users?limit=N&offset=M
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := posts.QueryInt(r, "limit", store.DefaultListLimit)
	offset := posts.QueryInt(r, "offset", 0)

	users, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	total, err := h.store.Count(r.Context())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	resp := UsersResponse{Users: make([]domain.PublicUser, 0, len(users)), Total: total}
	for _, u := range users {
		resp.Users = append(resp.Users, u.Public())
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// ListPosts returns all posts with the collection size.
// GET /api/admin/posts?limit=N
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListPosts(r.Context(), posts.QueryInt(r, "limit", store.DefaultListLimit))
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	total, err := h.store.CountPosts(r.Context())
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, PostsResponse{Posts: list, Total: total})
}

// RegisterRoutes registers the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router, gateway *middleware.Gateway) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(gateway.Authorize(domain.RoleAdmin))
		r.Get("/users", h.ListUsers)
		r.Get("/posts", h.ListPosts)
	})
}
