package posts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// Handler serves the posts collection to signed-in users.
type Handler struct {
	logger *slog.Logger
	posts  store.PostStore
}

// NewHandler creates a new posts handler.
func NewHandler(logger *slog.Logger, posts store.PostStore) *Handler {
	return &Handler{logger: logger, posts: posts}
}

// CreateRequest represents a new post.
type CreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ListResponse is a page of posts.
type ListResponse struct {
	Posts []*domain.Post `json:"posts"`
}

// List returns the newest posts.
// GET /api/posts?limit=N
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.ListPosts(r.Context(), QueryInt(r, "limit", store.DefaultListLimit))
	if err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, ListResponse{Posts: posts})
}

// Create stores a post authored by the current user.
// POST /api/posts
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		httputil.WriteError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	var req CreateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	title := auth.SanitizeText(req.Title)
	content := auth.SanitizeText(req.Content)
	if err := auth.ValidateStringLength("title", title, 1, 200); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	if err := auth.ValidateStringLength("content", content, 1, 10000); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}

	post := &domain.Post{Title: title, Content: content, Author: user.ID}
	if err := h.posts.CreatePost(r.Context(), post); err != nil {
		httputil.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, post)
}

// RegisterRoutes registers the posts routes.
func (h *Handler) RegisterRoutes(r chi.Router, gateway *middleware.Gateway) {
	r.Route("/api/posts", func(r chi.Router) {
		r.Use(gateway.Authorize(domain.RoleUser, domain.RoleAdmin))
		r.Get("/", h.List)
		r.Post("/", h.Create)
	})
}

// QueryInt reads a non-negative integer query parameter.
func QueryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
