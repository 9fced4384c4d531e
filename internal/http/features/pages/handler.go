package pages

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-idm-account/pkg/account"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed assets/*
var assetFS embed.FS

// Handler renders the pages emailed links land on. Each page posts back to
// the account API.
type Handler struct {
	logger    *slog.Logger
	templates *template.Template
	siteName  string
}

// NewHandler creates a new pages handler.
func NewHandler(logger *slog.Logger, siteName string) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{logger: logger, templates: tmpl, siteName: siteName}, nil
}

// PageData holds data for template rendering.
type PageData struct {
	Title    string
	SiteName string
	// Action is the API endpoint the page form posts to.
	Action string
	// Token is the single-use token from the emailed link.
	Token string
	// AutoSubmit posts the form on load.
	AutoSubmit    bool
	NeedsPassword bool
	NeedsEmail    bool
}

// Activate confirms an account from the activation email.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.render(w, PageData{
		Title:      "Activate Account",
		Action:     "/v1/account/verify",
		Token:      r.URL.Query().Get("token"),
		AutoSubmit: true,
	})
}

// Passwordless signs in from a magic link.
func (h *Handler) Passwordless(w http.ResponseWriter, r *http.Request) {
	h.render(w, PageData{
		Title:      "Signing In",
		Action:     "/v1/account/passwordless",
		Token:      r.URL.Query().Get("token"),
		AutoSubmit: true,
	})
}

// ResetPassword asks for a new password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, PageData{
		Title:         "Set New Password",
		Action:        "/v1/account/reset-password",
		Token:         r.URL.Query().Get("token"),
		NeedsPassword: true,
	})
}

// Login renders the sign in page.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, PageData{
		Title:         "Sign In",
		Action:        "/v1/account/login",
		NeedsEmail:    true,
		NeedsPassword: true,
	})
}

func (h *Handler) render(w http.ResponseWriter, data PageData) {
	data.SiteName = h.siteName
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.templates.ExecuteTemplate(w, "page.html", data); err != nil {
		h.logger.Error("failed to render page", "title", data.Title, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// RegisterRoutes registers the landing pages at the paths used in emails.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(account.ActivatePath, h.Activate)
	r.Get(account.PasswordlessPath, h.Passwordless)
	r.Get(account.ResetPasswordPath, h.ResetPassword)
	r.Get(account.LoginPath, h.Login)

	assets, _ := fs.Sub(assetFS, "assets")
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))
}
