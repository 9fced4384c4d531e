package pages

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newPagesRouter(t *testing.T) http.Handler {
	t.Helper()
	h, err := NewHandler(slog.New(slog.DiscardHandler), "Simple IDM")
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestPages(t *testing.T) {
	r := newPagesRouter(t)

	tests := []struct {
		name     string
		path     string
		contains []string
		excludes []string
	}{
		{
			name:     "activate posts the token automatically",
			path:     "/activate?token=abc123",
			contains: []string{`data-action="/v1/account/verify"`, `value="abc123"`, `data-auto-submit="true"`},
			excludes: []string{`name="password"`},
		},
		{
			name:     "magic link",
			path:     "/passwordless?token=xyz",
			contains: []string{`data-action="/v1/account/passwordless"`, `value="xyz"`},
		},
		{
			name:     "reset asks for a password",
			path:     "/reset-password?token=r1",
			contains: []string{`data-action="/v1/account/reset-password"`, `name="password"`, `new-password`},
			excludes: []string{`data-auto-submit`},
		},
		{
			name:     "login",
			path:     "/login",
			contains: []string{`data-action="/v1/account/login"`, `name="email"`, `current-password`},
		},
		{
			name:     "token is escaped",
			path:     "/activate?token=%22%3E%3Cscript%3E",
			excludes: []string{`"><script>`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := rec.Body.String()
			for _, s := range tt.contains {
				if !strings.Contains(body, s) {
					t.Errorf("page missing %q", s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(body, s) {
					t.Errorf("page should not contain %q", s)
				}
			}
		})
	}
}

func TestAssets(t *testing.T) {
	r := newPagesRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/account.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "account-form") {
		t.Error("unexpected asset content")
	}
}
