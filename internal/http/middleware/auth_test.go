package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store/memory"
)

type gatewayFixture struct {
	gateway *Gateway
	tokens  *auth.TokenService
	users   *memory.Store
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	}, auth.NewMemoryRevoker())
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	users := memory.New()
	return &gatewayFixture{
		gateway: NewGateway(tokens, users, slog.New(slog.DiscardHandler)),
		tokens:  tokens,
		users:   users,
	}
}

func (f *gatewayFixture) createUser(t *testing.T, email string, status domain.Status, roles ...string) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, FullName: "Test User", Status: status, Roles: roles, Verified: true}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func (f *gatewayFixture) token(t *testing.T, u *domain.User) string {
	t.Helper()
	tok, err := f.tokens.Issue(u.ID, auth.PrimaryRole(u.Roles))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUser(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write([]byte(user.Email))
}

func TestAuthorize(t *testing.T) {
	f := newGatewayFixture(t)
	admin := f.createUser(t, "admin@example.com", domain.StatusActive, domain.RoleAdmin, domain.RoleUser)
	member := f.createUser(t, "member@example.com", domain.StatusActive, domain.RoleUser)
	disabled := f.createUser(t, "disabled@example.com", domain.StatusDisabled, domain.RoleUser)

	otherIssuer, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := otherIssuer.Issue(admin.ID, domain.RoleAdmin)
	ghost, _ := f.tokens.Issue(uuid.New(), domain.RoleUser)

	tests := []struct {
		name       string
		roles      []string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "missing token", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "malformed header", header: "Token abc", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "foreign signature", header: "Bearer " + forged, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "unknown user", header: "Bearer " + ghost, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "disabled user", header: "Bearer " + f.token(t, disabled), wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "any role", header: "Bearer " + f.token(t, member), wantStatus: http.StatusOK},
		{name: "allowed role", roles: []string{domain.RoleUser, domain.RoleAdmin}, header: "Bearer " + f.token(t, member), wantStatus: http.StatusOK},
		{name: "admin only rejects user", roles: []string{domain.RoleAdmin}, header: "Bearer " + f.token(t, member), wantStatus: http.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "admin only accepts admin", roles: []string{domain.RoleAdmin}, header: "Bearer " + f.token(t, admin), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := f.gateway.Authorize(tt.roles...)(http.HandlerFunc(echoUser))
			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				var body map[string]string
				json.NewDecoder(rec.Body).Decode(&body)
				if body["code"] != tt.wantCode {
					t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
				}
			}
		})
	}
}

func TestAuthorize_CookieAndRevocation(t *testing.T) {
	f := newGatewayFixture(t)
	u := f.createUser(t, "cookie@example.com", domain.StatusActive, domain.RoleUser)
	tok := f.token(t, u)
	handler := f.gateway.Authorize()(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: tok})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != u.Email {
		t.Fatalf("cookie auth: status %d body %q", rec.Code, rec.Body.String())
	}

	claims, err := f.tokens.Verify(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.tokens.Revoke(context.Background(), claims); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token: status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOptionalAuth(t *testing.T) {
	f := newGatewayFixture(t)
	u := f.createUser(t, "optional@example.com", domain.StatusActive, domain.RoleUser)
	handler := f.gateway.OptionalAuth(http.HandlerFunc(echoUser))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "anonymous", wantStatus: http.StatusNoContent},
		{name: "invalid token passes through", header: "Bearer junk", wantStatus: http.StatusNoContent},
		{name: "valid token attaches user", header: "Bearer " + f.token(t, u), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/account/social/github/callback", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

type failingRevoker struct{}

func (failingRevoker) Revoke(context.Context, string, time.Duration) error {
	return errors.New("revocation list unavailable")
}

func (failingRevoker) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("revocation list unavailable")
}

func TestAuthorize_RevocationListDown(t *testing.T) {
	f := newGatewayFixture(t)
	member := f.createUser(t, "member@example.com", domain.StatusActive, domain.RoleUser)
	token := f.token(t, member)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	}, failingRevoker{})
	if err != nil {
		t.Fatal(err)
	}
	gateway := NewGateway(tokens, f.users, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	gateway.Authorize()(http.HandlerFunc(echoUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", body["code"])
	}
}
