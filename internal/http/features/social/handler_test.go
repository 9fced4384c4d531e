package social

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tendant/simple-idm-account/internal/config"
	"github.com/tendant/simple-idm-account/internal/http/features/common"
	"github.com/tendant/simple-idm-account/internal/http/middleware"
	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/account"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
	socialauth "github.com/tendant/simple-idm-account/pkg/social"
	"github.com/tendant/simple-idm-account/pkg/store/memory"
)

const (
	githubID    = "777"
	githubEmail = "octo@x.com"
)

// fakeGithub answers GitHub's token and profile endpoints in process.
type fakeGithub struct{}

func (fakeGithub) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		r.Body.Close()
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	switch r.URL.Host + r.URL.Path {
	case "github.com/login/oauth/access_token":
		json.NewEncoder(rec).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
	case "api.github.com/user":
		json.NewEncoder(rec).Encode(map[string]any{"id": 777, "login": "octocat", "name": "Octo Cat"})
	case "api.github.com/user/emails":
		json.NewEncoder(rec).Encode([]map[string]any{{"email": githubEmail, "primary": true}})
	default:
		rec.WriteHeader(http.StatusNotFound)
	}
	res := rec.Result()
	res.Request = r
	return res, nil
}

type socialFixture struct {
	handler http.Handler
	users   *memory.Store
	tokens  *auth.TokenService
}

func newSocialFixture(t *testing.T) *socialFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	users := memory.New()
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: []byte("social-handler-secret-0123456789ab"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mailer, err := notify.NewMailer(notify.NewLogTransport(logger), notify.MailerConfig{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	oauth := socialauth.NewOAuth("https://accounts.test/v1/account/social", map[string]socialauth.Credentials{
		"github": {ClientID: "gh-client", ClientSecret: "gh-secret"},
	}, socialauth.NewMemoryStateStore()).WithHTTPClient(&http.Client{Transport: fakeGithub{}})

	h := NewHandler(logger, account.NewService(account.DefaultConfig(), users, mailer, logger), oauth,
		&common.Sessions{Tokens: tokens, Cookie: httputil.DefaultCookieConfig()})
	r := chi.NewRouter()
	h.RegisterRoutes(r, middleware.NewGateway(tokens, users, logger), middleware.NewLimiters(config.RateLimitConfig{}, logger))
	return &socialFixture{handler: r, users: users, tokens: tokens}
}

// signedIn creates an active user and returns its session cookie.
func (f *socialFixture) signedIn(t *testing.T, email string) (*domain.User, *http.Cookie) {
	t.Helper()
	user := &domain.User{
		ID:       uuid.New(),
		Email:    email,
		FullName: "Signed In",
		Status:   domain.StatusActive,
		Roles:    []string{domain.RoleUser},
		Verified: true,
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	token, err := f.tokens.Issue(user.ID, domain.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	return user, &http.Cookie{Name: httputil.AccessTokenCookie, Value: token}
}

func (f *socialFixture) serve(t *testing.T, method, path string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

// start begins a github flow and returns the state and the flow cookie.
func (f *socialFixture) start(t *testing.T, session *http.Cookie) (string, *http.Cookie) {
	t.Helper()
	rec, _ := f.serve(t, http.MethodGet, "/v1/account/social/github", session)
	if rec.Code != http.StatusFound {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == httputil.OAuthFlowCookie {
			return loc.Query().Get("state"), c
		}
	}
	t.Fatal("start did not set the flow cookie")
	return "", nil
}

func callbackPath(state string) string {
	return "/v1/account/social/github/callback?code=code-1&state=" + url.QueryEscape(state)
}

func (f *socialFixture) githubOwner(t *testing.T) (*domain.User, bool) {
	t.Helper()
	user, err := f.users.FindBySocialKey(context.Background(), domain.ProviderGithub, githubID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatal(err)
	}
	return user, true
}

func TestStart_RedirectsWithPKCE(t *testing.T) {
	f := newSocialFixture(t)
	rec, _ := f.serve(t, http.MethodGet, "/v1/account/social/github")

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc := rec.Header().Get("Location")
	for _, want := range []string{"github.com/login/oauth/authorize", "code_challenge=", "state=", "client_id=gh-client"} {
		if !strings.Contains(loc, want) {
			t.Errorf("Location %q missing %q", loc, want)
		}
	}

	var flow *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == httputil.OAuthFlowCookie {
			flow = c
		}
	}
	if flow == nil {
		t.Fatal("flow cookie not set")
	}
	if !flow.HttpOnly || flow.Path != flowCookiePath || flow.SameSite != http.SameSiteLaxMode {
		t.Errorf("flow cookie = %+v", flow)
	}
}

func TestProviders(t *testing.T) {
	f := newSocialFixture(t)
	rec, body := f.serve(t, http.MethodGet, "/v1/account/social")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	providers, _ := body["providers"].([]any)
	if len(providers) != 1 || providers[0] != "github" {
		t.Errorf("providers = %v", body["providers"])
	}
}

func TestCallback_SignsInNewUser(t *testing.T) {
	f := newSocialFixture(t)
	state, flow := f.start(t, nil)

	rec, body := f.serve(t, http.MethodGet, callbackPath(state), flow)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if token, _ := body["access_token"].(string); token == "" {
		t.Error("callback returned no session token")
	}
	owner, ok := f.githubOwner(t)
	if !ok || owner.Email != githubEmail {
		t.Errorf("github identity owner = %+v", owner)
	}
}

func TestCallback_LinksStartingUser(t *testing.T) {
	f := newSocialFixture(t)
	user, session := f.signedIn(t, "member@x.com")
	state, flow := f.start(t, session)

	rec, _ := f.serve(t, http.MethodGet, callbackPath(state), flow, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	owner, ok := f.githubOwner(t)
	if !ok || owner.ID != user.ID {
		t.Errorf("github identity owner = %+v, want %s", owner, user.ID)
	}
}

func TestCallback_LoginFlowIgnoresSession(t *testing.T) {
	f := newSocialFixture(t)
	user, session := f.signedIn(t, "member@x.com")
	state, flow := f.start(t, nil)

	rec, _ := f.serve(t, http.MethodGet, callbackPath(state), flow, session)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	owner, ok := f.githubOwner(t)
	if !ok || owner.ID == user.ID {
		t.Errorf("a login flow must not link to the signed-in user, owner = %+v", owner)
	}
}

func TestCallback_RejectsFlowFromAnotherBrowserOrUser(t *testing.T) {
	tests := []struct {
		name string
		// linker starts the flow signed in when set.
		linker   bool
		sendFlow bool
		// finisher completes the callback signed in as a different user.
		finisher bool
	}{
		{name: "state without the flow cookie", sendFlow: false, finisher: true},
		{name: "link finished by another user", linker: true, sendFlow: true, finisher: true},
		{name: "link finished signed out", linker: true, sendFlow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSocialFixture(t)

			var startSession *http.Cookie
			if tt.linker {
				_, startSession = f.signedIn(t, "starter@x.com")
			}
			state, flow := f.start(t, startSession)

			cookies := []*http.Cookie{}
			if tt.sendFlow {
				cookies = append(cookies, flow)
			}
			if tt.finisher {
				_, other := f.signedIn(t, "victim@x.com")
				cookies = append(cookies, other)
			}

			rec, body := f.serve(t, http.MethodGet, callbackPath(state), cookies...)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			if body["code"] != "ERR_INVALID_STATE" {
				t.Errorf("code = %v, want ERR_INVALID_STATE", body["code"])
			}
			if owner, ok := f.githubOwner(t); ok {
				t.Errorf("github identity was linked to %s", owner.Email)
			}
		})
	}
}

func TestSocialErrors(t *testing.T) {
	f := newSocialFixture(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unconfigured provider",
			method:     http.MethodGet,
			path:       "/v1/account/social/google",
			wantStatus: http.StatusBadRequest,
			wantCode:   "ERR_UNSUPPORTED_PROVIDER",
		},
		{
			name:       "user denied consent",
			method:     http.MethodGet,
			path:       "/v1/account/social/github/callback?error=access_denied",
			wantStatus: http.StatusBadRequest,
			wantCode:   "ERR_SOCIAL_PROVIDER",
		},
		{
			name:       "unknown state",
			method:     http.MethodGet,
			path:       "/v1/account/social/github/callback?state=forged&code=abc",
			wantStatus: http.StatusBadRequest,
			wantCode:   "ERR_INVALID_STATE",
		},
		{
			name:       "unlink requires a session",
			method:     http.MethodDelete,
			path:       "/v1/account/social/github",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.serve(t, tt.method, tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}
}
