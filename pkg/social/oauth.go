package social

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// StateTTL bounds how long a started flow can be finished.
const StateTTL = 10 * time.Minute

// Credentials are the OAuth client credentials for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

type providerClient struct {
	config     *oauth2.Config
	profileURL string
	// emailsURL is fetched in addition to the profile when set.
	emailsURL string
}

// OAuth runs the authorization code flow for the configured providers.
type OAuth struct {
	providers map[string]*providerClient
	states    StateStore
	client    *http.Client
}

// Flow ties an authorization request to the browser and user that started it.
type Flow struct {
	// Nonce is kept in the starting browser and must come back with the
	// callback.
	Nonce string
	// LinkUserID is the signed-in user linking an identity, or uuid.Nil for a
	// login.
	LinkUserID uuid.UUID
}

// Result is a finished flow.
type Result struct {
	Profile    Profile
	Token      *oauth2.Token
	LinkUserID uuid.UUID
}

// NewOAuth configures every provider that has a client id. Callback URLs are
// redirectBase + "/" + provider + "/callback".
func NewOAuth(redirectBase string, creds map[string]Credentials, states StateStore) *OAuth {
	o := &OAuth{providers: make(map[string]*providerClient), states: states}
	redirectBase = strings.TrimRight(redirectBase, "/")

	for name, c := range creds {
		if c.ClientID == "" {
			continue
		}
		pc := newProviderClient(name)
		if pc == nil {
			continue
		}
		pc.config.ClientID = c.ClientID
		pc.config.ClientSecret = c.ClientSecret
		pc.config.RedirectURL = redirectBase + "/" + name + "/callback"
		o.providers[name] = pc
	}
	return o
}

// WithHTTPClient sets the client used for token and profile requests.
func (o *OAuth) WithHTTPClient(client *http.Client) *OAuth {
	o.client = client
	return o
}

func newProviderClient(name string) *providerClient {
	switch name {
	case domain.ProviderGoogle:
		return &providerClient{
			config:     &oauth2.Config{Endpoint: google.Endpoint, Scopes: []string{"openid", "email", "profile"}},
			profileURL: "https://openidconnect.googleapis.com/v1/userinfo",
		}
	case domain.ProviderGithub:
		return &providerClient{
			config:     &oauth2.Config{Endpoint: github.Endpoint, Scopes: []string{"read:user", "user:email"}},
			profileURL: "https://api.github.com/user",
			emailsURL:  "https://api.github.com/user/emails",
		}
	case domain.ProviderFacebook:
		return &providerClient{
			config:     &oauth2.Config{Endpoint: facebook.Endpoint, Scopes: []string{"email", "public_profile"}},
			profileURL: "https://graph.facebook.com/me?fields=id,name,email,picture",
		}
	case domain.ProviderTwitter:
		return &providerClient{
			config: &oauth2.Config{
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://twitter.com/i/oauth2/authorize",
					TokenURL: "https://api.twitter.com/2/oauth2/token",
				},
				Scopes: []string{"users.read", "tweet.read"},
			},
			profileURL: "https://api.twitter.com/2/users/me?user.fields=profile_image_url",
		}
	}
	return nil
}

// Providers lists the configured provider names.
func (o *OAuth) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthCodeURL starts a flow and returns the provider consent URL. Every flow
// uses PKCE. Only a hash of the nonce is stored.
func (o *OAuth) AuthCodeURL(ctx context.Context, provider string, flow Flow) (string, error) {
	pc, ok := o.providers[provider]
	if !ok {
		return "", domain.ErrUnsupportedProvider
	}
	if flow.Nonce == "" {
		return "", errors.New("oauth flow nonce is required")
	}

	key, err := randomState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	state := State{
		Provider:   provider,
		Verifier:   verifier,
		NonceHash:  auth.HashToken(flow.Nonce),
		LinkUserID: flow.LinkUserID,
	}
	if err := o.states.Save(ctx, key, state, StateTTL); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}

	return pc.config.AuthCodeURL(key, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange finishes a flow: it checks state and the browser nonce, trades the
// code for a token and fetches the raw profile. The token is only proof of
// profile ownership.
func (o *OAuth) Exchange(ctx context.Context, provider, state, code, nonce string) (*Result, error) {
	pc, ok := o.providers[provider]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}

	saved, err := o.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if saved.Provider != provider || !nonceMatches(nonce, saved.NonceHash) {
		return nil, ErrInvalidState
	}

	if o.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	}
	token, err := pc.config.Exchange(ctx, code, oauth2.VerifierOption(saved.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", provider, err)
	}

	client := pc.config.Client(ctx, token)
	var profile Profile
	if err := getJSON(ctx, client, pc.profileURL, &profile); err != nil {
		return nil, fmt.Errorf("fetch %s profile: %w", provider, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("fetch %s profile: empty profile", provider)
	}
	if pc.emailsURL != "" {
		var emails []any
		if err := getJSON(ctx, client, pc.emailsURL, &emails); err == nil && emails != nil {
			profile["emails"] = emails
		}
	}
	return &Result{Profile: profile, Token: token, LinkUserID: saved.LinkUserID}, nil
}

func nonceMatches(nonce, hash string) bool {
	if nonce == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(auth.HashToken(nonce)), []byte(hash)) == 1
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
