package common

import (
	"net/http"

	"github.com/tendant/simple-idm-account/internal/httputil"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

// SessionResponse is returned by every action that signs a user in.
type SessionResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	ExpiresIn   int               `json:"expires_in"`
	User        domain.PublicUser `json:"user"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	User domain.PublicUser `json:"user"`
}

// Sessions issues session tokens to authenticated users.
type Sessions struct {
	Tokens *auth.TokenService
	Cookie httputil.CookieConfig
}

// Start issues a token for user, sets the access token cookie for browser
// clients and writes the session response.
func (s *Sessions) Start(w http.ResponseWriter, user *domain.User) error {
	token, err := s.Tokens.Issue(user.ID, auth.PrimaryRole(user.Roles))
	if err != nil {
		return err
	}
	httputil.SetAuthCookie(w, token, s.Tokens.TTL(), s.Cookie)
	httputil.JSON(w, http.StatusOK, SessionResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.Tokens.TTL().Seconds()),
		User:        user.Public(),
	})
	return nil
}
