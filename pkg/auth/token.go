package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

const (
	// DefaultTokenTTL is the lifetime of session tokens when none is configured.
	DefaultTokenTTL = 24 * time.Hour

	minSecretLength = 32
)

// TokenConfig holds token service configuration.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Claims are the claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenService issues and verifies stateless session tokens.
type TokenService struct {
	config  TokenConfig
	revoker Revoker
	now     func() time.Time
}

// NewTokenService creates a token service. The revoker may be nil, in which
// case tokens can only expire.
func NewTokenService(config TokenConfig, revoker Revoker) (*TokenService, error) {
	if len(config.Secret) < minSecretLength {
		return nil, errors.New("auth: token secret must be at least 32 bytes")
	}
	if config.TTL == 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Issuer == "" {
		config.Issuer = "simple-idm-account"
	}
	return &TokenService{config: config, revoker: revoker, now: time.Now}, nil
}

// TTL returns the token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.config.TTL
}

// Issue signs a token for the user and role.
func (s *TokenService) Issue(userID uuid.UUID, role string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TTL)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.config.Secret)
}

// Verify validates a token and returns its claims. Every failure is reported
// as domain.ErrInvalidToken.
func (s *TokenService) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domain.ErrInvalidToken
	}

	if s.revoker != nil && claims.ID != "" {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, domain.ErrInvalidToken
		}
	}

	return claims, nil
}

// Revoke invalidates a token until its own expiry.
func (s *TokenService) Revoke(ctx context.Context, claims *Claims) error {
	if s.revoker == nil || claims.ID == "" {
		return nil
	}
	ttl := s.config.TTL
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, ttl)
}

// PrimaryRole picks the role claim for a user: admin wins, then the first
// assigned role.
func PrimaryRole(roles []string) string {
	for _, r := range roles {
		if r == domain.RoleAdmin {
			return domain.RoleAdmin
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return domain.RoleUser
}
