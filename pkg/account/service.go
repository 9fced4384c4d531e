// Package account implements the account state machine: registration,
// verification, password and passwordless login, password recovery and
// social identity reconciliation.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// Paths appended to BaseURL in notification links.
const (
	ActivatePath      = "/activate"
	PasswordlessPath  = "/passwordless"
	ResetPasswordPath = "/reset-password"
	LoginPath         = "/login"
)

const rawTokenBytes = 32

// Config controls which account flows are available.
type Config struct {
	SignupEnabled        bool
	VerificationRequired bool
	UsernameEnabled      bool
	PasswordlessEnabled  bool
	MinPasswordLength    int
	// TokenTTL is the lifetime of reset and passwordless tokens.
	TokenTTL time.Duration
	// Providers limits social login to these providers. Empty allows all
	// providers that have a profile normalizer.
	Providers []string
	BaseURL   string
	SiteName  string
}

// DefaultConfig returns the default account configuration.
func DefaultConfig() Config {
	return Config{
		SignupEnabled:        true,
		VerificationRequired: true,
		UsernameEnabled:      false,
		PasswordlessEnabled:  false,
		MinPasswordLength:    auth.DefaultMinPasswordLength,
		TokenTTL:             time.Hour,
		BaseURL:              "http://localhost:8080",
		SiteName:             "Simple IDM",
	}
}

// Service orchestrates account flows over a user store. It holds no mutable
// state of its own and is safe for concurrent use.
type Service struct {
	config   Config
	users    store.UserStore
	notifier notify.Notifier
	policy   *auth.PasswordPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an account service.
func NewService(config Config, users store.UserStore, notifier notify.Notifier, logger *slog.Logger) *Service {
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{
		config:   config,
		users:    users,
		notifier: notifier,
		policy:   auth.NewPasswordPolicy(config.MinPasswordLength),
		logger:   logger,
		now:      time.Now,
	}
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	return s.config
}

// PasswordPolicy returns the password policy in force.
func (s *Service) PasswordPolicy() *auth.PasswordPolicy {
	return s.policy
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// newToken returns a raw token for delivery and the hash to persist.
func newToken() (raw, hash string, err error) {
	raw, err = auth.GenerateToken(rawTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	return raw, auth.HashToken(raw), nil
}

// findByToken resolves a presented token. When checkExpiry is set an expired
// token fails with ErrTokenExpired.
func (s *Service) findByToken(ctx context.Context, kind domain.TokenKind, token string, checkExpiry bool) (*domain.User, string, error) {
	if token == "" {
		return nil, "", domain.ErrInvalidToken
	}
	hash := auth.HashToken(token)

	user, err := s.users.FindByToken(ctx, kind, hash)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, "", domain.ErrInvalidToken
	}
	if err != nil {
		return nil, "", fmt.Errorf("find %s token: %w", kind, err)
	}

	if checkExpiry {
		_, expires := user.Token(kind)
		if expires == nil || !s.now().Before(*expires) {
			return nil, "", domain.ErrTokenExpired
		}
	}
	return user, hash, nil
}

// consume applies patch only while the token is still stored, so a token is
// honoured at most once.
func (s *Service) consume(ctx context.Context, userID uuid.UUID, kind domain.TokenKind, hash string, patch domain.UserPatch) (*domain.User, error) {
	patch.Match = &domain.TokenMatch{Kind: kind, Hash: hash}
	user, err := s.users.UpdateByID(ctx, userID, patch)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("consume %s token: %w", kind, err)
	}
	return user, nil
}

func (s *Service) link(path, token string) string {
	if token == "" {
		return s.config.BaseURL + path
	}
	return s.config.BaseURL + path + "?token=" + url.QueryEscape(token)
}

// notify sends a notification. Delivery failures are logged and never
// returned.
func (s *Service) notify(ctx context.Context, user *domain.User, template string, data notify.Data) {
	if s.notifier == nil {
		return
	}
	if data.Name == "" {
		data.Name = user.FullName
	}
	if err := s.notifier.Send(ctx, user.Email, template, data); err != nil {
		s.logger.Error("failed to send notification",
			"template", template,
			"user_id", user.ID,
			"error", err,
		)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return d.String()
}
