package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
)

// LoginParams identify the account by email or username. An empty password
// requests a magic link.
type LoginParams struct {
	Email    string
	Username string
	Password string
}

// Login authenticates with a password, or mails a magic link when no password
// is supplied. Rejections are returned as errors.
func (s *Service) Login(ctx context.Context, p LoginParams) (domain.LoginResult, error) {
	if p.Password == "" {
		return s.requestMagicLink(ctx, p)
	}

	user, err := s.findLoginUser(ctx, p)
	if err != nil {
		return domain.LoginResult{}, err
	}

	switch {
	case !user.Verified:
		return domain.LoginResult{}, domain.ErrAccountNotVerified
	case !user.IsActive():
		return domain.LoginResult{}, domain.ErrAccountDisabled
	case user.Passwordless:
		return domain.LoginResult{}, domain.ErrPasswordlessWithPassword
	case user.PasswordHash == nil || !auth.VerifyPassword(p.Password, *user.PasswordHash):
		return domain.LoginResult{}, domain.ErrWrongPassword
	}

	s.logger.Info("user logged in", "user_id", user.ID, "method", "password")
	return domain.Authenticated(user), nil
}

func (s *Service) requestMagicLink(ctx context.Context, p LoginParams) (domain.LoginResult, error) {
	if !s.config.PasswordlessEnabled {
		return domain.LoginResult{}, domain.ErrPasswordlessDisabled
	}

	user, err := s.findLoginUser(ctx, p)
	if err != nil {
		return domain.LoginResult{}, err
	}
	if !user.IsActive() {
		return domain.LoginResult{}, domain.ErrAccountDisabled
	}

	raw, hash, err := newToken()
	if err != nil {
		return domain.LoginResult{}, err
	}
	expires := s.now().Add(s.config.TokenTTL)
	user, err = s.users.UpdateByID(ctx, user.ID, domain.UserPatch{
		PasswordlessToken:        &hash,
		PasswordlessTokenExpires: &expires,
	})
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("store passwordless token: %w", err)
	}

	s.notify(ctx, user, notify.TemplateMagicLink, notify.Data{
		URL:       s.link(PasswordlessPath, raw),
		ExpiresIn: humanDuration(s.config.TokenTTL),
	})
	s.logger.Info("magic link sent", "user_id", user.ID)
	return domain.MagicLinkSent(), nil
}

// findLoginUser resolves the login identifier. A username containing "@" is
// looked up as an email.
func (s *Service) findLoginUser(ctx context.Context, p LoginParams) (*domain.User, error) {
	var (
		user *domain.User
		err  error
	)
	switch {
	case p.Email != "":
		user, err = s.users.FindByEmail(ctx, auth.NormalizeEmail(p.Email))
	case auth.IsEmail(p.Username):
		user, err = s.users.FindByEmail(ctx, auth.NormalizeEmail(p.Username))
	case p.Username != "" && s.config.UsernameEnabled:
		user, err = s.users.FindByUsername(ctx, p.Username)
	default:
		return nil, domain.ErrUserNotFound
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find login user: %w", err)
	}
	return user, nil
}

// Passwordless consumes a magic-link token. Following the link proves
// ownership of the email, so the account becomes verified.
func (s *Service) Passwordless(ctx context.Context, token string) (*domain.User, error) {
	user, hash, err := s.findByToken(ctx, domain.TokenPasswordless, token, true)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, domain.ErrAccountDisabled
	}

	patch := domain.UserPatch{ClearPasswordlessToken: true}
	if !user.Verified {
		verified := true
		patch.Verified = &verified
		patch.ClearVerificationToken = true
	}
	user, err = s.consume(ctx, user.ID, domain.TokenPasswordless, hash, patch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "method", "passwordless")
	return user, nil
}
