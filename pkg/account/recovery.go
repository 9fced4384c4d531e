package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
)

// ForgotPassword stores a reset token and mails the reset link.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrEmailNotFound
	}
	if err != nil {
		return fmt.Errorf("find user by email: %w", err)
	}

	raw, hash, err := newToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.config.TokenTTL)
	user, err = s.users.UpdateByID(ctx, user.ID, domain.UserPatch{
		ResetToken:        &hash,
		ResetTokenExpires: &expires,
	})
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.logger.Info("password reset requested", "user_id", user.ID)
	s.notify(ctx, user, notify.TemplatePasswordReset, notify.Data{
		URL:       s.link(ResetPasswordPath, raw),
		ExpiresIn: humanDuration(s.config.TokenTTL),
	})
	return nil
}

// CheckResetToken returns the user owning a valid, unexpired reset token.
func (s *Service) CheckResetToken(ctx context.Context, token string) (*domain.User, error) {
	user, _, err := s.findByToken(ctx, domain.TokenReset, token, true)
	return user, err
}

// ResetPassword sets a new password and consumes the reset token. The account
// stops being passwordless and any pending magic link is invalidated.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (*domain.User, error) {
	user, hash, err := s.findByToken(ctx, domain.TokenReset, token, true)
	if err != nil {
		return nil, err
	}
	if err := s.policy.ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	passwordless := false
	user, err = s.consume(ctx, user.ID, domain.TokenReset, hash, domain.UserPatch{
		PasswordHash:           &passwordHash,
		Passwordless:           &passwordless,
		ClearResetToken:        true,
		ClearPasswordlessToken: true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("password reset", "user_id", user.ID)
	s.notify(ctx, user, notify.TemplatePasswordChanged, notify.Data{URL: s.link(LoginPath, "")})
	return user, nil
}
