package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
)

const (
	minFullNameLength = 2
	maxFullNameLength = 100
)

// RegisterParams are the registration inputs. Empty optional fields are
// treated as absent.
type RegisterParams struct {
	Username string
	Password string
	Email    string
	FullName string
	Avatar   string
}

// Register creates an account. Without a password the account is passwordless
// and receives a magic link instead of a welcome mail.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*domain.User, error) {
	if !s.config.SignupEnabled {
		return nil, domain.ErrSignupDisabled
	}

	email := auth.NormalizeEmail(p.Email)
	if err := auth.ValidateEmail(email, false); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	var username *string
	if s.config.UsernameEnabled {
		name := strings.TrimSpace(p.Username)
		if err := auth.ValidateUsername(name); err != nil {
			return nil, err
		}
		if err := s.ensureUsernameFree(ctx, name); err != nil {
			return nil, err
		}
		username = &name
	}

	passwordless := p.Password == ""
	if passwordless && !s.config.PasswordlessEnabled {
		return nil, domain.ErrPasswordlessNotAllowed
	}
	if !passwordless {
		if err := s.policy.ValidatePassword(p.Password); err != nil {
			return nil, err
		}
	}

	fullName := auth.SanitizeName(p.FullName)
	if err := auth.ValidateStringLength("full name", fullName, minFullNameLength, maxFullNameLength); err != nil {
		return nil, err
	}

	roles, err := s.initialRoles(ctx)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:       uuid.New(),
		Username: username,
		Email:    email,
		FullName: fullName,
		Status:   domain.StatusActive,
		Roles:    roles,
		Verified: !s.config.VerificationRequired,
	}
	if avatar := strings.TrimSpace(p.Avatar); avatar != "" {
		user.Avatar = &avatar
	}

	var verifyToken, passwordlessToken string
	if s.config.VerificationRequired {
		raw, hash, err := newToken()
		if err != nil {
			return nil, err
		}
		verifyToken = raw
		user.VerificationToken = &hash
	}

	if passwordless {
		raw, hash, err := newToken()
		if err != nil {
			return nil, err
		}
		expires := s.now().Add(s.config.TokenTTL)
		passwordlessToken = raw
		user.Passwordless = true
		user.PasswordlessToken = &hash
		user.PasswordlessTokenExpires = &expires
	} else {
		hash, err := auth.HashPassword(p.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = &hash
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	user, err = s.settleInitialAdmin(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		"user_id", user.ID,
		"passwordless", user.Passwordless,
		"verified", user.Verified,
	)

	switch {
	case s.config.VerificationRequired:
		s.notify(ctx, user, notify.TemplateActivate, notify.Data{URL: s.link(ActivatePath, verifyToken)})
	case passwordless:
		s.notify(ctx, user, notify.TemplateMagicLink, notify.Data{
			URL:       s.link(PasswordlessPath, passwordlessToken),
			ExpiresIn: humanDuration(s.config.TokenTTL),
		})
	default:
		s.notify(ctx, user, notify.TemplateWelcome, notify.Data{URL: s.link(LoginPath, "")})
	}

	return user, nil
}

// Verify consumes a verification token and activates the account.
func (s *Service) Verify(ctx context.Context, token string) (*domain.User, error) {
	user, hash, err := s.findByToken(ctx, domain.TokenVerification, token, false)
	if err != nil {
		return nil, err
	}

	verified := true
	user, err = s.consume(ctx, user.ID, domain.TokenVerification, hash, domain.UserPatch{
		Verified:               &verified,
		ClearVerificationToken: true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user verified", "user_id", user.ID)
	s.notify(ctx, user, notify.TemplateWelcome, notify.Data{URL: s.link(LoginPath, "")})
	return user, nil
}

// settleInitialAdmin runs after create. Concurrent first registrations can
// all be granted admin by initialRoles; only the earliest created account
// keeps it.
func (s *Service) settleInitialAdmin(ctx context.Context, user *domain.User) (*domain.User, error) {
	if !user.HasRole(domain.RoleAdmin) {
		return user, nil
	}
	first, err := s.users.List(ctx, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if len(first) == 0 || first[0].ID == user.ID {
		return user, nil
	}

	demoted, err := s.users.UpdateByID(ctx, user.ID, domain.UserPatch{Roles: []string{domain.RoleUser}})
	if err != nil {
		return nil, fmt.Errorf("demote concurrent first user: %w", err)
	}
	s.logger.Warn("initial admin taken by an earlier account", "user_id", user.ID, "admin_id", first[0].ID)
	return demoted, nil
}

// initialRoles grants admin to the very first account.
func (s *Service) initialRoles(ctx context.Context) ([]string, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if n == 0 {
		return []string{domain.RoleAdmin, domain.RoleUser}, nil
	}
	return []string{domain.RoleUser}, nil
}

// ensureEmailFree is a fast-fail pre-check; the store's unique index decides.
func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.ErrEmailExists
	case errors.Is(err, domain.ErrUserNotFound):
		return nil
	}
	return fmt.Errorf("find user by email: %w", err)
}

func (s *Service) ensureUsernameFree(ctx context.Context, username string) error {
	_, err := s.users.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return domain.ErrUsernameExists
	case errors.Is(err, domain.ErrUserNotFound):
		return nil
	}
	return fmt.Errorf("find user by username: %w", err)
}
