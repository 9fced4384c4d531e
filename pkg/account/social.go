package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/notify"
	"github.com/tendant/simple-idm-account/pkg/social"
)

const maxAutoRegisterAttempts = 3

var usernameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SocialLoginParams carry a provider profile into SocialLogin.
type SocialLoginParams struct {
	Provider string
	Profile  social.Profile
	// AccessToken and RefreshToken prove ownership of the profile. They are
	// not stored.
	AccessToken  string
	RefreshToken string
	// Current is the already authenticated user, if any. When set the call
	// links the identity instead of signing in.
	Current *domain.User
}

// Link attaches a provider identity to the user and marks the account
// verified. Overwrites any previous link for the same provider.
func (s *Service) Link(ctx context.Context, userID uuid.UUID, provider string, profile social.NormalizedProfile) (*domain.User, error) {
	verified := true
	patch := domain.UserPatch{
		Verified:               &verified,
		ClearVerificationToken: true,
		SetSocialLinks:         map[string]string{provider: profile.ExternalID},
	}

	current, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Avatar == nil && profile.Avatar != "" {
		patch.Avatar = &profile.Avatar
	}

	user, err := s.users.UpdateByID(ctx, userID, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("social account linked", "user_id", user.ID, "provider", provider)
	return user, nil
}

// Unlink removes the provider identity from the user. Unknown providers are
// rejected before reaching the store.
func (s *Service) Unlink(ctx context.Context, userID uuid.UUID, provider string) (*domain.User, error) {
	if !social.Supported(provider) {
		return nil, domain.ErrUnsupportedProvider
	}
	user, err := s.users.UpdateByID(ctx, userID, domain.UserPatch{UnsetSocialLinks: []string{provider}})
	if err != nil {
		return nil, err
	}
	s.logger.Info("social account unlinked", "user_id", user.ID, "provider", provider)
	return user, nil
}

// SupportsProvider reports whether social login is enabled for provider.
func (s *Service) SupportsProvider(provider string) bool {
	if !social.Supported(provider) {
		return false
	}
	if len(s.config.Providers) == 0 {
		return true
	}
	for _, p := range s.config.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// SocialLogin reconciles a provider profile with the local accounts. A given
// provider identity always resolves to the same user; an email that already
// belongs to an account is linked rather than duplicated.
func (s *Service) SocialLogin(ctx context.Context, p SocialLoginParams) (*domain.User, error) {
	if !s.SupportsProvider(p.Provider) {
		return nil, domain.ErrUnsupportedProvider
	}
	profile, err := social.Normalize(p.Provider, p.Profile)
	if err != nil {
		return nil, err
	}

	if p.Current != nil {
		return s.linkCurrent(ctx, p.Current, p.Provider, profile)
	}

	if profile.Email == "" {
		return nil, domain.ErrNoSocialEmail
	}

	linked := true
	user, err := s.users.FindBySocialKey(ctx, p.Provider, profile.ExternalID)
	if errors.Is(err, domain.ErrUserNotFound) {
		linked = false
		user, err = s.users.FindByEmail(ctx, profile.Email)
	}
	switch {
	case err == nil:
		return s.adopt(ctx, user, linked, p.Provider, profile)
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, fmt.Errorf("find social user: %w", err)
	}

	if !s.config.SignupEnabled {
		return nil, domain.ErrSignupDisabled
	}
	return s.autoRegister(ctx, p.Provider, profile)
}

func (s *Service) linkCurrent(ctx context.Context, current *domain.User, provider string, profile social.NormalizedProfile) (*domain.User, error) {
	owner, err := s.users.FindBySocialKey(ctx, provider, profile.ExternalID)
	switch {
	case err == nil && owner.ID != current.ID:
		s.logger.Warn("social account belongs to another user",
			"user_id", current.ID,
			"provider", provider,
		)
		return nil, domain.ErrSocialAccountMismatch
	case err == nil:
		return owner, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, fmt.Errorf("find social user: %w", err)
	}
	return s.Link(ctx, current.ID, provider, profile)
}

// adopt signs in an existing user, linking the identity if the user was found
// by email only.
func (s *Service) adopt(ctx context.Context, user *domain.User, linked bool, provider string, profile social.NormalizedProfile) (*domain.User, error) {
	if !user.IsActive() {
		return nil, domain.ErrSocialAccountDisabled
	}
	if linked {
		s.logger.Info("user logged in", "user_id", user.ID, "method", provider)
		return user, nil
	}
	return s.Link(ctx, user.ID, provider, profile)
}

// autoRegister creates an account from the profile. Conflicts from concurrent
// sign-ins are resolved by adopting the account that won.
func (s *Service) autoRegister(ctx context.Context, provider string, profile social.NormalizedProfile) (*domain.User, error) {
	passwordHash, err := auth.UnusablePasswordHash()
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	fullName := auth.SanitizeName(profile.Name)
	if fullName == "" {
		fullName = profile.Email
	}
	base := usernameBase(profile)

	for attempt := 0; attempt < maxAutoRegisterAttempts; attempt++ {
		roles, err := s.initialRoles(ctx)
		if err != nil {
			return nil, err
		}

		user := &domain.User{
			ID:           uuid.New(),
			Email:        profile.Email,
			FullName:     fullName,
			PasswordHash: &passwordHash,
			Status:       domain.StatusActive,
			Roles:        roles,
			Verified:     true,
			SocialLinks:  map[string]string{provider: profile.ExternalID},
		}
		if s.config.UsernameEnabled {
			name, err := usernameCandidate(base, attempt)
			if err != nil {
				return nil, err
			}
			user.Username = &name
		}
		if profile.Avatar != "" {
			avatar := profile.Avatar
			user.Avatar = &avatar
		}

		err = s.users.Create(ctx, user)
		switch {
		case err == nil:
			user, err = s.settleInitialAdmin(ctx, user)
			if err != nil {
				return nil, err
			}
			s.logger.Info("user registered", "user_id", user.ID, "method", provider)
			s.notify(ctx, user, notify.TemplateWelcome, notify.Data{URL: s.link(LoginPath, "")})
			return user, nil
		case errors.Is(err, domain.ErrEmailExists):
			existing, err := s.users.FindByEmail(ctx, profile.Email)
			if err != nil {
				return nil, fmt.Errorf("find user by email: %w", err)
			}
			return s.adopt(ctx, existing, false, provider, profile)
		case errors.Is(err, domain.ErrSocialAccountMismatch):
			existing, err := s.users.FindBySocialKey(ctx, provider, profile.ExternalID)
			if err != nil {
				return nil, fmt.Errorf("find social user: %w", err)
			}
			return s.adopt(ctx, existing, true, provider, profile)
		case errors.Is(err, domain.ErrUsernameExists):
			continue
		default:
			return nil, err
		}
	}
	return nil, domain.ErrUsernameExists
}

// usernameBase derives a valid username stem from the profile.
func usernameBase(profile social.NormalizedProfile) string {
	for _, candidate := range []string{profile.Username, localPart(profile.Email)} {
		name := strings.Trim(usernameDisallowed.ReplaceAllString(candidate, ""), "_-")
		if len(name) > 24 {
			name = name[:24]
		}
		if len(name) >= 3 {
			return name
		}
	}
	return "user"
}

// usernameCandidate returns the stem on the first attempt and appends a
// random suffix afterwards.
func usernameCandidate(base string, attempt int) (string, error) {
	if attempt == 0 && len(base) >= 3 {
		return base, nil
	}
	suffix, err := auth.GenerateToken(2)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return ""
}
