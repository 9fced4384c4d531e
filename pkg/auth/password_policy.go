package auth

import (
	"fmt"
	"unicode/utf8"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

// DefaultMinPasswordLength is used when no minimum is configured.
const DefaultMinPasswordLength = 6

// PasswordPolicy defines password requirements. Only the minimum length is
// configurable.
type PasswordPolicy struct {
	MinLength int
}

// NewPasswordPolicy creates a PasswordPolicy with the given minimum length.
func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return &PasswordPolicy{MinLength: minLength}
}

// ValidatePassword checks if a password meets the policy requirements.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters long", domain.ErrWeakPassword, p.MinLength)
	}
	return nil
}

// GetRequirements returns a human-readable description of the policy.
func (p *PasswordPolicy) GetRequirements() string {
	return fmt.Sprintf("Password must contain at least %d characters", p.MinLength)
}
