package auth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

// Common disposable email domains to block (can be extended)
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

// Email validation regex (stricter than RFC 5322 for practical use)
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Usernames: 3-30 chars, alphanumeric, underscore, hyphen; starts with alphanumeric.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{2,29}$`)

const maxEmailLength = 254 // RFC 5321

// ValidateEmail validates an email address for format and length.
// It returns domain.ErrInvalidEmail for any malformed address.
func ValidateEmail(email string, blockDisposable bool) error {
	if email == "" || len(email) > maxEmailLength {
		return domain.ErrInvalidEmail
	}

	normalized := NormalizeEmail(email)

	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return domain.ErrInvalidEmail
	}
	if !emailRegex.MatchString(addr.Address) {
		return domain.ErrInvalidEmail
	}

	if blockDisposable && disposableDomains[getDomain(addr.Address)] {
		return domain.ErrInvalidEmail
	}

	return nil
}

// ValidateUsername checks the username format.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return domain.ErrInvalidUsername
	}
	return nil
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmail reports whether an identifier should be treated as an email address.
func IsEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// getDomain extracts the domain from an email address.
func getDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
