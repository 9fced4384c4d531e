package domain

import (
	"errors"
	"net/http"
)

// ClientError is an error that is safe to show to end users. It carries a
// stable code that routing layers and clients depend on.
type ClientError struct {
	Status  int
	Code    string
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

// NewClientError creates a client error.
func NewClientError(status int, code, message string) *ClientError {
	return &ClientError{Status: status, Code: code, Message: message}
}

// AsClientError unwraps err into a ClientError if it is one.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Account state machine errors
var (
	ErrSignupDisabled           = NewClientError(http.StatusBadRequest, "ERR_SIGNUP_DISABLED", "sign up is not available")
	ErrEmailExists              = NewClientError(http.StatusConflict, "ERR_EMAIL_EXISTS", "email has already been registered")
	ErrUsernameExists           = NewClientError(http.StatusConflict, "ERR_USERNAME_EXISTS", "username has already been registered")
	ErrPasswordlessNotAllowed   = NewClientError(http.StatusBadRequest, "ERR_PASSWORDLESS_NOT_ALLOWED", "password is required")
	ErrInvalidToken             = NewClientError(http.StatusBadRequest, "INVALID_TOKEN", "invalid token")
	ErrTokenExpired             = NewClientError(http.StatusBadRequest, "TOKEN_EXPIRED", "token expired")
	ErrUserNotFound             = NewClientError(http.StatusBadRequest, "ERR_USER_NOT_FOUND", "user not found")
	ErrAccountNotVerified       = NewClientError(http.StatusBadRequest, "ERR_ACCOUNT_NOT_VERIFIED", "please activate your account")
	ErrAccountDisabled          = NewClientError(http.StatusBadRequest, "ERR_ACCOUNT_DISABLED", "account has been disabled")
	ErrPasswordlessWithPassword = NewClientError(http.StatusBadRequest, "ERR_PASSWORDLESS_WITH_PASSWORD", "this is a passwordless account, please login without password")
	ErrWrongPassword            = NewClientError(http.StatusBadRequest, "ERR_WRONG_PASSWORD", "wrong password")
	ErrPasswordlessDisabled     = NewClientError(http.StatusBadRequest, "ERR_PASSWORDLESS_DISABLED", "passwordless login is not allowed, please enter your password")
	ErrEmailNotFound            = NewClientError(http.StatusBadRequest, "ERR_EMAIL_NOT_FOUND", "email is not registered")
)

// Social login errors
var (
	ErrUnsupportedProvider    = NewClientError(http.StatusBadRequest, "ERR_UNSUPPORTED_PROVIDER", "unsupported social provider")
	ErrNoSocialEmail          = NewClientError(http.StatusBadRequest, "ERR_NO_SOCIAL_EMAIL", "social account has no email address")
	ErrSocialAccountMismatch  = NewClientError(http.StatusBadRequest, "ERR_SOCIAL_ACCOUNT_MISMATCH", "social account has been linked to another account")
	ErrSocialAccountDisabled  = NewClientError(http.StatusBadRequest, "ACCOUNT_DISABLED", "account has been disabled")
	ErrSocialProfileMalformed = NewClientError(http.StatusBadRequest, "ERR_SOCIAL_PROFILE", "social profile has no identifier")
)

// Gateway errors
var (
	ErrUnauthorized = NewClientError(http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	ErrForbidden    = NewClientError(http.StatusForbidden, "FORBIDDEN", "forbidden")
)

// Validation errors
var (
	ErrInvalidEmail    = NewClientError(http.StatusUnprocessableEntity, "ERR_INVALID_EMAIL", "invalid email address")
	ErrInvalidUsername = NewClientError(http.StatusUnprocessableEntity, "ERR_INVALID_USERNAME", "invalid username format: must be 3-30 characters, alphanumeric/underscore/hyphen, start with alphanumeric")
	ErrWeakPassword    = NewClientError(http.StatusUnprocessableEntity, "ERR_WEAK_PASSWORD", "password does not meet requirements")
	ErrValidation      = NewClientError(http.StatusUnprocessableEntity, "ERR_VALIDATION", "validation failed")
)
