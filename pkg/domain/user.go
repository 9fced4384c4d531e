package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of an account. Only StatusActive may sign in.
type Status int

const (
	StatusDisabled Status = 0
	StatusActive   Status = 1
)

// Role names.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Social identity provider names.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
	ProviderGithub   = "github"
	ProviderTwitter  = "twitter"
)

// User represents the canonical account record.
type User struct {
	ID       uuid.UUID
	Username *string
	Email    string
	FullName string
	Avatar   *string

	PasswordHash *string
	Passwordless bool
	Status       Status
	Roles        []string

	Verified          bool
	VerificationToken *string

	ResetToken               *string
	ResetTokenExpires        *time.Time
	PasswordlessToken        *string
	PasswordlessTokenExpires *time.Time

	// SocialLinks maps provider name to the provider-assigned external id.
	SocialLinks map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive returns true if the account status allows authentication.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SocialID returns the external id linked for provider, if any.
func (u *User) SocialID(provider string) (string, bool) {
	if u.SocialLinks == nil {
		return "", false
	}
	id, ok := u.SocialLinks[provider]
	return id, ok && id != ""
}

// TokenKind identifies one of the single-use token fields on a user.
type TokenKind string

const (
	TokenVerification TokenKind = "verification"
	TokenPasswordless TokenKind = "passwordless"
	TokenReset        TokenKind = "reset"
)

// TokenMatch is a precondition for UserPatch: the update only applies while the
// stored token of Kind still equals Hash.
type TokenMatch struct {
	Kind TokenKind
	Hash string
}

// UserPatch describes a partial update. Nil pointers leave a field untouched;
// Clear* flags null the corresponding token fields.
type UserPatch struct {
	FullName     *string
	Avatar       *string
	PasswordHash *string
	Passwordless *bool
	Status       *Status
	Roles        []string
	Verified     *bool

	VerificationToken      *string
	ClearVerificationToken bool

	ResetToken        *string
	ResetTokenExpires *time.Time
	ClearResetToken   bool

	PasswordlessToken        *string
	PasswordlessTokenExpires *time.Time
	ClearPasswordlessToken   bool

	SetSocialLinks   map[string]string
	UnsetSocialLinks []string

	// Match, when set, makes the update conditional on the current token value.
	Match *TokenMatch
}

// Apply mutates u according to the patch. Stores that keep whole documents in
// memory use it; SQL and document stores translate the patch into queries.
func (p *UserPatch) Apply(u *User, now time.Time) {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Avatar != nil {
		u.Avatar = p.Avatar
	}
	if p.PasswordHash != nil {
		u.PasswordHash = p.PasswordHash
	}
	if p.Passwordless != nil {
		u.Passwordless = *p.Passwordless
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.Roles != nil {
		u.Roles = append([]string(nil), p.Roles...)
	}
	if p.Verified != nil {
		u.Verified = *p.Verified
	}

	if p.ClearVerificationToken {
		u.VerificationToken = nil
	} else if p.VerificationToken != nil {
		u.VerificationToken = p.VerificationToken
	}

	if p.ClearResetToken {
		u.ResetToken = nil
		u.ResetTokenExpires = nil
	} else if p.ResetToken != nil {
		u.ResetToken = p.ResetToken
		u.ResetTokenExpires = p.ResetTokenExpires
	}

	if p.ClearPasswordlessToken {
		u.PasswordlessToken = nil
		u.PasswordlessTokenExpires = nil
	} else if p.PasswordlessToken != nil {
		u.PasswordlessToken = p.PasswordlessToken
		u.PasswordlessTokenExpires = p.PasswordlessTokenExpires
	}

	if len(p.SetSocialLinks) > 0 && u.SocialLinks == nil {
		u.SocialLinks = make(map[string]string, len(p.SetSocialLinks))
	}
	for provider, id := range p.SetSocialLinks {
		u.SocialLinks[provider] = id
	}
	for _, provider := range p.UnsetSocialLinks {
		delete(u.SocialLinks, provider)
	}

	u.UpdatedAt = now
}

// Token returns the stored token hash and expiry for kind.
func (u *User) Token(kind TokenKind) (*string, *time.Time) {
	switch kind {
	case TokenVerification:
		return u.VerificationToken, nil
	case TokenPasswordless:
		return u.PasswordlessToken, u.PasswordlessTokenExpires
	case TokenReset:
		return u.ResetToken, u.ResetTokenExpires
	}
	return nil, nil
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.Roles != nil {
		c.Roles = append([]string(nil), u.Roles...)
	}
	if u.SocialLinks != nil {
		c.SocialLinks = make(map[string]string, len(u.SocialLinks))
		for k, v := range u.SocialLinks {
			c.SocialLinks[k] = v
		}
	}
	return &c
}

// PublicUser is the user representation safe to return to clients.
type PublicUser struct {
	ID           string            `json:"id"`
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email"`
	FullName     string            `json:"full_name"`
	Avatar       string            `json:"avatar,omitempty"`
	Passwordless bool              `json:"passwordless"`
	Verified     bool              `json:"verified"`
	Status       Status            `json:"status"`
	Roles        []string          `json:"roles"`
	SocialLinks  map[string]string `json:"social_links,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Public strips credential and token fields.
func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:           u.ID.String(),
		Email:        u.Email,
		FullName:     u.FullName,
		Passwordless: u.Passwordless,
		Verified:     u.Verified,
		Status:       u.Status,
		Roles:        u.Roles,
		SocialLinks:  u.SocialLinks,
		CreatedAt:    u.CreatedAt,
	}
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.Avatar != nil {
		p.Avatar = *u.Avatar
	}
	return p
}
