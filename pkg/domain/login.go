package domain

// LoginOutcome tags the successful results of a login attempt.
type LoginOutcome int

const (
	// LoginAuthenticated means User holds the authenticated account.
	LoginAuthenticated LoginOutcome = iota + 1
	// LoginMagicLinkSent means a magic link was mailed; no user is returned.
	LoginMagicLinkSent
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginAuthenticated:
		return "authenticated"
	case LoginMagicLinkSent:
		return "magic_link_sent"
	}
	return "unknown"
}

// LoginResult is the result of Login. Rejections are returned as errors.
type LoginResult struct {
	Outcome LoginOutcome
	User    *User
}

// Authenticated builds an authenticated result.
func Authenticated(u *User) LoginResult {
	return LoginResult{Outcome: LoginAuthenticated, User: u}
}

// MagicLinkSent builds the magic-link result.
func MagicLinkSent() LoginResult {
	return LoginResult{Outcome: LoginMagicLinkSent}
}
