package account

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-idm-account/pkg/auth"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/social"
)

func githubProfile(id int, login, email string) social.Profile {
	p := social.Profile{"id": float64(id), "login": login, "name": "Octo Cat"}
	if email != "" {
		p["emails"] = []any{map[string]any{"email": email, "primary": true}}
	}
	return p
}

func TestSocialLogin_AnonymousConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	params := SocialLoginParams{Provider: domain.ProviderGithub, Profile: githubProfile(42, "octocat", "octo@x.com"), AccessToken: "gh"}
	first, err := f.svc.SocialLogin(ctx, params)
	require.NoError(t, err)
	second, err := f.svc.SocialLogin(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, _ := f.users.Count(ctx)
	assert.EqualValues(t, 1, n)

	assert.True(t, first.Verified, "social sign-up needs no email verification")
	assert.NotNil(t, first.PasswordHash)
	id, ok := first.SocialID(domain.ProviderGithub)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	_, err = f.svc.Login(ctx, LoginParams{Email: "octo@x.com", Password: ""})
	assert.ErrorIs(t, err, domain.ErrPasswordlessDisabled)
}

func TestSocialLogin_LinksExistingEmailAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	existing := f.register(t, "octo@x.com", "secret1")
	require.False(t, existing.Verified)

	user, err := f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderGithub,
		Profile:  githubProfile(42, "octocat", "Octo@X.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, user.ID)
	assert.True(t, user.Verified)
	assert.Nil(t, user.VerificationToken)
	id, _ := user.SocialID(domain.ProviderGithub)
	assert.Equal(t, "42", id)

	n, _ := f.users.Count(ctx)
	assert.EqualValues(t, 1, n)
}

func TestSocialLogin_AuthenticatedLinking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	alice := f.register(t, "alice@x.com", "secret1")
	bob := f.register(t, "bob@x.com", "secret1")

	linked, err := f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderGithub,
		Profile:  githubProfile(7, "alice-gh", ""),
		Current:  alice,
	})
	require.NoError(t, err, "linking does not need a profile email")
	assert.Equal(t, alice.ID, linked.ID)

	again, err := f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderGithub,
		Profile:  githubProfile(7, "alice-gh", ""),
		Current:  linked,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)

	_, err = f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderGithub,
		Profile:  githubProfile(7, "alice-gh", ""),
		Current:  bob,
	})
	assert.ErrorIs(t, err, domain.ErrSocialAccountMismatch)

	stillBob, _ := f.users.FindByID(ctx, bob.ID)
	_, ok := stillBob.SocialID(domain.ProviderGithub)
	assert.False(t, ok)
}

func TestSocialLogin_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported provider", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.SocialLogin(ctx, SocialLoginParams{Provider: "myspace", Profile: social.Profile{"id": "1"}})
		assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	})

	t.Run("provider not enabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.Providers = []string{domain.ProviderGoogle} })
		_, err := f.svc.SocialLogin(ctx, SocialLoginParams{Provider: domain.ProviderGithub, Profile: githubProfile(1, "a", "a@x.com")})
		assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	})

	t.Run("no email", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.SocialLogin(ctx, SocialLoginParams{Provider: domain.ProviderGithub, Profile: githubProfile(1, "a", "")})
		assert.ErrorIs(t, err, domain.ErrNoSocialEmail)
	})

	t.Run("signup disabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.SignupEnabled = false })
		_, err := f.svc.SocialLogin(ctx, SocialLoginParams{Provider: domain.ProviderGithub, Profile: githubProfile(1, "a", "a@x.com")})
		assert.ErrorIs(t, err, domain.ErrSignupDisabled)
	})

	t.Run("disabled account", func(t *testing.T) {
		f := newFixture(t, nil)
		params := SocialLoginParams{Provider: domain.ProviderGithub, Profile: githubProfile(1, "a", "a@x.com")}
		user, err := f.svc.SocialLogin(ctx, params)
		require.NoError(t, err)

		disabled := domain.StatusDisabled
		_, err = f.users.UpdateByID(ctx, user.ID, domain.UserPatch{Status: &disabled})
		require.NoError(t, err)

		_, err = f.svc.SocialLogin(ctx, params)
		assert.ErrorIs(t, err, domain.ErrSocialAccountDisabled)
	})
}

func TestSocialLogin_TwitterSynthesizedEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.UsernameEnabled = true })

	user, err := f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderTwitter,
		Profile: social.Profile{"data": map[string]any{
			"id": "2244994945", "name": "Dev", "username": "TwitterDev",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "twitterdev@twitter.com", user.Email)
	require.NotNil(t, user.Username)
	assert.Equal(t, "TwitterDev", *user.Username)
}

func TestSocialLogin_UsernameConflictRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.UsernameEnabled = true })
	_, err := f.svc.Register(ctx, RegisterParams{Email: "first@x.com", Username: "octocat", Password: "secret1", FullName: "A B"})
	require.NoError(t, err)

	user, err := f.svc.SocialLogin(ctx, SocialLoginParams{
		Provider: domain.ProviderGithub,
		Profile:  githubProfile(42, "octocat", "octo@x.com"),
	})
	require.NoError(t, err)
	require.NotNil(t, user.Username)
	assert.NotEqual(t, "octocat", *user.Username)
	assert.Regexp(t, `^octocat-[0-9a-f]{4}$`, *user.Username)
}

func TestLinkAndUnlink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "secret1")

	linked, err := f.svc.Link(ctx, user.ID, domain.ProviderGoogle, social.NormalizedProfile{ExternalID: "g-1", Avatar: "https://img/a.png"})
	require.NoError(t, err)
	assert.True(t, linked.Verified)
	require.NotNil(t, linked.Avatar)
	assert.Equal(t, "https://img/a.png", *linked.Avatar)

	relinked, err := f.svc.Link(ctx, user.ID, domain.ProviderGoogle, social.NormalizedProfile{ExternalID: "g-2"})
	require.NoError(t, err)
	id, _ := relinked.SocialID(domain.ProviderGoogle)
	assert.Equal(t, "g-2", id, "link overwrites")

	unlinked, err := f.svc.Unlink(ctx, user.ID, domain.ProviderGoogle)
	require.NoError(t, err)
	_, ok := unlinked.SocialID(domain.ProviderGoogle)
	assert.False(t, ok)

	_, err = f.users.FindBySocialKey(ctx, domain.ProviderGoogle, "g-2")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUnlink_RejectsUnknownProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "secret1")
	_, err := f.svc.Link(ctx, user.ID, domain.ProviderGoogle, social.NormalizedProfile{ExternalID: "g-1"})
	require.NoError(t, err)

	for _, provider := range []string{"", "myspace", "google.sub", "$where"} {
		_, err := f.svc.Unlink(ctx, user.ID, provider)
		assert.ErrorIs(t, err, domain.ErrUnsupportedProvider, "provider %q", provider)
	}

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	_, ok := stored.SocialID(domain.ProviderGoogle)
	assert.True(t, ok, "existing link must survive rejected unlinks")
}

func TestUsernameBase(t *testing.T) {
	tests := []struct {
		profile social.NormalizedProfile
		want    string
	}{
		{social.NormalizedProfile{Username: "octocat"}, "octocat"},
		{social.NormalizedProfile{Username: "José.Ma"}, "JosMa"},
		{social.NormalizedProfile{Username: "_x", Email: "long.name@x.com"}, "longname"},
		{social.NormalizedProfile{Email: "ab@x.com"}, "user"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, usernameBase(tt.profile))
	}
}

func TestUsernameCandidate_PassesValidation(t *testing.T) {
	profiles := []social.NormalizedProfile{
		{Username: "octocat"},
		{Username: "José.Ma"},
		{Username: strings.Repeat("x", 40)},
		{Email: "ab@x.com"},
		{Username: "TwitterDev", Email: "twitterdev@twitter.com"},
	}
	for _, p := range profiles {
		base := usernameBase(p)
		for attempt := 0; attempt < maxAutoRegisterAttempts; attempt++ {
			name, err := usernameCandidate(base, attempt)
			require.NoError(t, err)
			assert.NoError(t, auth.ValidateUsername(name), "candidate %q from %+v", name, p)
		}
	}
}
