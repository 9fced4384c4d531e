// Package social maps identity provider profiles onto the account model and
// drives the OAuth2 authorization code flow that produces them.
package social

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

// Profile is the raw JSON profile returned by a provider's user endpoint.
type Profile map[string]any

// NormalizedProfile is the provider independent view of a social identity.
type NormalizedProfile struct {
	ExternalID string
	Username   string
	Name       string
	Email      string
	Avatar     string
}

// Normalizer extracts a NormalizedProfile from one provider's profile layout.
type Normalizer interface {
	Normalize(p Profile) (NormalizedProfile, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(p Profile) (NormalizedProfile, error)

func (f NormalizerFunc) Normalize(p Profile) (NormalizedProfile, error) {
	return f(p)
}

var normalizers = map[string]Normalizer{
	domain.ProviderGoogle:   NormalizerFunc(normalizeGoogle),
	domain.ProviderFacebook: NormalizerFunc(normalizeFacebook),
	domain.ProviderGithub:   NormalizerFunc(normalizeGithub),
	domain.ProviderTwitter:  NormalizerFunc(normalizeTwitter),
}

// Supported reports whether provider has a normalizer.
func Supported(provider string) bool {
	_, ok := normalizers[provider]
	return ok
}

// Normalize maps a provider profile. It fails with ErrUnsupportedProvider for
// unknown providers and ErrSocialProfileMalformed when no id can be found.
func Normalize(provider string, p Profile) (NormalizedProfile, error) {
	n, ok := normalizers[provider]
	if !ok {
		return NormalizedProfile{}, domain.ErrUnsupportedProvider
	}
	np, err := n.Normalize(p)
	if err != nil {
		return NormalizedProfile{}, err
	}
	if np.ExternalID == "" {
		return NormalizedProfile{}, domain.ErrSocialProfileMalformed
	}
	np.Email = strings.ToLower(strings.TrimSpace(np.Email))
	if np.Name == "" {
		np.Name = np.Username
	}
	return np, nil
}

func normalizeGoogle(p Profile) (NormalizedProfile, error) {
	id := str(p, "sub")
	if id == "" {
		id = str(p, "id")
	}
	email := str(p, "email")
	return NormalizedProfile{
		ExternalID: id,
		Username:   localPart(email),
		Name:       str(p, "name"),
		Email:      email,
		Avatar:     str(p, "picture"),
	}, nil
}

func normalizeFacebook(p Profile) (NormalizedProfile, error) {
	email := str(p, "email")
	return NormalizedProfile{
		ExternalID: str(p, "id"),
		Username:   localPart(email),
		Name:       str(p, "name"),
		Email:      email,
		Avatar:     str(p, "picture", "data", "url"),
	}, nil
}

// normalizeGithub prefers the primary address from the emails list and falls
// back to the first listed, then to the public profile email.
func normalizeGithub(p Profile) (NormalizedProfile, error) {
	email := ""
	if emails, ok := p["emails"].([]any); ok {
		for _, e := range emails {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if primary, _ := m["primary"].(bool); primary {
				email = str(m, "email")
				break
			}
		}
		if email == "" && len(emails) > 0 {
			if m, ok := emails[0].(map[string]any); ok {
				email = str(m, "email")
			}
		}
	}
	if email == "" {
		email = str(p, "email")
	}

	return NormalizedProfile{
		ExternalID: str(p, "id"),
		Username:   str(p, "login"),
		Name:       str(p, "name"),
		Email:      email,
		Avatar:     str(p, "avatar_url"),
	}, nil
}

// normalizeTwitter reads the v2 users/me envelope. Twitter does not release
// email addresses, so one is synthesized from the handle.
func normalizeTwitter(p Profile) (NormalizedProfile, error) {
	data := map[string]any(p)
	if inner, ok := p["data"].(map[string]any); ok {
		data = inner
	}
	username := str(data, "username")
	email := ""
	if username != "" {
		email = username + "@twitter.com"
	}
	return NormalizedProfile{
		ExternalID: str(data, "id"),
		Username:   username,
		Name:       str(data, "name"),
		Email:      email,
		Avatar:     str(data, "profile_image_url"),
	}, nil
}

// str walks nested objects and returns the leaf as a string. Numeric ids
// decoded from JSON are formatted without exponent.
func str(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return ""
}
