package social

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

func profileFromJSON(t *testing.T, raw string) Profile {
	t.Helper()
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return p
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		raw      string
		want     NormalizedProfile
	}{
		{
			name:     "google userinfo",
			provider: domain.ProviderGoogle,
			raw:      `{"sub":"1093","name":"Ann Lee","email":"Ann@Example.com","picture":"https://img/a.png"}`,
			want: NormalizedProfile{
				ExternalID: "1093", Username: "Ann", Name: "Ann Lee",
				Email: "ann@example.com", Avatar: "https://img/a.png",
			},
		},
		{
			name:     "facebook nested picture",
			provider: domain.ProviderFacebook,
			raw:      `{"id":"77","name":"Bo","email":"bo@x.com","picture":{"data":{"url":"https://fb/p.jpg"}}}`,
			want: NormalizedProfile{
				ExternalID: "77", Username: "bo", Name: "Bo",
				Email: "bo@x.com", Avatar: "https://fb/p.jpg",
			},
		},
		{
			name:     "github primary email",
			provider: domain.ProviderGithub,
			raw: `{"id":583231,"login":"octocat","name":"The Octocat","avatar_url":"https://gh/o.png",
				"emails":[{"email":"old@x.com","primary":false},{"email":"octo@x.com","primary":true}]}`,
			want: NormalizedProfile{
				ExternalID: "583231", Username: "octocat", Name: "The Octocat",
				Email: "octo@x.com", Avatar: "https://gh/o.png",
			},
		},
		{
			name:     "github first email without primary",
			provider: domain.ProviderGithub,
			raw:      `{"id":1,"login":"dev","emails":[{"email":"first@x.com"},{"email":"second@x.com"}]}`,
			want: NormalizedProfile{
				ExternalID: "1", Username: "dev", Name: "dev", Email: "first@x.com",
			},
		},
		{
			name:     "github public email fallback",
			provider: domain.ProviderGithub,
			raw:      `{"id":2,"login":"pub","email":"pub@x.com"}`,
			want:     NormalizedProfile{ExternalID: "2", Username: "pub", Name: "pub", Email: "pub@x.com"},
		},
		{
			name:     "twitter synthesizes email",
			provider: domain.ProviderTwitter,
			raw:      `{"data":{"id":"2244994945","name":"Dev","username":"TwitterDev","profile_image_url":"https://tw/i.jpg"}}`,
			want: NormalizedProfile{
				ExternalID: "2244994945", Username: "TwitterDev", Name: "Dev",
				Email: "twitterdev@twitter.com", Avatar: "https://tw/i.jpg",
			},
		},
		{
			name:     "google without email",
			provider: domain.ProviderGoogle,
			raw:      `{"sub":"5","name":"No Mail"}`,
			want:     NormalizedProfile{ExternalID: "5", Name: "No Mail"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.provider, profileFromJSON(t, tt.raw))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	if _, err := Normalize("myspace", Profile{"id": "1"}); !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, err := Normalize(domain.ProviderGithub, Profile{"login": "ghost"}); !errors.Is(err, domain.ErrSocialProfileMalformed) {
		t.Errorf("missing id error = %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, p := range []string{"google", "facebook", "github", "twitter"} {
		if !Supported(p) {
			t.Errorf("%s should be supported", p)
		}
	}
	if Supported("linkedin") {
		t.Error("linkedin should not be supported")
	}
}
