package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestDocumentRoundTrip(t *testing.T) {
	username := "tester"
	expires := time.Now().UTC().Truncate(time.Millisecond)
	hash := "h"
	u := &domain.User{
		ID:                u0(),
		Username:          &username,
		Email:             "a@x.com",
		Status:            domain.StatusActive,
		Roles:             []string{domain.RoleUser},
		ResetToken:        &hash,
		ResetTokenExpires: &expires,
		SocialLinks:       map[string]string{domain.ProviderGithub: "42"},
	}

	got, err := toDocument(u).toUser()
	if err != nil {
		t.Fatalf("toUser failed: %v", err)
	}
	if got.ID != u.ID || *got.Username != username || got.Status != domain.StatusActive {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if id, _ := got.SocialID(domain.ProviderGithub); id != "42" {
		t.Errorf("social link lost: %v", got.SocialLinks)
	}
}

func TestDocument_BadID(t *testing.T) {
	if _, err := (userDocument{ID: "not-a-uuid"}).toUser(); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestUpdateDocument(t *testing.T) {
	verified := true
	now := time.Now()
	update := updateDocument(domain.UserPatch{
		Verified:               &verified,
		ClearVerificationToken: true,
		SetSocialLinks:         map[string]string{domain.ProviderGoogle: "g-1"},
		UnsetSocialLinks:       []string{domain.ProviderTwitter},
	}, now)

	rawSet, _ := lookup(update, "$set")
	set, ok := rawSet.(bson.D)
	if !ok {
		t.Fatalf("missing $set: %v", update)
	}
	if v, _ := lookup(set, "verified"); v != true {
		t.Errorf("verified not set: %v", set)
	}
	if v, _ := lookup(set, "social_links.google"); v != "g-1" {
		t.Errorf("google link not set: %v", set)
	}

	rawUnset, _ := lookup(update, "$unset")
	unset, ok := rawUnset.(bson.D)
	if !ok {
		t.Fatalf("missing $unset: %v", update)
	}
	if _, ok := lookup(unset, "verification_token"); !ok {
		t.Errorf("verification_token should be unset: %v", unset)
	}
	if _, ok := lookup(unset, "social_links.twitter"); !ok {
		t.Errorf("twitter link should be unset: %v", unset)
	}
}

func TestUpdateDocument_NoUnset(t *testing.T) {
	name := "New Name"
	update := updateDocument(domain.UserPatch{FullName: &name}, time.Now())
	if _, ok := lookup(update, "$unset"); ok {
		t.Error("empty $unset must be omitted")
	}
}

func TestMapWriteError(t *testing.T) {
	dup := func(index string) error {
		return mongo.WriteException{WriteErrors: []mongo.WriteError{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: idm.users index: " + index + " dup key",
		}}}
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "email", err: dup(emailIndex), want: domain.ErrEmailExists},
		{name: "username", err: dup(usernameIndex), want: domain.ErrUsernameExists},
		{name: "social", err: dup(socialIndex + "github"), want: domain.ErrSocialAccountMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapWriteError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapWriteError() = %v, want %v", got, tt.want)
			}
		})
	}

	if mapWriteError(nil) != nil {
		t.Error("nil should stay nil")
	}
	plain := errors.New("boom")
	if mapWriteError(plain) != plain {
		t.Error("other errors pass through")
	}
}

func u0() uuid.UUID {
	return uuid.MustParse("6f1c2b8e-6c1e-4f55-9a36-1d2f7c0b9a11")
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
