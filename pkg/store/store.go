// Package store defines the persistence boundary of the account core.
//
// Implementations report absence as domain.ErrUserNotFound and map unique
// constraint violations to domain.ErrEmailExists, domain.ErrUsernameExists or
// domain.ErrSocialAccountMismatch. Unique indexes are the authoritative guard;
// callers may pre-check only to fail fast.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/domain"
)

// UserStore persists user records.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindBySocialKey(ctx context.Context, provider, externalID string) (*domain.User, error)
	// FindByToken looks a user up by the stored hash of a single-use token.
	FindByToken(ctx context.Context, kind domain.TokenKind, hash string) (*domain.User, error)

	Create(ctx context.Context, user *domain.User) error
	// UpdateByID applies patch and returns the updated user. It returns
	// domain.ErrUserNotFound when the id is unknown or patch.Match no longer
	// holds.
	UpdateByID(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error)

	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*domain.User, error)
	Ping(ctx context.Context) error
}

// PostStore persists posts.
type PostStore interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	ListPosts(ctx context.Context, limit int) ([]*domain.Post, error)
	CountPosts(ctx context.Context) (int64, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	UserStore
	PostStore
	Close(ctx context.Context) error
}

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 50

// ClampLimit normalizes a caller supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
