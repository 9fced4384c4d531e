// Package memory provides an in-process store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// Store keeps users and posts in maps guarded by a single mutex, which makes
// every write atomic with its uniqueness checks.
type Store struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
	posts []*domain.Post
	now   func() time.Time
	// lastCreated keeps user creation times strictly increasing so List
	// order matches insertion order.
	lastCreated time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users: make(map[uuid.UUID]*domain.User),
		now:   time.Now,
	}
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	return s.findOne(func(u *domain.User) bool { return u.Email == email })
}

func (s *Store) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	return s.findOne(func(u *domain.User) bool { return u.Username != nil && *u.Username == username })
}

func (s *Store) FindBySocialKey(_ context.Context, provider, externalID string) (*domain.User, error) {
	return s.findOne(func(u *domain.User) bool {
		id, ok := u.SocialID(provider)
		return ok && id == externalID
	})
}

func (s *Store) FindByToken(_ context.Context, kind domain.TokenKind, hash string) (*domain.User, error) {
	if hash == "" {
		return nil, domain.ErrUserNotFound
	}
	return s.findOne(func(u *domain.User) bool {
		stored, _ := u.Token(kind)
		return stored != nil && *stored == hash
	})
}

func (s *Store) findOne(match func(*domain.User) bool) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnique(user, uuid.Nil); err != nil {
		return err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := s.now()
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Nanosecond)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
		s.lastCreated = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	s.users[user.ID] = user.Clone()
	return nil
}

// checkUnique must be called with the write lock held.
func (s *Store) checkUnique(user *domain.User, self uuid.UUID) error {
	for id, other := range s.users {
		if id == self {
			continue
		}
		if other.Email == user.Email {
			return domain.ErrEmailExists
		}
		if user.Username != nil && other.Username != nil && *other.Username == *user.Username {
			return domain.ErrUsernameExists
		}
		for provider, externalID := range user.SocialLinks {
			if linked, ok := other.SocialID(provider); ok && linked == externalID {
				return domain.ErrSocialAccountMismatch
			}
		}
	}
	return nil
}

func (s *Store) UpdateByID(_ context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if patch.Match != nil {
		stored, _ := current.Token(patch.Match.Kind)
		if stored == nil || *stored != patch.Match.Hash {
			return nil, domain.ErrUserNotFound
		}
	}

	updated := current.Clone()
	patch.Apply(updated, s.now())
	if len(patch.SetSocialLinks) > 0 {
		if err := s.checkUnique(updated, id); err != nil {
			return nil, err
		}
	}
	s.users[id] = updated
	return updated.Clone(), nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) List(_ context.Context, limit, offset int) ([]*domain.User, error) {
	s.mu.RLock()
	all := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*domain.User{}, nil
	}
	end := offset + store.ClampLimit(limit)
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) CreatePost(_ context.Context, post *domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	now := s.now()
	post.CreatedAt = now
	post.UpdatedAt = now
	p := *post
	s.posts = append(s.posts, &p)
	return nil
}

// ListPosts returns the newest posts first.
func (s *Store) ListPosts(_ context.Context, limit int) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.ClampLimit(limit)
	out := make([]*domain.Post, 0, limit)
	for i := len(s.posts) - 1; i >= 0 && len(out) < limit; i-- {
		p := *s.posts[i]
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) CountPosts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.posts)), nil
}

func (s *Store) Close(context.Context) error {
	return nil
}
