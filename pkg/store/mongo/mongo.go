// Package mongo implements the account store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	usersCollection = "users"
	postsCollection = "posts"

	emailIndex    = "users_email_idx"
	usernameIndex = "users_username_idx"
	socialIndex   = "users_social_"
)

// Config holds connection settings.
type Config struct {
	URL            string
	Database       string
	ConnectTimeout time.Duration
	// Providers lists the social providers that get a unique link index.
	Providers []string
}

// Store persists users and posts in MongoDB.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	posts  *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URL).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		users:  db.Collection(usersCollection),
		posts:  db.Collection(postsCollection),
	}
	if err := s.ensureIndexes(ctx, cfg.Providers); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context, providers []string) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(emailIndex),
		},
		{
			Keys: bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(usernameIndex).
				SetPartialFilterExpression(bson.D{{Key: "username", Value: bson.D{{Key: "$type", Value: "string"}}}}),
		},
		{Keys: bson.D{{Key: "verification_token", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "reset_token", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "passwordless_token", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	for _, provider := range providers {
		field := "social_links." + provider
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(socialIndex + provider).
				SetPartialFilterExpression(bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: true}}}}),
		})
	}

	if _, err := s.users.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err := s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}})
	if err != nil {
		return fmt.Errorf("create post indexes: %w", err)
	}
	return nil
}

type userDocument struct {
	ID                       string            `bson:"_id"`
	Username                 *string           `bson:"username,omitempty"`
	Email                    string            `bson:"email"`
	FullName                 string            `bson:"full_name"`
	Avatar                   *string           `bson:"avatar,omitempty"`
	PasswordHash             *string           `bson:"password_hash,omitempty"`
	Passwordless             bool              `bson:"passwordless"`
	Status                   int               `bson:"status"`
	Roles                    []string          `bson:"roles"`
	Verified                 bool              `bson:"verified"`
	VerificationToken        *string           `bson:"verification_token,omitempty"`
	ResetToken               *string           `bson:"reset_token,omitempty"`
	ResetTokenExpires        *time.Time        `bson:"reset_token_expires,omitempty"`
	PasswordlessToken        *string           `bson:"passwordless_token,omitempty"`
	PasswordlessTokenExpires *time.Time        `bson:"passwordless_token_expires,omitempty"`
	SocialLinks              map[string]string `bson:"social_links,omitempty"`
	CreatedAt                time.Time         `bson:"created_at"`
	UpdatedAt                time.Time         `bson:"updated_at"`
}

func toDocument(u *domain.User) userDocument {
	return userDocument{
		ID:                       u.ID.String(),
		Username:                 u.Username,
		Email:                    u.Email,
		FullName:                 u.FullName,
		Avatar:                   u.Avatar,
		PasswordHash:             u.PasswordHash,
		Passwordless:             u.Passwordless,
		Status:                   int(u.Status),
		Roles:                    u.Roles,
		Verified:                 u.Verified,
		VerificationToken:        u.VerificationToken,
		ResetToken:               u.ResetToken,
		ResetTokenExpires:        u.ResetTokenExpires,
		PasswordlessToken:        u.PasswordlessToken,
		PasswordlessTokenExpires: u.PasswordlessTokenExpires,
		SocialLinks:              u.SocialLinks,
		CreatedAt:                u.CreatedAt,
		UpdatedAt:                u.UpdatedAt,
	}
}

func (d userDocument) toUser() (*domain.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode user id %q: %w", d.ID, err)
	}
	return &domain.User{
		ID:                       id,
		Username:                 d.Username,
		Email:                    d.Email,
		FullName:                 d.FullName,
		Avatar:                   d.Avatar,
		PasswordHash:             d.PasswordHash,
		Passwordless:             d.Passwordless,
		Status:                   domain.Status(d.Status),
		Roles:                    d.Roles,
		Verified:                 d.Verified,
		VerificationToken:        d.VerificationToken,
		ResetToken:               d.ResetToken,
		ResetTokenExpires:        d.ResetTokenExpires,
		PasswordlessToken:        d.PasswordlessToken,
		PasswordlessTokenExpires: d.PasswordlessTokenExpires,
		SocialLinks:              d.SocialLinks,
		CreatedAt:                d.CreatedAt,
		UpdatedAt:                d.UpdatedAt,
	}, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (*domain.User, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toUser()
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOne(ctx, bson.D{{Key: "username", Value: username}})
}

func (s *Store) FindBySocialKey(ctx context.Context, provider, externalID string) (*domain.User, error) {
	return s.findOne(ctx, bson.D{{Key: "social_links." + provider, Value: externalID}})
}

func (s *Store) FindByToken(ctx context.Context, kind domain.TokenKind, hash string) (*domain.User, error) {
	field, err := tokenField(kind)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, domain.ErrUserNotFound
	}
	return s.findOne(ctx, bson.D{{Key: field, Value: hash}})
}

func tokenField(kind domain.TokenKind) (string, error) {
	switch kind {
	case domain.TokenVerification:
		return "verification_token", nil
	case domain.TokenReset:
		return "reset_token", nil
	case domain.TokenPasswordless:
		return "passwordless_token", nil
	}
	return "", fmt.Errorf("unknown token kind %q", kind)
}

func (s *Store) Create(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	_, err := s.users.InsertOne(ctx, toDocument(user))
	return mapWriteError(err)
}

// updateDocument translates a patch into $set and $unset operators.
func updateDocument(patch domain.UserPatch, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	unset := bson.D{}
	add := func(key string, value any) { set = append(set, bson.E{Key: key, Value: value}) }
	drop := func(key string) { unset = append(unset, bson.E{Key: key, Value: ""}) }

	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.Avatar != nil {
		add("avatar", *patch.Avatar)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.Passwordless != nil {
		add("passwordless", *patch.Passwordless)
	}
	if patch.Status != nil {
		add("status", int(*patch.Status))
	}
	if patch.Roles != nil {
		add("roles", patch.Roles)
	}
	if patch.Verified != nil {
		add("verified", *patch.Verified)
	}
	if patch.ClearVerificationToken {
		drop("verification_token")
	} else if patch.VerificationToken != nil {
		add("verification_token", *patch.VerificationToken)
	}
	if patch.ClearResetToken {
		drop("reset_token")
		drop("reset_token_expires")
	} else if patch.ResetToken != nil {
		add("reset_token", *patch.ResetToken)
		add("reset_token_expires", patch.ResetTokenExpires)
	}
	if patch.ClearPasswordlessToken {
		drop("passwordless_token")
		drop("passwordless_token_expires")
	} else if patch.PasswordlessToken != nil {
		add("passwordless_token", *patch.PasswordlessToken)
		add("passwordless_token_expires", patch.PasswordlessTokenExpires)
	}
	for provider, externalID := range patch.SetSocialLinks {
		add("social_links."+provider, externalID)
	}
	for _, provider := range patch.UnsetSocialLinks {
		drop("social_links." + provider)
	}

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
}

// UpdateByID applies the patch atomically. The token precondition is part of
// the filter so only one concurrent consumer can win.
func (s *Store) UpdateByID(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	filter := bson.D{{Key: "_id", Value: id.String()}}
	if patch.Match != nil {
		field, err := tokenField(patch.Match.Kind)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: field, Value: patch.Match.Hash})
	}

	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx, filter, updateDocument(patch, time.Now().UTC()),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return doc.toUser()
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.users.CountDocuments(ctx, bson.D{})
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(store.ClampLimit(limit)))

	cursor, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]*domain.User, 0, len(docs))
	for _, d := range docs {
		u, err := d.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

type postDocument struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Content   string    `bson:"content"`
	Author    string    `bson:"author"`
	Votes     int       `bson:"votes"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	now := time.Now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	_, err := s.posts.InsertOne(ctx, postDocument{
		ID:        post.ID.String(),
		Title:     post.Title,
		Content:   post.Content,
		Author:    post.Author.String(),
		Votes:     post.Votes,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	})
	return err
}

func (s *Store) ListPosts(ctx context.Context, limit int) ([]*domain.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(store.ClampLimit(limit)))

	cursor, err := s.posts.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []postDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	posts := make([]*domain.Post, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("decode post id %q: %w", d.ID, err)
		}
		author, err := uuid.Parse(d.Author)
		if err != nil {
			return nil, fmt.Errorf("decode post author %q: %w", d.Author, err)
		}
		posts = append(posts, &domain.Post{
			ID:        id,
			Title:     d.Title,
			Content:   d.Content,
			Author:    author,
			Votes:     d.Votes,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return posts, nil
}

func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	return s.posts.CountDocuments(ctx, bson.D{})
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// mapWriteError translates duplicate key errors into domain errors using the
// index name reported by the server.
func mapWriteError(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, emailIndex):
		return domain.ErrEmailExists
	case strings.Contains(msg, usernameIndex):
		return domain.ErrUsernameExists
	case strings.Contains(msg, socialIndex):
		return domain.ErrSocialAccountMismatch
	}
	return err
}
