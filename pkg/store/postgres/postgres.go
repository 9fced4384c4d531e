// Package postgres implements the account store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-idm-account/pkg/domain"
	"github.com/tendant/simple-idm-account/pkg/store"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

const uniqueViolation = "23505"

// Store persists users and posts in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// New creates a store on an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `
	u.id, u.username, u.email, u.full_name, u.avatar, u.password_hash, u.passwordless,
	u.status, u.roles, u.verified, u.verification_token, u.reset_token, u.reset_token_expires,
	u.passwordless_token, u.passwordless_token_expires, u.created_at, u.updated_at`

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = $1`, email)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.username = $1`, username)
}

func (s *Store) FindBySocialKey(ctx context.Context, provider, externalID string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN user_social_links l ON l.user_id = u.id
		WHERE l.provider = $1 AND l.external_id = $2
	`
	return s.queryUser(ctx, query, provider, externalID)
}

func (s *Store) FindByToken(ctx context.Context, kind domain.TokenKind, hash string) (*domain.User, error) {
	column, err := tokenColumn(kind)
	if err != nil {
		return nil, err
	}
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.`+column+` = $1`, hash)
}

func tokenColumn(kind domain.TokenKind) (string, error) {
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

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user := &domain.User{}
	var roles pq.StringArray
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar, &user.PasswordHash,
		&user.Passwordless, &user.Status, &roles, &user.Verified, &user.VerificationToken,
		&user.ResetToken, &user.ResetTokenExpires, &user.PasswordlessToken, &user.PasswordlessTokenExpires,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Roles = []string(roles)

	links, err := s.socialLinks(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}
	user.SocialLinks = links
	return user, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) socialLinks(ctx context.Context, q queryer, userID uuid.UUID) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT provider, external_id FROM user_social_links WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make(map[string]string)
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return nil, err
		}
		links[provider] = externalID
	}
	return links, rows.Err()
}

// Create inserts the user and its social links in one transaction.
func (s *Store) Create(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO users (id, username, email, full_name, avatar, password_hash, passwordless,
			                   status, roles, verified, verification_token, reset_token, reset_token_expires,
			                   passwordless_token, passwordless_token_expires, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`
		_, err := tx.ExecContext(ctx, query,
			user.ID, user.Username, user.Email, user.FullName, user.Avatar, user.PasswordHash, user.Passwordless,
			user.Status, pq.StringArray(user.Roles), user.Verified, user.VerificationToken, user.ResetToken,
			user.ResetTokenExpires, user.PasswordlessToken, user.PasswordlessTokenExpires, user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			return mapConstraintError(err)
		}
		for provider, externalID := range user.SocialLinks {
			if err := upsertLink(ctx, tx, user.ID, provider, externalID); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateByID applies the patch as a single UPDATE. The token precondition is
// part of the WHERE clause so only one concurrent consumer can win.
func (s *Store) UpdateByID(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	var sets []string
	args := []any{id}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.FullName != nil {
		set("full_name", *patch.FullName)
	}
	if patch.Avatar != nil {
		set("avatar", *patch.Avatar)
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.Passwordless != nil {
		set("passwordless", *patch.Passwordless)
	}
	if patch.Status != nil {
		set("status", int(*patch.Status))
	}
	if patch.Roles != nil {
		set("roles", pq.StringArray(patch.Roles))
	}
	if patch.Verified != nil {
		set("verified", *patch.Verified)
	}
	if patch.ClearVerificationToken {
		sets = append(sets, "verification_token = NULL")
	} else if patch.VerificationToken != nil {
		set("verification_token", *patch.VerificationToken)
	}
	if patch.ClearResetToken {
		sets = append(sets, "reset_token = NULL", "reset_token_expires = NULL")
	} else if patch.ResetToken != nil {
		set("reset_token", *patch.ResetToken)
		set("reset_token_expires", patch.ResetTokenExpires)
	}
	if patch.ClearPasswordlessToken {
		sets = append(sets, "passwordless_token = NULL", "passwordless_token_expires = NULL")
	} else if patch.PasswordlessToken != nil {
		set("passwordless_token", *patch.PasswordlessToken)
		set("passwordless_token_expires", patch.PasswordlessTokenExpires)
	}
	sets = append(sets, "updated_at = NOW()")

	where := "id = $1"
	if patch.Match != nil {
		column, err := tokenColumn(patch.Match.Kind)
		if err != nil {
			return nil, err
		}
		args = append(args, patch.Match.Hash)
		where += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE ` + where
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return mapConstraintError(err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrUserNotFound
		}

		for provider, externalID := range patch.SetSocialLinks {
			if err := upsertLink(ctx, tx, id, provider, externalID); err != nil {
				return err
			}
		}
		for _, provider := range patch.UnsetSocialLinks {
			if _, err := tx.ExecContext(ctx, `DELETE FROM user_social_links WHERE user_id = $1 AND provider = $2`, id, provider); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func upsertLink(ctx context.Context, tx *sql.Tx, userID uuid.UUID, provider, externalID string) error {
	query := `
		INSERT INTO user_social_links (user_id, provider, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, provider) DO UPDATE SET external_id = EXCLUDED.external_id
	`
	_, err := tx.ExecContext(ctx, query, userID, provider, externalID)
	return mapConstraintError(err)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id FROM users u ORDER BY u.created_at, u.id LIMIT $1 OFFSET $2`,
		store.ClampLimit(limit), offset,
	)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	query := `
		INSERT INTO posts (id, title, content, author, votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		post.ID, post.Title, post.Content, post.Author, post.Votes, post.CreatedAt, post.UpdatedAt,
	)
	return err
}

func (s *Store) ListPosts(ctx context.Context, limit int) ([]*domain.Post, error) {
	query := `
		SELECT id, title, content, author, votes, created_at, updated_at
		FROM posts
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, store.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*domain.Post
	for rows.Next() {
		p := &domain.Post{}
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Author, &p.Votes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapConstraintError translates unique violations into domain errors.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "users_email_key":
		return domain.ErrEmailExists
	case "users_username_key":
		return domain.ErrUsernameExists
	case "user_social_links_provider_external_id_key":
		return domain.ErrSocialAccountMismatch
	}
	return err
}
