package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karmaly/authloader/internal/identity"
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByLink(ctx context.Context, providerID, externalID string) (User, error)
	Update(ctx context.Context, user User) error
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY,
    email TEXT UNIQUE,
    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    display_name TEXT NOT NULL DEFAULT '',
    photo_url TEXT NOT NULL DEFAULT '',
    password_hash BYTEA,
    links JSONB NOT NULL DEFAULT '[]',
    verification_sent_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    last_login TIMESTAMPTZ
);
`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository,
// creating its table when missing.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresRepository, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

const selectColumns = `SELECT id, email, email_verified, display_name, photo_url, password_hash, links,
    verification_sent_at, created_at, last_login FROM accounts`

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	links, err := json.Marshal(user.Links)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, email, email_verified, display_name, photo_url, password_hash, links, created_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		id, user.Email, user.EmailVerified, user.DisplayName, user.PhotoURL, user.PasswordHash, string(links), user.CreatedAt.UTC())
	return err
}

// FindByID fetches an account by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, identity.ErrUserNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, userID))
}

// FindByEmail fetches an account by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.scanOne(r.db.QueryRow(ctx, selectColumns+` WHERE email = $1`, email))
}

// FindByLink fetches the account a provider identity is linked to.
func (r *PostgresRepository) FindByLink(ctx context.Context, providerID, externalID string) (User, error) {
	needle, err := json.Marshal([]Link{{ProviderID: providerID, ExternalID: externalID}})
	if err != nil {
		return User{}, err
	}
	return r.scanOne(r.db.QueryRow(ctx, selectColumns+` WHERE links @> $1::jsonb`, string(needle)))
}

// Update overwrites the mutable columns of an account.
func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return identity.ErrUserNotFound
	}
	links, err := json.Marshal(user.Links)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET email = NULLIF($2, ''), email_verified = $3, display_name = $4,
        photo_url = $5, password_hash = $6, links = $7, verification_sent_at = $8, last_login = $9 WHERE id = $1`,
		id, user.Email, user.EmailVerified, user.DisplayName, user.PhotoURL, user.PasswordHash, string(links),
		nullableTime(user.VerificationSentAt), nullableTime(user.LastLogin))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row pgx.Row) (User, error) {
	var (
		id               uuid.UUID
		email            *string
		links            []byte
		verificationSent *time.Time
		lastLogin        *time.Time
		user             User
	)
	err := row.Scan(&id, &email, &user.EmailVerified, &user.DisplayName, &user.PhotoURL, &user.PasswordHash,
		&links, &verificationSent, &user.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, identity.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	if email != nil {
		user.Email = *email
	}
	if err := json.Unmarshal(links, &user.Links); err != nil {
		return User{}, err
	}
	if verificationSent != nil {
		user.VerificationSentAt = verificationSent.UTC()
	}
	if lastLogin != nil {
		user.LastLogin = lastLogin.UTC()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
