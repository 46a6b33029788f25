package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user lookup finds no matching record.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateUsername is returned when a signup uses a taken username.
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateEmail is returned when a signup attempts to use an already-registered email.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicatePhone is returned when a signup uses a registered phone number.
var ErrDuplicatePhone = errors.New("phone number already registered")

// ErrDocumentClaimed is returned when an identity document is already bound
// to another account.
var ErrDocumentClaimed = errors.New("identity document already verified by another account")

const userColumns = `id, username, phone_number, COALESCE(email, ''), password_hash,
	identity_verified, masked_document, COALESCE(document_fingerprint, ''),
	created_at, updated_at`

// UserRepository provides CRUD operations for users against PostgreSQL.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user record. Sets ID, CreatedAt, UpdatedAt on the user.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	q := `
		INSERT INTO users (id, username, phone_number, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`
	_, err := r.db.Exec(ctx, q,
		u.ID, u.Username, u.Phone, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return ErrDuplicateEmail
			case "users_phone_number_key":
				return ErrDuplicatePhone
			}
			return ErrDuplicateUsername
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their internal UUID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetByEmailOrPhone retrieves a user whose email or phone number equals v.
// An email match wins over a phone match.
func (r *UserRepository) GetByEmailOrPhone(ctx context.Context, v string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users
		WHERE email = $1 OR phone_number = $1
		ORDER BY (email = $1) DESC NULLS LAST
		LIMIT 1`
	return r.scanOne(ctx, q, v)
}

// GetByFingerprint retrieves the user bound to an identity document.
func (r *UserRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE document_fingerprint = $1`, fingerprint)
}

// SetIdentityVerified binds an identity document to the user.
func (r *UserRepository) SetIdentityVerified(ctx context.Context, userID uuid.UUID, masked, fingerprint string) error {
	q := `
		UPDATE users
		SET identity_verified = true, masked_document = $2, document_fingerprint = $3, updated_at = $4
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, masked, fingerprint, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDocumentClaimed
		}
		return fmt.Errorf("set identity verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash updates a user's password hash.
func (r *UserRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	q := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, userID, hash, time.Now().UTC())
	return err
}

// scanOne executes a single-row query and scans the result into a User.
func (r *UserRepository) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, q, args...).Scan(
		&u.ID, &u.Username, &u.Phone, &u.Email, &u.PasswordHash,
		&u.IdentityVerified, &u.MaskedDocument, &u.DocumentFingerprint,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
