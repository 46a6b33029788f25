package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resolutionconsent/digipin/internal/registry/model"
)

const consentColumns = `id, owner_user_id, address_id, pin_hash, consent_type, token,
	active, created_at, expires_at, revoked_at`

// ConsentRepository persists consents and the address's active-consent pointer.
type ConsentRepository struct {
	db *pgxpool.Pool
}

// NewConsentRepository creates a new ConsentRepository.
func NewConsentRepository(db *pgxpool.Pool) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// ReplaceActive atomically deactivates the address's active consent (if any),
// inserts c as the new active consent and repoints the address at it. The
// address row is locked for the duration, so concurrent replacements for the
// same address are serialised. It returns the superseded consent, or nil.
//
// When moved is non-nil its mutable fields are written in the same
// transaction, conditional on moved.Version (model.ErrStaleVersion
// otherwise). On success moved carries the new version and consent pointer;
// on any error nothing is persisted.
//
// A token collision with another active consent yields model.ErrTokenTaken
// and leaves the previous consent untouched.
func (r *ConsentRepository) ReplaceActive(ctx context.Context, c *model.Consent, moved *model.DigitalAddress) (*model.Consent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int64
	if err := tx.QueryRow(ctx,
		`SELECT version FROM digital_addresses WHERE id = $1 FOR UPDATE`, c.AddressID,
	).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAddressNotFound
		}
		return nil, fmt.Errorf("lock address: %w", err)
	}

	now := time.Now().UTC()
	if moved != nil {
		if moved.ID != c.AddressID || moved.Version != version {
			return nil, model.ErrStaleVersion
		}
		ok, err := execUpdate(ctx, tx, moved, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.ErrStaleVersion
		}
	}

	prevRows, err := tx.Query(ctx,
		`UPDATE consents SET active = false, revoked_at = $2
		 WHERE address_id = $1 AND active
		 RETURNING `+consentColumns, c.AddressID, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate consent: %w", err)
	}
	var prev *model.Consent
	for prevRows.Next() {
		if prev, err = scanConsent(prevRows); err != nil {
			prevRows.Close()
			return nil, err
		}
	}
	prevRows.Close()
	if err := prevRows.Err(); err != nil {
		return nil, fmt.Errorf("deactivate consent: %w", err)
	}

	c.ID = uuid.New()
	c.Active = true
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO consents (`+consentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.OwnerUserID, c.AddressID, c.PINHash, c.Type, c.Token,
		c.Active, c.CreatedAt, c.ExpiresAt, c.RevokedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, model.ErrTokenTaken
		}
		return nil, fmt.Errorf("insert consent: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`UPDATE digital_addresses
		 SET active_consent_id = $2, updated_at = $3, version = version + 1
		 WHERE id = $1
		 RETURNING version`, c.AddressID, c.ID, now,
	).Scan(&version); err != nil {
		return nil, fmt.Errorf("repoint address consent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit consent tx: %w", err)
	}
	if moved != nil {
		id := c.ID
		moved.ActiveConsentID = &id
		moved.Version = version
		moved.UpdatedAt = now
	}
	return prev, nil
}

// GetActiveByAddress returns the consent flagged active for addressID.
// Expiry is not evaluated here.
func (r *ConsentRepository) GetActiveByAddress(ctx context.Context, addressID uuid.UUID) (*model.Consent, error) {
	return r.scanOne(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE address_id = $1 AND active`, addressID)
}

// GetActiveByToken returns the consent flagged active that carries token.
func (r *ConsentRepository) GetActiveByToken(ctx context.Context, token string) (*model.Consent, error) {
	return r.scanOne(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE token = $1 AND active`, token)
}

// TokenActive reports whether an active consent currently holds token.
func (r *ConsentRepository) TokenActive(ctx context.Context, token string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consents WHERE token = $1 AND active)`, token,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check consent token: %w", err)
	}
	return exists, nil
}

// Deactivate marks the consent inactive and clears the address pointer if it
// still references it. revokedAt is recorded for explicit revocations and
// left NULL for expiry. Deactivating an already inactive consent is a no-op.
func (r *ConsentRepository) Deactivate(ctx context.Context, consentID, addressID uuid.UUID, revokedAt *time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE consents SET active = false, revoked_at = COALESCE($2, revoked_at)
		 WHERE id = $1 AND active`, consentID, revokedAt,
	); err != nil {
		return fmt.Errorf("deactivate consent: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE digital_addresses
		 SET active_consent_id = NULL, updated_at = $3, version = version + 1
		 WHERE id = $1 AND active_consent_id = $2`, addressID, consentID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("clear address consent: %w", err)
	}
	return tx.Commit(ctx)
}

// ListExpired returns consents still flagged active whose expiry is at or
// before now, oldest expiry first.
func (r *ConsentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Consent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+consentColumns+` FROM consents
		 WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired consents: %w", err)
	}
	defer rows.Close()

	var out []*model.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConsentRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Consent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, model.ErrConsentNotFound
	}
	return scanConsent(rows)
}

func scanConsent(rows pgx.Rows) (*model.Consent, error) {
	var c model.Consent
	if err := rows.Scan(
		&c.ID, &c.OwnerUserID, &c.AddressID, &c.PINHash, &c.Type, &c.Token,
		&c.Active, &c.CreatedAt, &c.ExpiresAt, &c.RevokedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
