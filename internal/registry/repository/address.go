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

const addressColumns = `id, handle, suffix, digipin, latitude, longitude, address,
	address_name, pin_code, purpose, confidence_score, total_fulfillments, tier,
	verified_by, verified_at, verification_notes, needs_verification,
	active_consent_id, owner_user_id, version, created_at, updated_at`

// AddressRepository provides CRUD operations for digital addresses against PostgreSQL.
type AddressRepository struct {
	db *pgxpool.Pool
}

// NewAddressRepository creates a new AddressRepository.
func NewAddressRepository(db *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{db: db}
}

// Create inserts a new address. It assigns ID, timestamps and the initial
// version, and returns model.ErrDuplicateAddress when the handle is taken.
func (r *AddressRepository) Create(ctx context.Context, a *model.DigitalAddress) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1

	query := `
		INSERT INTO digital_addresses (` + addressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.Handle, a.Suffix, a.DigiPin, a.Latitude, a.Longitude, a.Address,
		a.AddressName, a.PinCode, a.Purpose, a.ConfidenceScore, a.TotalFulfillments, a.Tier,
		a.Verification.AgentID, a.Verification.VerifiedAt, a.Verification.Notes, a.NeedsVerification,
		a.ActiveConsentID, a.OwnerUserID, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrDuplicateAddress
		}
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

// GetByID retrieves an address by its UUID.
func (r *AddressRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DigitalAddress, error) {
	return r.scanOne(ctx, `SELECT `+addressColumns+` FROM digital_addresses WHERE id = $1`, id)
}

// GetByHandle retrieves an address by its username@suffix handle.
func (r *AddressRepository) GetByHandle(ctx context.Context, handle string) (*model.DigitalAddress, error) {
	return r.scanOne(ctx, `SELECT `+addressColumns+` FROM digital_addresses WHERE handle = $1`, handle)
}

// ListByOwner returns every address owned by userID, newest first.
func (r *AddressRepository) ListByOwner(ctx context.Context, userID uuid.UUID) ([]*model.DigitalAddress, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+addressColumns+` FROM digital_addresses
		 WHERE owner_user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DigitalAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// updateAddressSQL writes every mutable field, conditional on the version.
// The active consent pointer is owned by ConsentRepository and is not written.
const updateAddressSQL = `
	UPDATE digital_addresses SET
		digipin            = $3,
		latitude           = $4,
		longitude          = $5,
		address            = $6,
		address_name       = $7,
		pin_code           = $8,
		purpose            = $9,
		confidence_score   = $10,
		total_fulfillments = $11,
		tier               = $12,
		verified_by        = $13,
		verified_at        = $14,
		verification_notes = $15,
		needs_verification = $16,
		updated_at         = $17,
		version            = version + 1
	WHERE id = $1 AND version = $2`

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// execUpdate runs updateAddressSQL for a with the given updated_at and
// reports whether the version matched.
func execUpdate(ctx context.Context, db execer, a *model.DigitalAddress, updatedAt time.Time) (bool, error) {
	tag, err := db.Exec(ctx, updateAddressSQL,
		a.ID, a.Version,
		a.DigiPin, a.Latitude, a.Longitude, a.Address, a.AddressName, a.PinCode, a.Purpose,
		a.ConfidenceScore, a.TotalFulfillments, a.Tier,
		a.Verification.AgentID, a.Verification.VerifiedAt, a.Verification.Notes,
		a.NeedsVerification, updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update address: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Update writes every mutable field of a, conditional on a.Version still
// matching the stored row. On success a.Version is advanced.
func (r *AddressRepository) Update(ctx context.Context, a *model.DigitalAddress) error {
	now := time.Now().UTC()
	ok, err := execUpdate(ctx, r.db, a, now)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := r.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return model.ErrStaleVersion
	}
	a.UpdatedAt = now
	a.Version++
	return nil
}

// Delete removes an address that is not physically verified and deactivates
// its consents. Consent rows are retained.
func (r *AddressRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tier model.Tier
	if err := tx.QueryRow(ctx,
		`SELECT tier FROM digital_addresses WHERE id = $1 FOR UPDATE`, id,
	).Scan(&tier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrAddressNotFound
		}
		return fmt.Errorf("lock address: %w", err)
	}
	if tier == model.TierPhysicallyVerified {
		return model.ErrAddressVerified
	}

	if _, err := tx.Exec(ctx,
		`UPDATE consents SET active = false, revoked_at = $2 WHERE address_id = $1 AND active`,
		id, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("deactivate consents: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM digital_addresses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete address: %w", err)
	}
	return tx.Commit(ctx)
}

// scanOne executes a query returning a single address row.
func (r *AddressRepository) scanOne(ctx context.Context, query string, args ...any) (*model.DigitalAddress, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, model.ErrAddressNotFound
	}
	return scanAddress(rows)
}

// scanAddress reads one row selected with addressColumns.
func scanAddress(rows pgx.Rows) (*model.DigitalAddress, error) {
	var a model.DigitalAddress
	err := rows.Scan(
		&a.ID, &a.Handle, &a.Suffix, &a.DigiPin, &a.Latitude, &a.Longitude, &a.Address,
		&a.AddressName, &a.PinCode, &a.Purpose, &a.ConfidenceScore, &a.TotalFulfillments, &a.Tier,
		&a.Verification.AgentID, &a.Verification.VerifiedAt, &a.Verification.Notes, &a.NeedsVerification,
		&a.ActiveConsentID, &a.OwnerUserID, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
