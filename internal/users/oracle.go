package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DateLayout is the accepted date-of-birth format.
const DateLayout = "2006-01-02"

// IdentityOracle checks a government document number and date of birth
// against a reference registry.
type IdentityOracle interface {
	VerifyIdentity(ctx context.Context, documentNumber string, dateOfBirth time.Time) (bool, error)
}

// PostgresOracle consults the identity_records reference table.
type PostgresOracle struct {
	db *pgxpool.Pool
}

// NewPostgresOracle creates a PostgresOracle.
func NewPostgresOracle(db *pgxpool.Pool) *PostgresOracle {
	return &PostgresOracle{db: db}
}

// VerifyIdentity implements IdentityOracle.
func (o *PostgresOracle) VerifyIdentity(ctx context.Context, documentNumber string, dateOfBirth time.Time) (bool, error) {
	var dob time.Time
	err := o.db.QueryRow(ctx,
		`SELECT date_of_birth FROM identity_records WHERE document_number = $1`, documentNumber,
	).Scan(&dob)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query identity record: %w", err)
	}
	return sameDay(dob, dateOfBirth), nil
}

// StaticOracle is an in-memory IdentityOracle keyed by document number.
type StaticOracle map[string]time.Time

// NewStaticOracle builds a StaticOracle from document number → YYYY-MM-DD.
func NewStaticOracle(records map[string]string) (StaticOracle, error) {
	o := make(StaticOracle, len(records))
	for doc, raw := range records {
		dob, err := time.Parse(DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("identity record %s: %w", doc, err)
		}
		o[doc] = dob
	}
	return o, nil
}

// VerifyIdentity implements IdentityOracle.
func (o StaticOracle) VerifyIdentity(_ context.Context, documentNumber string, dateOfBirth time.Time) (bool, error) {
	dob, ok := o[documentNumber]
	return ok && sameDay(dob, dateOfBirth), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
