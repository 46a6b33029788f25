package auditledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("audit entry not found")

// TamperedError reports an entry whose stored fields no longer match its
// recorded hashes or whose chain links are broken.
type TamperedError struct {
	Key    string
	Reason string
}

func (e *TamperedError) Error() string {
	return fmt.Sprintf("audit entry %s tampered: %s", e.Key, e.Reason)
}

// Backend names reported by Stats.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Stats summarises the ledger for operators.
type Stats struct {
	Backend    string    `json:"backend"`
	Entries    int       `json:"entries"`
	LastSeq    int64     `json:"last_seq"`
	Root       string    `json:"root"`
	LastAppend time.Time `json:"last_append"`
}

// Ledger is the interface for the append-only hash-chained audit log.
type Ledger interface {
	// Append adds a new entry chained to the previous one.
	// payload is JSON-marshalled and its SHA-256 is stored as DataHash.
	Append(ctx context.Context, eventType EventType, subject, actor string, payload any) (*Entry, error)

	// Get returns the entry stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// VerifyEntry recomputes the hashes of the entry under key and checks its
	// links to both neighbours. It returns the stored entry, unchanged, when
	// the checks pass and a *TamperedError otherwise.
	VerifyEntry(ctx context.Context, key string) (*Entry, error)

	// History returns every entry recorded for subject, newest first.
	History(ctx context.Context, subject string) ([]*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)

	// Stats reports size, backend and tip of the ledger.
	Stats(ctx context.Context) (*Stats, error)
}
