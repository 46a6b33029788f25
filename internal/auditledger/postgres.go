package auditledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all registry instances.
const advisoryLockKey = int64(2_046_113_971)

const selectEntry = `SELECT seq, key, event_type, timestamp, subject, actor, payload, data_hash, prev_hash, hash
	 FROM audit_ledger`

// PostgresLedger persists the audit log to a PostgreSQL database.
// The genesis row is inserted by the schema migration.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new entry hash, and inserts it, all within a single transaction.
func (l *PostgresLedger) Append(ctx context.Context, eventType EventType, subject, actor string, payload any) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev, err := scanEntry(tx.QueryRow(ctx, selectEntry+" ORDER BY seq DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry, err := newEntry(prev, eventType, subject, actor, payload)
	if err != nil {
		return nil, err
	}
	var taken bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM audit_ledger WHERE key = $1)", entry.Key,
	).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check ledger key: %w", err)
	}
	entry.seal(taken)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger (seq, key, event_type, timestamp, subject, actor, payload, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Seq, entry.Key, string(entry.Type), entry.Timestamp,
		entry.Subject, entry.Actor, string(entry.Payload),
		entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int64("seq", entry.Seq),
		zap.String("key", entry.Key),
		zap.String("subject", entry.Subject),
	)
	return entry, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx, selectEntry+" WHERE key = $1", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", key, err)
	}
	return e, nil
}

// VerifyEntry implements Ledger.
func (l *PostgresLedger) VerifyEntry(ctx context.Context, key string) (*Entry, error) {
	curr, err := l.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx,
		selectEntry+" WHERE seq IN ($1, $2) ORDER BY seq ASC", curr.Seq-1, curr.Seq+1)
	if err != nil {
		return nil, fmt.Errorf("query neighbours: %w", err)
	}
	defer rows.Close()

	var prev, next *Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if e.Seq < curr.Seq {
			prev = e
		} else {
			next = e
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := checkEntry(prev, curr, next); err != nil {
		return nil, err
	}
	return curr, nil
}

// History implements Ledger.
func (l *PostgresLedger) History(ctx context.Context, subject string) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx,
		selectEntry+" WHERE subject = $1 ORDER BY timestamp DESC, seq DESC", subject)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams all rows ordered by seq and validates
// the hash chain. O(n) in ledger length; may be slow for very large ledgers.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, selectEntry+" ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := checkEntry(prev, curr, nil); err != nil {
			return fmt.Errorf("seq %d: %w", curr.Seq, err)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_ledger ORDER BY seq DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// Stats implements Ledger.
func (l *PostgresLedger) Stats(ctx context.Context) (*Stats, error) {
	tip, err := scanEntry(l.pool.QueryRow(ctx, selectEntry+" ORDER BY seq DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	n, err := l.Len(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Backend:    BackendPostgres,
		Entries:    n,
		LastSeq:    tip.Seq,
		Root:       tip.Hash,
		LastAppend: tip.Timestamp,
	}, nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Row(s).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e         Entry
		eventType string
		payload   string
	)
	if err := row.Scan(
		&e.Seq, &e.Key, &eventType, &e.Timestamp,
		&e.Subject, &e.Actor, &payload,
		&e.DataHash, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.Type = EventType(eventType)
	e.Payload = []byte(payload)
	// Drivers return the session location; hashes are computed over UTC.
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
