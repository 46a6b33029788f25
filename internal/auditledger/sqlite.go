package auditledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const selectSQLiteEntry = `SELECT seq, key, event_type, ts_micros, subject, actor, payload, data_hash, prev_hash, hash
	 FROM audit_ledger`

// SQLiteLedger persists the audit log in an embedded SQLite database.
// Appends are serialised in-process; the file must not be shared between
// registry instances.
type SQLiteLedger struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the ledger database at path, applies the
// schema and writes the genesis entry when the ledger is empty.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	g := genesisEntry(time.Now().UTC().Truncate(time.Microsecond))
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO audit_ledger (seq, key, event_type, ts_micros, subject, actor, payload, data_hash, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Seq, g.Key, string(g.Type), g.Timestamp.UnixMicro(), g.Subject, g.Actor,
		string(g.Payload), g.DataHash, g.PrevHash, g.Hash,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("write genesis entry: %w", err)
	}
	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Close closes the SQLite handle.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, eventType EventType, subject, actor string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := scanSQLiteEntry(tx.QueryRowContext(ctx, selectSQLiteEntry+" ORDER BY seq DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	entry, err := newEntry(prev, eventType, subject, actor, payload)
	if err != nil {
		return nil, err
	}
	var taken bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM audit_ledger WHERE key = ?)", entry.Key,
	).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check ledger key: %w", err)
	}
	entry.seal(taken)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_ledger (seq, key, event_type, ts_micros, subject, actor, payload, data_hash, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq, entry.Key, string(entry.Type), entry.Timestamp.UnixMicro(),
		entry.Subject, entry.Actor, string(entry.Payload),
		entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
				return nil, fmt.Errorf("ledger position %d already written: %w", entry.Seq, err)
			}
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
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
func (l *SQLiteLedger) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := scanSQLiteEntry(l.db.QueryRowContext(ctx, selectSQLiteEntry+" WHERE key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", key, err)
	}
	return e, nil
}

// VerifyEntry implements Ledger.
func (l *SQLiteLedger) VerifyEntry(ctx context.Context, key string) (*Entry, error) {
	curr, err := l.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var prev, next *Entry
	if curr.Seq > 0 {
		prev, err = l.bySeq(ctx, curr.Seq-1)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	next, err = l.bySeq(ctx, curr.Seq+1)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := checkEntry(prev, curr, next); err != nil {
		return nil, err
	}
	return curr, nil
}

func (l *SQLiteLedger) bySeq(ctx context.Context, seq int64) (*Entry, error) {
	return scanSQLiteEntry(l.db.QueryRowContext(ctx, selectSQLiteEntry+" WHERE seq = ?", seq))
}

// History implements Ledger.
func (l *SQLiteLedger) History(ctx context.Context, subject string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		selectSQLiteEntry+" WHERE subject = ? ORDER BY ts_micros DESC, seq DESC", subject)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len implements Ledger.
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, selectSQLiteEntry+" ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanSQLiteEntry(rows)
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
func (l *SQLiteLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.db.QueryRowContext(ctx,
		"SELECT hash FROM audit_ledger ORDER BY seq DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// Stats implements Ledger.
func (l *SQLiteLedger) Stats(ctx context.Context) (*Stats, error) {
	tip, err := scanSQLiteEntry(l.db.QueryRowContext(ctx, selectSQLiteEntry+" ORDER BY seq DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	n, err := l.Len(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Backend:    BackendSQLite,
		Entries:    n,
		LastSeq:    tip.Seq,
		Root:       tip.Hash,
		LastAppend: tip.Timestamp,
	}, nil
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var (
		e         Entry
		eventType string
		micros    int64
		payload   string
	)
	if err := row.Scan(
		&e.Seq, &e.Key, &eventType, &micros,
		&e.Subject, &e.Actor, &payload,
		&e.DataHash, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.Type = EventType(eventType)
	e.Timestamp = time.UnixMicro(micros).UTC()
	e.Payload = []byte(payload)
	return &e, nil
}
