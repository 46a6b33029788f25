package auditledger

import (
	"context"
	"encoding/json"
	"time"
)

// TamperPayload overwrites the stored payload of key without rehashing.
func (l *MemoryLedger) TamperPayload(key string, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.byKey[key]].Payload = json.RawMessage(payload)
}

// TamperActor overwrites the stored actor of key without rehashing.
func (l *MemoryLedger) TamperActor(key, actor string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.byKey[key]].Actor = actor
}

// TamperPayload overwrites the stored payload row of key without rehashing.
func (l *SQLiteLedger) TamperPayload(ctx context.Context, key string, payload []byte) error {
	_, err := l.db.ExecContext(ctx, "UPDATE audit_ledger SET payload = ? WHERE key = ?", string(payload), key)
	return err
}

// SetTimestamp overwrites the stored timestamp of key without rehashing.
func (l *MemoryLedger) SetTimestamp(key string, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.byKey[key]].Timestamp = ts
}

// SetTimestamp overwrites the stored timestamp row of key without rehashing.
func (l *SQLiteLedger) SetTimestamp(ctx context.Context, key string, ts time.Time) error {
	_, err := l.db.ExecContext(ctx, "UPDATE audit_ledger SET ts_micros = ? WHERE key = ?", ts.UnixMicro(), key)
	return err
}
