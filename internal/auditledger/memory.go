package auditledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu        sync.RWMutex
	entries   []*Entry
	byKey     map[string]int64
	bySubject map[string][]int64
}

// New creates a MemoryLedger initialised with the canonical genesis entry.
func New() *MemoryLedger {
	l := &MemoryLedger{
		byKey:     make(map[string]int64),
		bySubject: make(map[string][]int64),
	}
	genesis := genesisEntry(time.Now().UTC().Truncate(time.Microsecond))
	l.entries = append(l.entries, genesis)
	l.byKey[genesis.Key] = 0
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, eventType EventType, subject, actor string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := newEntry(l.entries[len(l.entries)-1], eventType, subject, actor, payload)
	if err != nil {
		return nil, err
	}
	_, taken := l.byKey[entry.Key]
	entry.seal(taken)

	l.entries = append(l.entries, entry)
	l.byKey[entry.Key] = entry.Seq
	l.bySubject[subject] = append(l.bySubject[subject], entry.Seq)
	return entry.clone(), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, key string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return l.entries[seq].clone(), nil
}

// VerifyEntry implements Ledger.
func (l *MemoryLedger) VerifyEntry(_ context.Context, key string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}

	var prev, next *Entry
	if seq > 0 {
		prev = l.entries[seq-1]
	}
	if int(seq)+1 < len(l.entries) {
		next = l.entries[seq+1]
	}
	curr := l.entries[seq]
	if err := checkEntry(prev, curr, next); err != nil {
		return nil, err
	}
	return curr.clone(), nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, subject string) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seqs := l.bySubject[subject]
	out := make([]*Entry, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, l.entries[seq].clone())
	}
	// Newest first by timestamp, then seq, as the SQL backends order it.
	slices.SortFunc(out, func(a, b *Entry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.Seq, a.Seq)
	})
	return out, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger. It walks the chain and checks that all hashes
// are consistent. The genesis entry is validated against GenesisHash.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Entry
	for _, curr := range l.entries {
		if err := checkEntry(prev, curr, nil); err != nil {
			return fmt.Errorf("seq %d: %w", curr.Seq, err)
		}
		prev = curr
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

// Stats implements Ledger.
func (l *MemoryLedger) Stats(_ context.Context) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tip := l.entries[len(l.entries)-1]
	return &Stats{
		Backend:    BackendMemory,
		Entries:    len(l.entries),
		LastSeq:    tip.Seq,
		Root:       tip.Hash,
		LastAppend: tip.Timestamp,
	}, nil
}
