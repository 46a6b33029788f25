package auditledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/resolutionconsent/digipin/internal/auditledger"
)

var ctx = context.Background()

const handle = "asha@home"

func TestNew_genesisEntry(t *testing.T) {
	l := auditledger.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, auditledger.GenesisKey)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != auditledger.EventGenesis {
		t.Errorf("expected type GENESIS, got %q", entry.Type)
	}
	if entry.Hash != auditledger.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := auditledger.New()

	e1, err := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", map[string]string{"digipin": "39J-438-TJC7"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, auditledger.EventConsentCreated, handle, "user-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e2.Seq != e1.Seq+1 {
		t.Errorf("seq not increasing: %d then %d", e1.Seq, e2.Seq)
	}
	if !strings.HasPrefix(e1.Key, "address:create:"+handle+":") {
		t.Errorf("unexpected key %q", e1.Key)
	}
	if !strings.HasPrefix(e2.Key, "consent:create:"+handle+":") {
		t.Errorf("unexpected key %q", e2.Key)
	}
}

func TestAppend_sameMillisecondKeysAreDistinct(t *testing.T) {
	l := auditledger.New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		e, err := l.Append(ctx, auditledger.EventAddressResolved, handle, "AIU_ACCESS", map[string]int{"i": i})
		if err != nil {
			t.Fatal(err)
		}
		if seen[e.Key] {
			t.Fatalf("duplicate key %q", e.Key)
		}
		seen[e.Key] = true
	}
}

func TestAppend_concurrentKeepsChainIntact(t *testing.T) {
	l := auditledger.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Append(ctx, auditledger.EventAddressResolved, handle, "AIU_ACCESS", i); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() after concurrent appends: %v", err)
	}
	if n, _ := l.Len(ctx); n != 21 {
		t.Errorf("expected 21 entries, got %d", n)
	}
}

func TestVerifyEntry_untouchedReturnsOriginalPayload(t *testing.T) {
	l := auditledger.New()
	e, err := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", map[string]any{"score": 50.0})
	if err != nil {
		t.Fatal(err)
	}

	got, err := l.VerifyEntry(ctx, e.Key)
	if err != nil {
		t.Fatalf("VerifyEntry: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["score"] != 50.0 {
		t.Errorf("payload score = %v, want 50", payload["score"])
	}
}

func TestVerifyEntry_tamperedPayload(t *testing.T) {
	l := auditledger.New()
	e, _ := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", map[string]any{"score": 50.0})
	_, _ = l.Append(ctx, auditledger.EventAddressUpdated, handle, "user-1", nil)

	l.TamperPayload(e.Key, []byte(`{"score":99}`))

	_, err := l.VerifyEntry(ctx, e.Key)
	var te *auditledger.TamperedError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TamperedError, got %v", err)
	}
	if te.Key != e.Key {
		t.Errorf("TamperedError.Key = %q, want %q", te.Key, e.Key)
	}
	if err := l.Verify(ctx); err == nil {
		t.Error("Verify() should fail on a tampered chain")
	}
}

func TestVerifyEntry_tamperedHeader(t *testing.T) {
	l := auditledger.New()
	e, _ := l.Append(ctx, auditledger.EventAddressResolved, handle, "AIU_ACCESS", nil)

	l.TamperActor(e.Key, "someone-else")

	var te *auditledger.TamperedError
	if _, err := l.VerifyEntry(ctx, e.Key); !errors.As(err, &te) {
		t.Fatalf("expected *TamperedError, got %v", err)
	}
}

func TestVerifyEntry_unknownKey(t *testing.T) {
	l := auditledger.New()
	if _, err := l.VerifyEntry(ctx, "address:create:nobody@home:0"); !errors.Is(err, auditledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.Get(ctx, "missing"); !errors.Is(err, auditledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestHistory_newestFirst(t *testing.T) {
	l := auditledger.New()
	first, _ := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", nil)
	_, _ = l.Append(ctx, auditledger.EventAddressCreated, "other@home", "user-2", nil)
	last, _ := l.Append(ctx, auditledger.EventAddressResolved, handle, "AIU_ACCESS", map[string]string{"outcome": "INVALID_PIN"})

	hist, err := l.History(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries for %s, got %d", handle, len(hist))
	}
	if hist[0].Key != last.Key || hist[1].Key != first.Key {
		t.Errorf("history order: got [%s %s], want [%s %s]", hist[0].Key, hist[1].Key, last.Key, first.Key)
	}
}

func TestHistory_ordersByTimestampThenSeq(t *testing.T) {
	l := auditledger.New()
	first, _ := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", nil)
	second, _ := l.Append(ctx, auditledger.EventConsentCreated, handle, "user-1", nil)
	third, _ := l.Append(ctx, auditledger.EventAddressResolved, handle, "AIU_ACCESS", nil)

	// The wall clock stepped back between the first and second append.
	l.SetTimestamp(second.Key, first.Timestamp.Add(-time.Minute))
	l.SetTimestamp(third.Key, first.Timestamp)

	hist, err := l.History(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{third.Key, first.Key, second.Key}
	if len(hist) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(hist))
	}
	for i, e := range hist {
		if e.Key != want[i] {
			t.Fatalf("history[%d] = %s, want order %v", i, e.Key, want)
		}
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.After(hist[i-1].Timestamp) {
			t.Errorf("timestamps increase at %d", i)
		}
	}
}

func TestHistory_unknownSubjectEmpty(t *testing.T) {
	l := auditledger.New()
	hist, err := l.History(ctx, "nobody@home")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("expected empty history, got %d entries", len(hist))
	}
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	l := auditledger.New()
	e, _ := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", map[string]int{"a": 1})
	e.Actor = "mutated"
	e.Payload[0] = 'X'

	if _, err := l.VerifyEntry(ctx, e.Key); err != nil {
		t.Errorf("mutating a returned entry must not affect the ledger: %v", err)
	}
}

func TestRootAndStats(t *testing.T) {
	l := auditledger.New()
	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != auditledger.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q, want GenesisHash", root)
	}

	e, _ := l.Append(ctx, auditledger.EventAddressCreated, handle, "user-1", nil)
	st, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Backend != auditledger.BackendMemory {
		t.Errorf("Backend = %q, want memory", st.Backend)
	}
	if st.Entries != 2 || st.LastSeq != 1 || st.Root != e.Hash {
		t.Errorf("unexpected stats %+v", st)
	}
}
