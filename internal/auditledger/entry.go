package auditledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It serves as the trust anchor of the chain; all subsequent entry hashes
// chain from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisKey is the key of the entry at sequence 0.
const GenesisKey = "genesis"

// SystemActor is recorded for entries written by the registry itself.
const SystemActor = "digipin-system"

// EventType names the kind of event an entry records.
type EventType string

const (
	EventGenesis                EventType = "GENESIS"
	EventAddressCreated         EventType = "ADDRESS_CREATED"
	EventAddressUpdated         EventType = "ADDRESS_UPDATED"
	EventAddressDeleted         EventType = "ADDRESS_DELETED"
	EventAddressResolved        EventType = "ADDRESS_RESOLVED"
	EventConsentCreated         EventType = "CONSENT_CREATED"
	EventConsentRevoked         EventType = "CONSENT_REVOKED"
	EventConsentExpired         EventType = "CONSENT_EXPIRED"
	EventConfidenceScoreUpdated EventType = "CONFIDENCE_SCORE_UPDATED"
	EventAavaVerification       EventType = "AAVA_VERIFICATION"
	EventVerificationFlagged    EventType = "VERIFICATION_FLAGGED"
)

// keyPrefix returns the "{category}:{action}" head of keys for t.
func (t EventType) keyPrefix() string {
	switch t {
	case EventAddressCreated:
		return "address:create"
	case EventAddressUpdated:
		return "address:update"
	case EventAddressDeleted:
		return "address:delete"
	case EventAddressResolved:
		return "address:resolve"
	case EventConfidenceScoreUpdated:
		return "address:confidence"
	case EventAavaVerification:
		return "address:aava"
	case EventVerificationFlagged:
		return "address:flag"
	case EventConsentCreated:
		return "consent:create"
	case EventConsentRevoked:
		return "consent:revoke"
	case EventConsentExpired:
		return "consent:expire"
	case EventGenesis:
		return GenesisKey
	}
	return "event:other"
}

// Entry is a single audit record.
type Entry struct {
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject"` // digital address handle
	Actor     string          `json:"actor"`   // user id, requester or "digipin-system"
	Payload   json.RawMessage `json:"payload"` // canonical JSON, hashed into DataHash
	DataHash  string          `json:"data_hash"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// clone returns a deep copy so callers can never mutate stored entries.
func (e *Entry) clone() *Entry {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

func genesisEntry(ts time.Time) *Entry {
	return &Entry{
		Seq:       0,
		Key:       GenesisKey,
		Type:      EventGenesis,
		Timestamp: ts,
		Actor:     SystemActor,
		Payload:   json.RawMessage("null"),
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
}

// newEntry builds the next entry after prev. The caller must hold the
// backend's append serialisation and resolve key collisions itself.
func newEntry(prev *Entry, eventType EventType, subject, actor string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// Truncated so every backend round-trips the timestamp exactly.
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Entry{
		Seq:       prev.Seq + 1,
		Key:       baseKey(eventType, subject, now),
		Type:      eventType,
		Timestamp: now,
		Subject:   subject,
		Actor:     actor,
		Payload:   payloadJSON,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prev.Hash,
	}, nil
}

// seal disambiguates the key when taken and computes the entry hash.
func (e *Entry) seal(keyTaken bool) {
	if keyTaken {
		e.Key = e.Key + ":" + strconv.FormatInt(e.Seq, 10)
	}
	e.Hash = hashEntry(e)
}

func baseKey(t EventType, subject string, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", t.keyPrefix(), subject, ts.UnixMilli())
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (seq 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s",
		e.Seq, e.Key, e.Timestamp.Format(time.RFC3339Nano),
		e.Type, e.Subject, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// checkEntry validates curr in isolation and against its neighbours.
// prev is nil only for the genesis entry; next is nil for the chain tip.
func checkEntry(prev, curr, next *Entry) error {
	if curr.Seq == 0 {
		if curr.Hash != GenesisHash {
			return &TamperedError{Key: curr.Key, Reason: "genesis entry has wrong hash"}
		}
	} else {
		if prev == nil || prev.Seq != curr.Seq-1 {
			return &TamperedError{Key: curr.Key, Reason: "predecessor missing"}
		}
		if sha256Sum(curr.Payload) != curr.DataHash {
			return &TamperedError{Key: curr.Key, Reason: "payload does not match data hash"}
		}
		if hashEntry(curr) != curr.Hash {
			return &TamperedError{Key: curr.Key, Reason: "entry hash mismatch"}
		}
		if curr.PrevHash != prev.Hash {
			return &TamperedError{Key: curr.Key, Reason: "hash chain broken before entry"}
		}
	}
	if next != nil && next.PrevHash != curr.Hash {
		return &TamperedError{Key: curr.Key, Reason: "hash chain broken after entry"}
	}
	return nil
}
