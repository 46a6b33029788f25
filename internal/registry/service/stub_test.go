package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/registry/service"
)

// ── Stub store ────────────────────────────────────────────────────────────

// stubStore implements both the address and consent repositories over
// shared maps so consent swaps repoint addresses the way the SQL does.
type stubStore struct {
	mu        sync.RWMutex
	addresses map[uuid.UUID]*model.DigitalAddress
	byHandle  map[string]uuid.UUID
	consents  map[uuid.UUID]*model.Consent
}

func newStubStore() *stubStore {
	return &stubStore{
		addresses: make(map[uuid.UUID]*model.DigitalAddress),
		byHandle:  make(map[string]uuid.UUID),
		consents:  make(map[uuid.UUID]*model.Consent),
	}
}

func (s *stubStore) Create(_ context.Context, a *model.DigitalAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHandle[a.Handle]; exists {
		return model.ErrDuplicateAddress
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	a.Version = 1
	s.addresses[a.ID] = a.Clone()
	s.byHandle[a.Handle] = a.ID
	return nil
}

func (s *stubStore) GetByID(_ context.Context, id uuid.UUID) (*model.DigitalAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addresses[id]
	if !ok {
		return nil, model.ErrAddressNotFound
	}
	return a.Clone(), nil
}

func (s *stubStore) GetByHandle(_ context.Context, handle string) (*model.DigitalAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHandle[handle]
	if !ok {
		return nil, model.ErrAddressNotFound
	}
	return s.addresses[id].Clone(), nil
}

func (s *stubStore) ListByOwner(_ context.Context, userID uuid.UUID) ([]*model.DigitalAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.DigitalAddress
	for _, a := range s.addresses {
		if a.OwnerUserID == userID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *stubStore) Update(_ context.Context, a *model.DigitalAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.addresses[a.ID]
	if !ok {
		return model.ErrAddressNotFound
	}
	if stored.Version != a.Version {
		return model.ErrStaleVersion
	}
	next := a.Clone()
	next.ActiveConsentID = stored.ActiveConsentID
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.addresses[a.ID] = next
	a.Version = next.Version
	return nil
}

func (s *stubStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[id]
	if !ok {
		return model.ErrAddressNotFound
	}
	if a.IsPhysicallyVerified() {
		return model.ErrAddressVerified
	}
	for _, c := range s.consents {
		if c.AddressID == id {
			c.Active = false
		}
	}
	delete(s.byHandle, a.Handle)
	delete(s.addresses, id)
	return nil
}

func (s *stubStore) ReplaceActive(_ context.Context, c *model.Consent, moved *model.DigitalAddress) (*model.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addresses[c.AddressID]
	if !ok {
		return nil, model.ErrAddressNotFound
	}
	if moved != nil && moved.Version != a.Version {
		return nil, model.ErrStaleVersion
	}
	for _, other := range s.consents {
		if other.Active && other.Token == c.Token {
			return nil, model.ErrTokenTaken
		}
	}
	now := time.Now().UTC()
	if moved != nil {
		next := moved.Clone()
		next.ActiveConsentID = a.ActiveConsentID
		next.Version = a.Version + 1
		next.UpdatedAt = now
		s.addresses[a.ID] = next
		a = next
	}
	var prev *model.Consent
	for _, other := range s.consents {
		if other.Active && other.AddressID == c.AddressID {
			other.Active = false
			other.RevokedAt = &now
			cp := *other
			prev = &cp
		}
	}
	c.ID = uuid.New()
	c.Active = true
	cp := *c
	s.consents[c.ID] = &cp
	id := c.ID
	a.ActiveConsentID = &id
	a.Version++
	if moved != nil {
		moved.ActiveConsentID = &id
		moved.Version = a.Version
		moved.UpdatedAt = now
	}
	return prev, nil
}

// failingSwapStore fails every consent swap once err is set.
type failingSwapStore struct {
	*stubStore
	swapMu sync.RWMutex
	err    error
}

func (s *failingSwapStore) ReplaceActive(ctx context.Context, c *model.Consent, moved *model.DigitalAddress) (*model.Consent, error) {
	s.swapMu.RLock()
	err := s.err
	s.swapMu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.stubStore.ReplaceActive(ctx, c, moved)
}

func (s *failingSwapStore) failWith(err error) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.err = err
}

func (s *stubStore) GetActiveByAddress(_ context.Context, addressID uuid.UUID) (*model.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consents {
		if c.Active && c.AddressID == addressID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, model.ErrConsentNotFound
}

func (s *stubStore) GetActiveByToken(_ context.Context, token string) (*model.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consents {
		if c.Active && c.Token == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, model.ErrConsentNotFound
}

func (s *stubStore) TokenActive(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consents {
		if c.Active && c.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) Deactivate(_ context.Context, consentID, addressID uuid.UUID, revokedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.consents[consentID]; ok && c.Active {
		c.Active = false
		if revokedAt != nil {
			c.RevokedAt = revokedAt
		}
	}
	if a, ok := s.addresses[addressID]; ok && a.ActiveConsentID != nil && *a.ActiveConsentID == consentID {
		a.ActiveConsentID = nil
		a.Version++
	}
	return nil
}

func (s *stubStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*model.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Consent
	for _, c := range s.consents {
		if c.Active && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) && len(out) < limit {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// activeCount returns how many consents of addressID are flagged active.
func (s *stubStore) activeCount(addressID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.consents {
		if c.Active && c.AddressID == addressID {
			n++
		}
	}
	return n
}

// seedAddress stores an address directly and returns it.
func (s *stubStore) seedAddress(handle string, owner uuid.UUID, score float64) *model.DigitalAddress {
	a := &model.DigitalAddress{
		Handle:          handle,
		DigiPin:         "39J-438-TJC7",
		Latitude:        28.622788,
		Longitude:       77.213033,
		Address:         "Dak Bhawan, Sansad Marg, New Delhi",
		ConfidenceScore: score,
		Tier:            model.TierBasic,
		OwnerUserID:     owner,
	}
	_ = s.Create(context.Background(), a)
	return a
}

// ── Other stubs ───────────────────────────────────────────────────────────

type stubIdentity struct{ verified map[uuid.UUID]bool }

func (s stubIdentity) IsIdentityVerified(_ context.Context, userID uuid.UUID) (bool, error) {
	return s.verified[userID], nil
}

// failingLedger rejects every append but otherwise behaves like MemoryLedger.
type failingLedger struct {
	*auditledger.MemoryLedger
}

func (failingLedger) Append(context.Context, auditledger.EventType, string, string, any) (*auditledger.Entry, error) {
	return nil, errors.New("ledger unavailable")
}

// tamperedLedger reports every entry as tampered.
type tamperedLedger struct {
	*auditledger.MemoryLedger
}

func (tamperedLedger) VerifyEntry(_ context.Context, key string) (*auditledger.Entry, error) {
	return nil, &auditledger.TamperedError{Key: key, Reason: "payload hash mismatch"}
}

func (tamperedLedger) Verify(context.Context) error {
	return &auditledger.TamperedError{Key: auditledger.GenesisKey, Reason: "entry hash mismatch"}
}

// ── Fixtures ──────────────────────────────────────────────────────────────

type fixture struct {
	store    *stubStore
	consents *service.ConsentManager
	trust    *service.TrustEngine
	ledger   *auditledger.MemoryLedger
	svc      *service.AddressService
	owner    uuid.UUID
}

func newFixture() *fixture {
	store := newStubStore()
	logger := zap.NewNop()
	consents := service.NewConsentManager(store, logger)
	consents.SetHashCost(bcrypt.MinCost)
	trust := service.NewTrustEngine(store, model.DefaultPolicy(), logger)
	ledger := auditledger.New()
	svc := service.NewAddressService(store, consents, trust, ledger, logger)

	owner := uuid.New()
	svc.SetIdentityChecker(stubIdentity{verified: map[uuid.UUID]bool{owner: true}})
	return &fixture{store: store, consents: consents, trust: trust, ledger: ledger, svc: svc, owner: owner}
}

func (f *fixture) createRequest(suffix, pin string) *model.CreateAddressRequest {
	return &model.CreateAddressRequest{
		Suffix:      suffix,
		Latitude:    28.622788,
		Longitude:   77.213033,
		Address:     "Dak Bhawan, Sansad Marg, New Delhi",
		PIN:         pin,
		ConsentType: model.ConsentPermanent,
		OwnerUserID: f.owner,
		Username:    "asha",
	}
}
