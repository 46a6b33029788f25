package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/identity"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/registry/service"
	"github.com/resolutionconsent/digipin/internal/users"
)

var (
	issuerOnce sync.Once
	issuer     *identity.UserTokenIssuer
)

func testIssuer(t *testing.T) *identity.UserTokenIssuer {
	t.Helper()
	issuerOnce.Do(func() {
		key, err := identity.GenerateKey()
		if err != nil {
			panic(err)
		}
		issuer = identity.NewUserTokenIssuer(key, "https://digipin.test", time.Hour)
	})
	return issuer
}

func bearer(t *testing.T, userID uuid.UUID, username string) string {
	t.Helper()
	tok, err := testIssuer(t).Issue(userID, username)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + tok
}

// do sends a JSON request through r and decodes the response body.
func do(t *testing.T, r http.Handler, method, path, auth string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func newRouter() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	return r, r.Group("/api/v1")
}

// ── Stub AddressService ──────────────────────────────────────────────────

// stubAddressSvc records the owner each call was made for and returns
// canned results. err, when set, is returned by every method.
type stubAddressSvc struct {
	mu        sync.RWMutex
	err       error
	lastOwner uuid.UUID
	lastReq   any

	resolution *model.Resolution
	history    []*auditledger.Entry
	entry      *auditledger.Entry
	chainErr   error
	address    *model.DigitalAddress
	logged     bool
}

func newStubAddressSvc() *stubAddressSvc {
	return &stubAddressSvc{
		address: &model.DigitalAddress{
			ID:              uuid.New(),
			Handle:          "asha@home",
			Suffix:          "home",
			DigiPin:         "4FK-595-8823",
			ConfidenceScore: model.DefaultConfidenceScore,
			Tier:            model.TierBasic,
		},
		logged: true,
	}
}

func (s *stubAddressSvc) record(owner uuid.UUID, req any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOwner = owner
	s.lastReq = req
	return s.err
}

func (s *stubAddressSvc) owner() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOwner
}

func (s *stubAddressSvc) result() *service.AddressResult {
	return &service.AddressResult{Address: s.address.Clone(), AuditLogged: s.logged}
}

func (s *stubAddressSvc) CreateAddress(_ context.Context, req *model.CreateAddressRequest) (*service.AddressResult, error) {
	if err := s.record(req.OwnerUserID, req); err != nil {
		return nil, err
	}
	res := s.result()
	res.Address.Handle = req.Username + "@" + req.Suffix
	return res, nil
}

func (s *stubAddressSvc) UpdateAddress(_ context.Context, req *model.UpdateAddressRequest) (*service.AddressResult, error) {
	if err := s.record(req.OwnerUserID, req); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func (s *stubAddressSvc) ReissueConsent(_ context.Context, ownerID uuid.UUID, h, _ string, _ model.ConsentType, _ int) (*service.AddressResult, error) {
	if err := s.record(ownerID, h); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func (s *stubAddressSvc) RevokeConsent(_ context.Context, ownerID uuid.UUID, h string) (*service.AddressResult, error) {
	if err := s.record(ownerID, h); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func (s *stubAddressSvc) DeleteAddress(_ context.Context, ownerID uuid.UUID, h string) (bool, error) {
	if err := s.record(ownerID, h); err != nil {
		return false, err
	}
	return s.logged, nil
}

func (s *stubAddressSvc) GetAddress(_ context.Context, ownerID uuid.UUID, h string) (*model.AddressWithConsent, error) {
	if err := s.record(ownerID, h); err != nil {
		return nil, err
	}
	return &model.AddressWithConsent{DigitalAddress: s.address.Clone(), Consent: model.ConsentSummary{Status: model.LinkNone}}, nil
}

func (s *stubAddressSvc) ListAddresses(_ context.Context, ownerID uuid.UUID) ([]*model.AddressWithConsent, error) {
	if err := s.record(ownerID, nil); err != nil {
		return nil, err
	}
	return []*model.AddressWithConsent{
		{DigitalAddress: s.address.Clone(), Consent: model.ConsentSummary{Status: model.LinkActive}},
	}, nil
}

func (s *stubAddressSvc) FlagForVerification(_ context.Context, ownerID uuid.UUID, h, reason string) (*service.TrustResult, error) {
	if err := s.record(ownerID, reason); err != nil {
		return nil, err
	}
	a := s.address.Clone()
	a.NeedsVerification = true
	return &service.TrustResult{Change: &model.ScoreChange{Handle: h}, Address: a, AuditLogged: s.logged}, nil
}

func (s *stubAddressSvc) GetAuditHistory(_ context.Context, ownerID uuid.UUID, h string) ([]*auditledger.Entry, error) {
	if err := s.record(ownerID, h); err != nil {
		return nil, err
	}
	return s.history, nil
}

func (s *stubAddressSvc) ResolveWithPIN(_ context.Context, h, pin, requester string) (*model.Resolution, error) {
	if err := s.record(uuid.Nil, [3]string{h, pin, requester}); err != nil {
		return s.failedResolution(h, err), err
	}
	return s.resolution, nil
}

func (s *stubAddressSvc) ResolveWithToken(_ context.Context, h, token, requester string) (*model.Resolution, error) {
	if err := s.record(uuid.Nil, [3]string{h, token, requester}); err != nil {
		return s.failedResolution(h, err), err
	}
	return s.resolution, nil
}

func (s *stubAddressSvc) failedResolution(h string, err error) *model.Resolution {
	outcome := model.OutcomeError
	switch err {
	case model.ErrInvalidPIN:
		outcome = model.OutcomeInvalidPIN
	case model.ErrNoActiveConsent:
		outcome = model.OutcomeNoActiveConsent
	case model.ErrTokenAddressMismatch:
		outcome = model.OutcomeTokenMismatch
	case model.ErrAddressNotFound:
		outcome = model.OutcomeAddressNotFound
	}
	return &model.Resolution{Handle: h, Outcome: outcome, AuditKey: "resolution:" + h + ":1", AuditLogged: s.logged}
}

func (s *stubAddressSvc) SubmitFulfillmentFeedback(_ context.Context, h string, status model.FulfillmentStatus, requester string) (*service.TrustResult, error) {
	if err := s.record(uuid.Nil, requester); err != nil {
		return nil, err
	}
	prev := s.address.ConfidenceScore
	next := model.ClampScore(prev + status.Delta())
	a := s.address.Clone()
	a.ConfidenceScore = next
	return &service.TrustResult{
		Change:      &model.ScoreChange{Handle: h, PreviousScore: prev, NewScore: next, Reason: string(status)},
		Address:     a,
		AuditLogged: s.logged,
	}, nil
}

func (s *stubAddressSvc) SubmitVerificationEvent(_ context.Context, h string, ev model.VerificationEvent) (*service.TrustResult, error) {
	if err := s.record(uuid.Nil, ev); err != nil {
		return nil, err
	}
	a := s.address.Clone()
	if ev.Status == model.VerificationVerified && ev.LocationConfirmed {
		a.Tier = model.TierPhysicallyVerified
		a.Verification.AgentID = ev.AgentID
	}
	return &service.TrustResult{
		Change:      &model.ScoreChange{Handle: h, PreviousTier: model.TierBasic, NewTier: a.Tier},
		Address:     a,
		AuditLogged: s.logged,
	}, nil
}

func (s *stubAddressSvc) Eligibility(_ context.Context, h string) (*model.Eligibility, error) {
	if err := s.record(uuid.Nil, h); err != nil {
		return nil, err
	}
	e := model.DefaultPolicy().Evaluate(s.address)
	return &e, nil
}

func (s *stubAddressSvc) VerifyAuditEntry(_ context.Context, key string) (*auditledger.Entry, error) {
	if err := s.record(uuid.Nil, key); err != nil {
		return nil, err
	}
	return s.entry, nil
}

func (s *stubAddressSvc) VerifyLedger(context.Context) error {
	return s.chainErr
}

func (s *stubAddressSvc) AuditStatistics(context.Context) (*auditledger.Stats, error) {
	return &auditledger.Stats{Backend: auditledger.BackendMemory, Entries: 3, LastSeq: 2}, nil
}

// ── Stub UserService ──────────────────────────────────────────────────────

type stubUserSvc struct {
	mu        sync.RWMutex
	signupErr error
	loginErr  error
	verifyErr error
	resetErr  error
	verified  map[uuid.UUID]bool
	user      *users.User
}

func newStubUserSvc() *stubUserSvc {
	return &stubUserSvc{
		verified: make(map[uuid.UUID]bool),
		user:     &users.User{ID: uuid.New(), Username: "asha", Phone: "9876543210"},
	}
}

func (s *stubUserSvc) Signup(_ context.Context, req users.SignupRequest) (*users.User, error) {
	if s.signupErr != nil {
		return nil, s.signupErr
	}
	return &users.User{ID: uuid.New(), Username: req.Username, Phone: req.Phone, Email: req.Email}, nil
}

func (s *stubUserSvc) Login(_ context.Context, _, _ string) (*users.User, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return s.user, nil
}

func (s *stubUserSvc) VerifyIdentity(_ context.Context, userID uuid.UUID, documentNumber, _ string) (*users.User, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[userID] = true
	u := *s.user
	u.ID = userID
	u.IdentityVerified = true
	u.MaskedDocument = "********" + documentNumber[len(documentNumber)-4:]
	return &u, nil
}

func (s *stubUserSvc) ResetPasswordWithIdentity(context.Context, users.ResetPasswordRequest) error {
	return s.resetErr
}

func (s *stubUserSvc) Profile(_ context.Context, userID uuid.UUID) (*users.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID != s.user.ID && !s.verified[userID] {
		return nil, users.ErrNotFound
	}
	return &users.Profile{Username: s.user.Username, Phone: s.user.Phone, IdentityVerified: s.verified[userID]}, nil
}
