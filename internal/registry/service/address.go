package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/email"
	"github.com/resolutionconsent/digipin/internal/geocodec"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/pkg/handle"
)

// DefaultAuditTimeout bounds a single audit append.
const DefaultAuditTimeout = 5 * time.Second

// addressRepo is the persistence interface for the address service.
// *repository.AddressRepository satisfies this interface.
type addressRepo interface {
	Create(ctx context.Context, a *model.DigitalAddress) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DigitalAddress, error)
	GetByHandle(ctx context.Context, handle string) (*model.DigitalAddress, error)
	ListByOwner(ctx context.Context, userID uuid.UUID) ([]*model.DigitalAddress, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// IdentityChecker reports whether a user has completed identity verification.
// *users.UserService satisfies this interface.
type IdentityChecker interface {
	IsIdentityVerified(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AddressResult is returned by operations that write an address and its consent.
type AddressResult struct {
	Address     *model.DigitalAddress `json:"address"`
	Consent     *model.Consent        `json:"consent,omitempty"`
	AuditLogged bool                  `json:"audit_logged"`
}

// TrustResult is returned by trust-engine operations.
type TrustResult struct {
	Change      *model.ScoreChange    `json:"change"`
	Address     *model.DigitalAddress `json:"-"`
	AuditLogged bool                  `json:"audit_logged"`
}

// AddressService orchestrates address registration, consent-gated
// resolution and trust events, recording every outcome in the audit ledger.
type AddressService struct {
	repo         addressRepo
	consents     *ConsentManager
	trust        *TrustEngine
	ledger       auditledger.Ledger
	identity     IdentityChecker // nil = skip identity verification gate
	auditTimeout time.Duration
	logger       *zap.Logger

	mailer        email.Sender  // nil = notifications disabled
	contacts      ContactLookup // nil = notifications disabled
	notifications sync.WaitGroup
}

// NewAddressService creates a new AddressService. ledger may be nil to
// disable auditing, in which case every result reports AuditLogged=false.
func NewAddressService(repo addressRepo, consents *ConsentManager, trust *TrustEngine, ledger auditledger.Ledger, logger *zap.Logger) *AddressService {
	s := &AddressService{
		repo:         repo,
		consents:     consents,
		trust:        trust,
		ledger:       ledger,
		auditTimeout: DefaultAuditTimeout,
		logger:       logger,
	}
	consents.SetExpiryHook(s.auditExpiry)
	return s
}

// SetIdentityChecker configures the identity gate applied at address creation.
func (s *AddressService) SetIdentityChecker(ic IdentityChecker) {
	s.identity = ic
}

// SetAuditTimeout overrides the per-append audit deadline.
func (s *AddressService) SetAuditTimeout(d time.Duration) {
	if d > 0 {
		s.auditTimeout = d
	}
}

// appendAudit appends an audit entry in a non-fatal manner and returns its
// key and whether it was written. The append runs on a context detached from
// the caller's cancellation so a dropped client cannot suppress the record.
func (s *AddressService) appendAudit(ctx context.Context, eventType auditledger.EventType, subject, actor string, payload any) (string, bool) {
	if s.ledger == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
	defer cancel()

	entry, err := s.ledger.Append(ctx, eventType, subject, actor, payload)
	if err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("event_type", string(eventType)),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return "", false
	}
	return entry.Key, true
}

func (s *AddressService) auditExpiry(ctx context.Context, c *model.Consent) {
	subject := c.AddressID.String()
	if a, err := s.repo.GetByID(ctx, c.AddressID); err == nil {
		subject = a.Handle
	}
	s.appendAudit(ctx, auditledger.EventConsentExpired, subject, auditledger.SystemActor, map[string]any{
		"consent_id": c.ID.String(),
		"expires_at": c.ExpiresAt,
	})
	expiredAt := time.Now()
	if c.ExpiresAt != nil {
		expiredAt = *c.ExpiresAt
	}
	s.notifyOwner(ctx, c.OwnerUserID, email.ConsentExpired(subject, expiredAt))
}

// CreateAddress registers a new digital address for an identity-verified
// user and issues its first consent.
func (s *AddressService) CreateAddress(ctx context.Context, req *model.CreateAddressRequest) (*AddressResult, error) {
	if s.identity != nil {
		ok, err := s.identity.IsIdentityVerified(ctx, req.OwnerUserID)
		if err != nil {
			return nil, fmt.Errorf("check identity verification: %w", err)
		}
		if !ok {
			return nil, model.ErrIdentityNotVerified
		}
	}

	h, err := handle.New(req.Username, req.Suffix)
	if err != nil {
		return nil, &model.ErrValidation{Msg: err.Error()}
	}
	if req.Address == "" {
		return nil, &model.ErrValidation{Msg: "address is required"}
	}
	if err := ValidatePIN(req.PIN); err != nil {
		return nil, err
	}
	ctype, err := model.ParseConsentType(string(req.ConsentType))
	if err != nil {
		return nil, err
	}
	digipin, err := geocodec.Encode(req.Latitude, req.Longitude)
	if err != nil {
		return nil, err
	}

	a := &model.DigitalAddress{
		Handle:          h.String(),
		Suffix:          h.Suffix,
		DigiPin:         digipin,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Address:         req.Address,
		AddressName:     req.AddressName,
		PinCode:         req.PinCode,
		Purpose:         req.Purpose,
		ConfidenceScore: model.DefaultConfidenceScore,
		Tier:            model.TierBasic,
		OwnerUserID:     req.OwnerUserID,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, model.ErrDuplicateAddress) {
			return nil, err
		}
		s.logger.Error("failed to create address", zap.Error(err))
		return nil, fmt.Errorf("create address: %w", err)
	}

	consent, err := s.consents.CreateOrReplace(ctx, a.OwnerUserID, a.ID, req.PIN, ctype, req.DurationDays)
	if err != nil {
		// Without a consent the address could never be resolved; undo it.
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), a.ID); delErr != nil {
			s.logger.Error("roll back address after consent failure",
				zap.String("handle", a.Handle), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create consent: %w", err)
	}
	a.ActiveConsentID = &consent.ID

	actor := a.OwnerUserID.String()
	_, logged1 := s.appendAudit(ctx, auditledger.EventAddressCreated, a.Handle, actor, map[string]any{
		"digipin":   a.DigiPin,
		"latitude":  a.Latitude,
		"longitude": a.Longitude,
		"purpose":   a.Purpose,
	})
	_, logged2 := s.appendAudit(ctx, auditledger.EventConsentCreated, a.Handle, actor, consentPayload(consent))

	s.logger.Info("digital address created",
		zap.String("handle", a.Handle),
		zap.String("digipin", a.DigiPin),
	)
	return &AddressResult{Address: a, Consent: consent, AuditLogged: logged1 && logged2}, nil
}

// UpdateAddress moves an address to new coordinates and replaces its
// consent in a single write. The caller must own the address and present its
// current PIN.
func (s *AddressService) UpdateAddress(ctx context.Context, req *model.UpdateAddressRequest) (*AddressResult, error) {
	a, err := s.owned(ctx, req.OwnerUserID, req.Handle)
	if err != nil {
		return nil, err
	}

	current, err := s.consents.GetActive(ctx, a.ID)
	if errors.Is(err, model.ErrConsentNotFound) {
		return nil, model.ErrNoActiveConsent
	}
	if err != nil {
		return nil, err
	}
	ok, err := s.consents.MatchPIN(current, req.PIN)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrInvalidPIN
	}

	newPIN := req.PIN
	if req.NewPIN != "" {
		newPIN = req.NewPIN
	}
	if err := ValidatePIN(newPIN); err != nil {
		return nil, err
	}
	ctype, err := model.ParseConsentType(string(req.ConsentType))
	if err != nil {
		return nil, err
	}
	digipin, err := geocodec.Encode(req.Latitude, req.Longitude)
	if err != nil {
		return nil, err
	}

	previousDigiPin := a.DigiPin
	a.DigiPin = digipin
	a.Latitude = req.Latitude
	a.Longitude = req.Longitude
	if req.Address != "" {
		a.Address = req.Address
	}
	if req.AddressName != "" {
		a.AddressName = req.AddressName
	}
	if req.PinCode != "" {
		a.PinCode = req.PinCode
	}
	if req.Purpose != "" {
		a.Purpose = req.Purpose
	}
	consent, err := s.consents.ReplaceWithUpdate(ctx, a, newPIN, ctype, req.DurationDays)
	if err != nil {
		return nil, fmt.Errorf("update address: %w", err)
	}

	actor := a.OwnerUserID.String()
	_, logged1 := s.appendAudit(ctx, auditledger.EventAddressUpdated, a.Handle, actor, map[string]any{
		"previous_digipin": previousDigiPin,
		"digipin":          a.DigiPin,
		"latitude":         a.Latitude,
		"longitude":        a.Longitude,
	})
	_, logged2 := s.appendAudit(ctx, auditledger.EventConsentCreated, a.Handle, actor, consentPayload(consent))
	return &AddressResult{Address: a, Consent: consent, AuditLogged: logged1 && logged2}, nil
}

// ReissueConsent replaces the consent of an owned address without the old
// PIN, for owners whose consent expired or was revoked.
func (s *AddressService) ReissueConsent(ctx context.Context, ownerID uuid.UUID, h, pin string, ctype model.ConsentType, durationDays int) (*AddressResult, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return nil, err
	}
	consent, err := s.consents.CreateOrReplace(ctx, ownerID, a.ID, pin, ctype, durationDays)
	if err != nil {
		return nil, err
	}
	a.ActiveConsentID = &consent.ID
	_, logged := s.appendAudit(ctx, auditledger.EventConsentCreated, a.Handle, ownerID.String(), consentPayload(consent))
	return &AddressResult{Address: a, Consent: consent, AuditLogged: logged}, nil
}

// RevokeConsent deactivates the live consent of an owned address.
func (s *AddressService) RevokeConsent(ctx context.Context, ownerID uuid.UUID, h string) (*AddressResult, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return nil, err
	}
	c, err := s.consents.Revoke(ctx, a.ID)
	if errors.Is(err, model.ErrConsentNotFound) {
		return nil, model.ErrNoActiveConsent
	}
	if err != nil {
		return nil, err
	}
	a.ActiveConsentID = nil
	_, logged := s.appendAudit(ctx, auditledger.EventConsentRevoked, a.Handle, ownerID.String(), consentPayload(c))
	return &AddressResult{Address: a, Consent: c, AuditLogged: logged}, nil
}

// DeleteAddress removes an owned address that is not physically verified.
func (s *AddressService) DeleteAddress(ctx context.Context, ownerID uuid.UUID, h string) (bool, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return false, err
	}
	if a.IsPhysicallyVerified() {
		return false, model.ErrAddressVerified
	}
	if err := s.repo.Delete(ctx, a.ID); err != nil {
		return false, err
	}
	_, logged := s.appendAudit(ctx, auditledger.EventAddressDeleted, a.Handle, ownerID.String(), map[string]any{
		"digipin": a.DigiPin,
	})
	s.logger.Info("digital address deleted", zap.String("handle", a.Handle))
	return logged, nil
}

// GetAddress returns an owned address with its consent summary.
func (s *AddressService) GetAddress(ctx context.Context, ownerID uuid.UUID, h string) (*model.AddressWithConsent, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return nil, err
	}
	return s.withConsent(ctx, a)
}

// ListAddresses returns every address owned by ownerID with consent summaries.
func (s *AddressService) ListAddresses(ctx context.Context, ownerID uuid.UUID) ([]*model.AddressWithConsent, error) {
	addrs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	out := make([]*model.AddressWithConsent, 0, len(addrs))
	for _, a := range addrs {
		ac, err := s.withConsent(ctx, a)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, nil
}

func (s *AddressService) withConsent(ctx context.Context, a *model.DigitalAddress) (*model.AddressWithConsent, error) {
	summary, err := s.consents.Summary(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("consent summary: %w", err)
	}
	return &model.AddressWithConsent{DigitalAddress: a, Consent: summary}, nil
}

// owned loads the address by handle and checks ownership.
func (s *AddressService) owned(ctx context.Context, ownerID uuid.UUID, h string) (*model.DigitalAddress, error) {
	canonical, err := handle.Canonical(h)
	if err != nil {
		return nil, model.ErrAddressNotFound
	}
	a, err := s.repo.GetByHandle(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if a.OwnerUserID != ownerID {
		return nil, model.ErrForbidden
	}
	return a, nil
}

// lookup loads the address by handle without an ownership check.
func (s *AddressService) lookup(ctx context.Context, h string) (*model.DigitalAddress, error) {
	canonical, err := handle.Canonical(h)
	if err != nil {
		return nil, model.ErrAddressNotFound
	}
	return s.repo.GetByHandle(ctx, canonical)
}

func consentPayload(c *model.Consent) map[string]any {
	return map[string]any{
		"consent_id":   c.ID.String(),
		"consent_type": c.Type,
		"expires_at":   c.ExpiresAt,
		"revoked_at":   c.RevokedAt,
	}
}
