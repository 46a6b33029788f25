package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/tracing"
)

// DefaultRequester is recorded when a resolver does not identify itself.
const DefaultRequester = "AIU_ACCESS"

const (
	methodPIN   = "UPI_PIN"
	methodToken = "CONSENT_TOKEN"
)

// ResolveWithPIN discloses the coordinates of handle to a requester that
// presents the owner's PIN. Every call, successful or not, appends exactly
// one ADDRESS_RESOLVED entry; the returned Resolution is never nil.
func (s *AddressService) ResolveWithPIN(ctx context.Context, h, pin, requester string) (*model.Resolution, error) {
	ctx, span := tracing.Tracer("registry").Start(ctx, "address.resolve_pin")
	defer span.End()

	res := s.newResolution(h)
	a, err := s.lookup(ctx, h)
	if err != nil {
		return s.finishResolution(ctx, res, methodPIN, requester, err)
	}
	res.Handle = a.Handle

	c, err := s.consents.GetActive(ctx, a.ID)
	if errors.Is(err, model.ErrConsentNotFound) {
		return s.finishResolution(ctx, res, methodPIN, requester, model.ErrNoActiveConsent)
	}
	if err != nil {
		return s.finishResolution(ctx, res, methodPIN, requester, err)
	}
	ok, err := s.consents.MatchPIN(c, pin)
	if err != nil {
		return s.finishResolution(ctx, res, methodPIN, requester, err)
	}
	if !ok {
		res, err = s.finishResolution(ctx, res, methodPIN, requester, model.ErrInvalidPIN)
		s.notifyResolution(ctx, a, res, requester)
		return res, err
	}

	disclose(res, a, c)
	res, err = s.finishResolution(ctx, res, methodPIN, requester, nil)
	s.notifyResolution(ctx, a, res, requester)
	return res, err
}

// ResolveWithToken discloses the coordinates of handle to a requester that
// holds a previously issued consent token. Auditing follows ResolveWithPIN.
func (s *AddressService) ResolveWithToken(ctx context.Context, h, token, requester string) (*model.Resolution, error) {
	ctx, span := tracing.Tracer("registry").Start(ctx, "address.resolve_token")
	defer span.End()

	res := s.newResolution(h)
	a, err := s.lookup(ctx, h)
	if err != nil {
		return s.finishResolution(ctx, res, methodToken, requester, err)
	}
	res.Handle = a.Handle

	c, err := s.consents.ResolveByToken(ctx, token)
	if errors.Is(err, model.ErrConsentNotFound) {
		return s.finishResolution(ctx, res, methodToken, requester, model.ErrInvalidOrExpiredToken)
	}
	if err != nil {
		return s.finishResolution(ctx, res, methodToken, requester, err)
	}
	if c.AddressID != a.ID {
		return s.finishResolution(ctx, res, methodToken, requester, model.ErrTokenAddressMismatch)
	}

	disclose(res, a, c)
	res, err = s.finishResolution(ctx, res, methodToken, requester, nil)
	s.notifyResolution(ctx, a, res, requester)
	return res, err
}

func (s *AddressService) newResolution(h string) *model.Resolution {
	return &model.Resolution{Handle: h, ResolvedAt: time.Now().UTC()}
}

func disclose(res *model.Resolution, a *model.DigitalAddress, c *model.Consent) {
	res.DigiPin = a.DigiPin
	res.Latitude = a.Latitude
	res.Longitude = a.Longitude
	res.Address = a.Address
	res.ConsentType = c.Type
	res.ExpiresAt = c.ExpiresAt
	res.Confidence = a.ConfidenceScore
	res.Tier = a.Tier
}

// finishResolution classifies cause, appends the audit entry and annotates
// the span. It returns res together with cause.
func (s *AddressService) finishResolution(ctx context.Context, res *model.Resolution, method, requester string, cause error) (*model.Resolution, error) {
	if requester == "" {
		requester = DefaultRequester
	}
	res.Outcome = outcomeOf(cause)

	payload := map[string]any{
		"outcome":   res.Outcome,
		"method":    method,
		"requester": requester,
	}
	if cause == nil {
		payload["digipin"] = res.DigiPin
		payload["consent_type"] = res.ConsentType
	} else if res.Outcome == model.OutcomeError {
		payload["error"] = cause.Error()
	}
	res.AuditKey, res.AuditLogged = s.appendAudit(ctx, auditledger.EventAddressResolved, res.Handle, requester, payload)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("digipin.handle", res.Handle),
		attribute.String("digipin.outcome", string(res.Outcome)),
		attribute.Bool("digipin.audit_logged", res.AuditLogged),
	)
	if res.Outcome == model.OutcomeError {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
		s.logger.Error("resolution failed", zap.String("handle", res.Handle), zap.Error(cause))
	}
	return res, cause
}

func outcomeOf(err error) model.ResolutionOutcome {
	switch {
	case err == nil:
		return model.OutcomeSuccess
	case errors.Is(err, model.ErrAddressNotFound):
		return model.OutcomeAddressNotFound
	case errors.Is(err, model.ErrInvalidPIN):
		return model.OutcomeInvalidPIN
	case errors.Is(err, model.ErrNoActiveConsent):
		return model.OutcomeNoActiveConsent
	case errors.Is(err, model.ErrInvalidOrExpiredToken):
		return model.OutcomeInvalidToken
	case errors.Is(err, model.ErrTokenAddressMismatch):
		return model.OutcomeTokenMismatch
	}
	return model.OutcomeError
}

// SubmitFulfillmentFeedback applies a delivery outcome to the address score.
func (s *AddressService) SubmitFulfillmentFeedback(ctx context.Context, h string, status model.FulfillmentStatus, requester string) (*TrustResult, error) {
	if requester == "" {
		requester = DefaultRequester
	}
	a, err := s.lookup(ctx, h)
	if err != nil {
		return nil, err
	}
	change, updated, err := s.trust.ApplyFulfillmentFeedback(ctx, a.ID, status)
	if err != nil {
		return nil, err
	}
	_, logged := s.appendAudit(ctx, auditledger.EventConfidenceScoreUpdated, a.Handle, requester, map[string]any{
		"fulfillment_status": status,
		"previous_score":     change.PreviousScore,
		"new_score":          change.NewScore,
		"new_tier":           change.NewTier,
		"total_fulfillments": change.TotalFulfillments,
	})
	return &TrustResult{Change: change, Address: updated, AuditLogged: logged}, nil
}

// SubmitVerificationEvent applies a field agent's verification outcome.
func (s *AddressService) SubmitVerificationEvent(ctx context.Context, h string, ev model.VerificationEvent) (*TrustResult, error) {
	a, err := s.lookup(ctx, h)
	if err != nil {
		return nil, err
	}
	change, updated, err := s.trust.ApplyVerificationEvent(ctx, a.ID, ev)
	if err != nil {
		return nil, err
	}
	actor := ev.AgentID
	if actor == "" {
		actor = auditledger.SystemActor
	}
	_, logged := s.appendAudit(ctx, auditledger.EventAavaVerification, a.Handle, actor, map[string]any{
		"verification_status": ev.Status,
		"location_confirmed":  ev.LocationConfirmed,
		"notes":               ev.Notes,
		"previous_score":      change.PreviousScore,
		"new_score":           change.NewScore,
		"previous_tier":       change.PreviousTier,
		"new_tier":            change.NewTier,
	})
	return &TrustResult{Change: change, Address: updated, AuditLogged: logged}, nil
}

// FlagForVerification requests a physical verification of an owned address.
func (s *AddressService) FlagForVerification(ctx context.Context, ownerID uuid.UUID, h, reason string) (*TrustResult, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return nil, err
	}
	if a.IsPhysicallyVerified() {
		return nil, model.ErrAlreadyVerified
	}
	updated, err := s.trust.FlagForVerification(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	change := &model.ScoreChange{
		Handle:            updated.Handle,
		PreviousScore:     updated.ConfidenceScore,
		NewScore:          updated.ConfidenceScore,
		PreviousTier:      updated.Tier,
		NewTier:           updated.Tier,
		TotalFulfillments: updated.TotalFulfillments,
		Reason:            reason,
	}
	_, logged := s.appendAudit(ctx, auditledger.EventVerificationFlagged, a.Handle, ownerID.String(), map[string]any{
		"reason": reason,
	})
	return &TrustResult{Change: change, Address: updated, AuditLogged: logged}, nil
}

// Eligibility maps the current trust state of handle to use-case eligibility.
func (s *AddressService) Eligibility(ctx context.Context, h string) (*model.Eligibility, error) {
	a, err := s.lookup(ctx, h)
	if err != nil {
		return nil, err
	}
	e := s.trust.Policy().Evaluate(a)
	return &e, nil
}

// GetAuditHistory returns the audit trail of an owned address, newest first.
func (s *AddressService) GetAuditHistory(ctx context.Context, ownerID uuid.UUID, h string) ([]*auditledger.Entry, error) {
	a, err := s.owned(ctx, ownerID, h)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.History(ctx, a.Handle)
}

// VerifyAuditEntry checks the integrity of one audit entry. A
// *auditledger.TamperedError is returned unchanged.
func (s *AddressService) VerifyAuditEntry(ctx context.Context, key string) (*auditledger.Entry, error) {
	if s.ledger == nil {
		return nil, auditledger.ErrNotFound
	}
	return s.ledger.VerifyEntry(ctx, key)
}

// VerifyLedger walks the whole audit chain.
func (s *AddressService) VerifyLedger(ctx context.Context) error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Verify(ctx)
}

// AuditStatistics reports the size and backend of the audit ledger.
func (s *AddressService) AuditStatistics(ctx context.Context) (*auditledger.Stats, error) {
	if s.ledger == nil {
		return &auditledger.Stats{Backend: "disabled"}, nil
	}
	return s.ledger.Stats(ctx)
}
