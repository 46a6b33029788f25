package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/registry/model"
)

// maxScoreRetries bounds optimistic-concurrency retries on a single address.
const maxScoreRetries = 8

// scoreRepo is the persistence interface for trust mutations.
// *repository.AddressRepository satisfies this interface.
type scoreRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.DigitalAddress, error)
	Update(ctx context.Context, a *model.DigitalAddress) error
}

// TrustEngine maintains the confidence score and verification tier of
// addresses. Every mutation is a compare-and-set on the address version,
// retried when a concurrent writer got there first.
type TrustEngine struct {
	repo   scoreRepo
	policy model.Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewTrustEngine creates a TrustEngine using policy for tier promotion.
func NewTrustEngine(repo scoreRepo, policy model.Policy, logger *zap.Logger) *TrustEngine {
	return &TrustEngine{
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock replaces the time source.
func (e *TrustEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Policy returns the thresholds the engine was built with.
func (e *TrustEngine) Policy() model.Policy {
	return e.policy
}

// ApplyFulfillmentFeedback adjusts the score by the delta of status and
// counts the fulfillment. Unverified addresses move between BASIC and
// BASIC_PLUS_SCORE as the score crosses the trusted threshold.
func (e *TrustEngine) ApplyFulfillmentFeedback(ctx context.Context, addressID uuid.UUID, status model.FulfillmentStatus) (*model.ScoreChange, *model.DigitalAddress, error) {
	if _, err := model.ParseFulfillmentStatus(string(status)); err != nil {
		return nil, nil, err
	}
	return e.mutate(ctx, addressID, func(a *model.DigitalAddress) (string, bool, error) {
		a.ConfidenceScore = model.RoundScore(model.ClampScore(a.ConfidenceScore + status.Delta()))
		a.TotalFulfillments++
		if !a.IsPhysicallyVerified() {
			if e.policy.Trusted(a) {
				a.Tier = model.TierBasicPlusScore
			} else {
				a.Tier = model.TierBasic
			}
		}
		return "fulfillment feedback: " + string(status), true, nil
	})
}

// ApplyVerificationEvent records a field agent's verification outcome.
// A VERIFIED event without location confirmation changes nothing.
func (e *TrustEngine) ApplyVerificationEvent(ctx context.Context, addressID uuid.UUID, ev model.VerificationEvent) (*model.ScoreChange, *model.DigitalAddress, error) {
	if _, err := model.ParseVerificationStatus(string(ev.Status)); err != nil {
		return nil, nil, err
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	return e.mutate(ctx, addressID, func(a *model.DigitalAddress) (string, bool, error) {
		switch ev.Status {
		case model.VerificationVerified:
			if !ev.LocationConfirmed {
				return "verified without location confirmation", false, nil
			}
			at := ev.At
			a.Tier = model.TierPhysicallyVerified
			a.Verification = model.Verification{AgentID: ev.AgentID, VerifiedAt: &at, Notes: ev.Notes}
			a.NeedsVerification = false
			// Boost into the [90, 95] band, then the general bound.
			boosted := math.Max(90, math.Min(95, a.ConfidenceScore+40))
			a.ConfidenceScore = model.RoundScore(model.ClampScore(boosted))
			return "physical verification: location confirmed", true, nil

		case model.VerificationFailed:
			at := ev.At
			a.Verification = model.Verification{AgentID: ev.AgentID, VerifiedAt: &at, Notes: ev.Notes}
			a.ConfidenceScore = model.RoundScore(math.Max(model.MinScore, a.ConfidenceScore-30))
			return "physical verification failed", true, nil

		case model.VerificationRequiresCorrection:
			a.Verification.Notes = ev.Notes
			a.ConfidenceScore = model.RoundScore(math.Max(model.MinScore, a.ConfidenceScore-10))
			return "physical verification requires correction", true, nil
		}
		return "", false, &model.ErrValidation{Msg: fmt.Sprintf("unknown verification status %q", ev.Status)}
	})
}

// FlagForVerification marks the address as needing a field visit. Flagging
// an already flagged address is a no-op; physically verified addresses are
// refused with model.ErrAlreadyVerified.
func (e *TrustEngine) FlagForVerification(ctx context.Context, addressID uuid.UUID) (*model.DigitalAddress, error) {
	_, a, err := e.mutate(ctx, addressID, func(a *model.DigitalAddress) (string, bool, error) {
		if a.IsPhysicallyVerified() {
			return "", false, model.ErrAlreadyVerified
		}
		if a.NeedsVerification {
			return "already flagged", false, nil
		}
		a.NeedsVerification = true
		return "flagged for verification", true, nil
	})
	return a, err
}

// mutate runs fn against a fresh copy of the address and writes it back
// conditionally on the version read. fn reports whether it changed anything.
func (e *TrustEngine) mutate(ctx context.Context, addressID uuid.UUID, fn func(a *model.DigitalAddress) (reason string, changed bool, err error)) (*model.ScoreChange, *model.DigitalAddress, error) {
	for attempt := 0; attempt < maxScoreRetries; attempt++ {
		a, err := e.repo.GetByID(ctx, addressID)
		if err != nil {
			return nil, nil, err
		}
		change := &model.ScoreChange{
			Handle:        a.Handle,
			PreviousScore: a.ConfidenceScore,
			PreviousTier:  a.Tier,
		}
		reason, changed, err := fn(a)
		if err != nil {
			return nil, nil, err
		}
		change.Reason = reason
		change.NewScore = a.ConfidenceScore
		change.NewTier = a.Tier
		change.TotalFulfillments = a.TotalFulfillments
		if !changed {
			return change, a, nil
		}

		err = e.repo.Update(ctx, a)
		if errors.Is(err, model.ErrStaleVersion) {
			e.logger.Debug("score update lost race, retrying",
				zap.String("address_id", addressID.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return change, a, nil
	}
	return nil, nil, fmt.Errorf("update address %s: %w", addressID, model.ErrStaleVersion)
}
