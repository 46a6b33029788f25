package model

import (
	"fmt"
	"math"
	"time"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// FulfillmentStatus is the outcome of a delivery reported by a consumer.
type FulfillmentStatus string

const (
	FulfillmentSuccess FulfillmentStatus = "SUCCESS"
	FulfillmentFailure FulfillmentStatus = "FAILURE"
	FulfillmentNeutral FulfillmentStatus = "NEUTRAL"
)

// ParseFulfillmentStatus validates s.
func ParseFulfillmentStatus(s string) (FulfillmentStatus, error) {
	switch st := FulfillmentStatus(s); st {
	case FulfillmentSuccess, FulfillmentFailure, FulfillmentNeutral:
		return st, nil
	}
	return "", &ErrValidation{Msg: fmt.Sprintf("unknown fulfillment status %q", s)}
}

// Delta returns the score adjustment for st.
func (st FulfillmentStatus) Delta() float64 {
	switch st {
	case FulfillmentSuccess:
		return 10
	case FulfillmentFailure:
		return -15
	case FulfillmentNeutral:
		return -5
	}
	panic(fmt.Sprintf("unhandled fulfillment status %q", string(st)))
}

// VerificationStatus is the outcome of a physical verification visit.
type VerificationStatus string

const (
	VerificationVerified           VerificationStatus = "VERIFIED"
	VerificationFailed             VerificationStatus = "VERIFICATION_FAILED"
	VerificationRequiresCorrection VerificationStatus = "REQUIRES_CORRECTION"
)

// ParseVerificationStatus validates s.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	switch st := VerificationStatus(s); st {
	case VerificationVerified, VerificationFailed, VerificationRequiresCorrection:
		return st, nil
	}
	return "", &ErrValidation{Msg: fmt.Sprintf("unknown verification status %q", s)}
}

// VerificationEvent is a field agent's report on an address.
type VerificationEvent struct {
	Status            VerificationStatus `json:"verification_status"`
	LocationConfirmed bool               `json:"location_confirmed"`
	AgentID           string             `json:"agent_id"`
	Notes             string             `json:"notes"`
	At                time.Time          `json:"-"`
}

// ScoreChange describes one trust-engine mutation.
type ScoreChange struct {
	Handle            string  `json:"digital_address"`
	PreviousScore     float64 `json:"previous_score"`
	NewScore          float64 `json:"new_score"`
	PreviousTier      Tier    `json:"previous_tier"`
	NewTier           Tier    `json:"new_tier"`
	TotalFulfillments int     `json:"total_fulfillments"`
	Reason            string  `json:"reason"`
}

// ClampScore bounds s to [MinScore, MaxScore].
func ClampScore(s float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, s))
}

// RoundScore rounds s to two decimal places.
func RoundScore(s float64) float64 {
	return math.Round(s*100) / 100
}
