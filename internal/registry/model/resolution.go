package model

import "time"

// ResolutionOutcome is recorded in the audit entry of every resolution attempt.
type ResolutionOutcome string

const (
	OutcomeSuccess         ResolutionOutcome = "SUCCESS"
	OutcomeAddressNotFound ResolutionOutcome = "ADDRESS_NOT_FOUND"
	OutcomeInvalidPIN      ResolutionOutcome = "INVALID_UPI_PIN"
	OutcomeNoActiveConsent ResolutionOutcome = "NO_ACTIVE_CONSENT"
	OutcomeInvalidToken    ResolutionOutcome = "INVALID_OR_EXPIRED_TOKEN"
	OutcomeTokenMismatch   ResolutionOutcome = "TOKEN_ADDRESS_MISMATCH"
	OutcomeError           ResolutionOutcome = "ERROR"
)

// Resolution is returned by every resolution attempt, successful or not.
// Coordinates are populated only on success.
type Resolution struct {
	Handle      string            `json:"digital_address"`
	Outcome     ResolutionOutcome `json:"outcome"`
	DigiPin     string            `json:"digipin,omitempty"`
	Latitude    float64           `json:"latitude,omitempty"`
	Longitude   float64           `json:"longitude,omitempty"`
	Address     string            `json:"address,omitempty"`
	ConsentType ConsentType       `json:"consent_type,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Confidence  float64           `json:"confidence_score,omitempty"`
	Tier        Tier              `json:"verification_tier,omitempty"`
	AuditKey    string            `json:"audit_key,omitempty"`
	AuditLogged bool              `json:"audit_logged"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}
