package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the verification level of a digital address.
type Tier string

const (
	// TierBasic is the starting tier of every address.
	TierBasic Tier = "BASIC"
	// TierBasicPlusScore is an unverified address whose confidence score has
	// reached the trusted threshold through fulfillment feedback.
	TierBasicPlusScore Tier = "BASIC_PLUS_SCORE"
	// TierPhysicallyVerified is set by a successful field verification.
	TierPhysicallyVerified Tier = "PHYSICALLY_VERIFIED"
)

// DefaultConfidenceScore is assigned to every new address.
const DefaultConfidenceScore = 50.0

// Verification records the outcome of the latest physical verification.
type Verification struct {
	AgentID    string     `json:"agent_id,omitempty"    db:"verified_by"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	Notes      string     `json:"notes,omitempty"       db:"verification_notes"`
}

// DigitalAddress is a registered location addressable as username@suffix.
type DigitalAddress struct {
	ID                uuid.UUID    `json:"id"                          db:"id"`
	Handle            string       `json:"digital_address"             db:"handle"`
	Suffix            string       `json:"suffix"                      db:"suffix"`
	DigiPin           string       `json:"digipin"                     db:"digipin"`
	Latitude          float64      `json:"latitude"                    db:"latitude"`
	Longitude         float64      `json:"longitude"                   db:"longitude"`
	Address           string       `json:"address"                     db:"address"`
	AddressName       string       `json:"address_name,omitempty"      db:"address_name"`
	PinCode           string       `json:"pin_code,omitempty"          db:"pin_code"`
	Purpose           string       `json:"purpose,omitempty"           db:"purpose"`
	ConfidenceScore   float64      `json:"confidence_score"            db:"confidence_score"`
	TotalFulfillments int          `json:"total_fulfillments"          db:"total_fulfillments"`
	Tier              Tier         `json:"verification_tier"           db:"tier"`
	Verification      Verification `json:"verification"`
	NeedsVerification bool         `json:"needs_verification"          db:"needs_verification"`
	ActiveConsentID   *uuid.UUID   `json:"active_consent_id,omitempty" db:"active_consent_id"`
	OwnerUserID       uuid.UUID    `json:"owner_user_id"               db:"owner_user_id"`
	Version           int64        `json:"-"                           db:"version"`
	CreatedAt         time.Time    `json:"created_at"                  db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"                  db:"updated_at"`
}

// IsPhysicallyVerified reports whether a field agent confirmed the location.
func (a *DigitalAddress) IsPhysicallyVerified() bool {
	return a.Tier == TierPhysicallyVerified
}

// Clone returns a copy that shares no pointers with a.
func (a *DigitalAddress) Clone() *DigitalAddress {
	c := *a
	if a.ActiveConsentID != nil {
		id := *a.ActiveConsentID
		c.ActiveConsentID = &id
	}
	if a.Verification.VerifiedAt != nil {
		t := *a.Verification.VerifiedAt
		c.Verification.VerifiedAt = &t
	}
	return &c
}

// CreateAddressRequest is the payload for registering a new digital address.
type CreateAddressRequest struct {
	Suffix       string      `json:"suffix"        binding:"required"`
	Latitude     float64     `json:"latitude"`
	Longitude    float64     `json:"longitude"`
	Address      string      `json:"address"       binding:"required"`
	AddressName  string      `json:"address_name"`
	PinCode      string      `json:"pin_code"`
	Purpose      string      `json:"purpose"`
	PIN          string      `json:"upi_pin"       binding:"required"`
	ConsentType  ConsentType `json:"consent_type"`
	DurationDays int         `json:"consent_duration_days"`

	// Set by the handler from the user token; never from the client body.
	OwnerUserID uuid.UUID `json:"-"`
	Username    string    `json:"-"`
}

// UpdateAddressRequest replaces the coordinates and consent of an address.
// PIN must match the current consent; NewPIN, when set, becomes the PIN of
// the replacement consent.
type UpdateAddressRequest struct {
	Latitude     float64     `json:"latitude"`
	Longitude    float64     `json:"longitude"`
	Address      string      `json:"address"`
	AddressName  string      `json:"address_name"`
	PinCode      string      `json:"pin_code"`
	Purpose      string      `json:"purpose"`
	PIN          string      `json:"upi_pin"       binding:"required"`
	NewPIN       string      `json:"new_upi_pin"`
	ConsentType  ConsentType `json:"consent_type"`
	DurationDays int         `json:"consent_duration_days"`

	OwnerUserID uuid.UUID `json:"-"`
	Handle      string    `json:"-"`
}
