package model

import (
	"time"

	"github.com/google/uuid"
)

// ConsentType controls whether a consent expires.
type ConsentType string

const (
	ConsentPermanent ConsentType = "PERMANENT"
	ConsentTemporary ConsentType = "TEMPORARY"
)

// DefaultTemporaryDays applies to TEMPORARY consents created without a
// positive duration.
const DefaultTemporaryDays = 30

// ParseConsentType validates s. The empty string selects PERMANENT.
func ParseConsentType(s string) (ConsentType, error) {
	switch ConsentType(s) {
	case "":
		return ConsentPermanent, nil
	case ConsentPermanent, ConsentTemporary:
		return ConsentType(s), nil
	}
	return "", &ErrValidation{Msg: "consent_type must be PERMANENT or TEMPORARY"}
}

// Consent is the PIN-gated authorisation that permits disclosure of one
// address's coordinates. Rows are never deleted; superseded consents stay
// inactive for audit linkage.
type Consent struct {
	ID          uuid.UUID   `json:"id"                   db:"id"`
	OwnerUserID uuid.UUID   `json:"owner_user_id"        db:"owner_user_id"`
	AddressID   uuid.UUID   `json:"address_id"           db:"address_id"`
	PINHash     string      `json:"-"                    db:"pin_hash"`
	Type        ConsentType `json:"consent_type"         db:"consent_type"`
	Token       string      `json:"consent_token"        db:"token"`
	Active      bool        `json:"active"               db:"active"`
	CreatedAt   time.Time   `json:"created_at"           db:"created_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt   *time.Time  `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Expired reports whether a TEMPORARY consent is past its expiry at now.
func (c *Consent) Expired(now time.Time) bool {
	return c.Type == ConsentTemporary && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsLive reports whether c may authorise a resolution at now. An expired
// consent is not live even while its stored Active flag is still true.
func (c *Consent) IsLive(now time.Time) bool {
	return c.Active && !c.Expired(now)
}

// LinkStatus summarises the consent attached to an address.
type LinkStatus string

const (
	LinkActive  LinkStatus = "ACTIVE"
	LinkExpired LinkStatus = "EXPIRED"
	LinkNone    LinkStatus = "NONE"
)

// ConsentSummary is the owner-facing view of an address's consent.
type ConsentSummary struct {
	Status        LinkStatus  `json:"link_status"`
	Type          ConsentType `json:"consent_type,omitempty"`
	Token         string      `json:"consent_token,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	DaysRemaining *int        `json:"days_remaining,omitempty"`
}

// Summarize builds the owner-facing view of c at now. c may be nil.
func Summarize(c *Consent, now time.Time) ConsentSummary {
	if c == nil {
		return ConsentSummary{Status: LinkNone}
	}
	s := ConsentSummary{Type: c.Type, ExpiresAt: c.ExpiresAt}
	switch {
	case c.IsLive(now):
		s.Status = LinkActive
		s.Token = c.Token
	case c.Expired(now):
		s.Status = LinkExpired
	default:
		s.Status = LinkNone
	}
	if s.Status == LinkActive && c.ExpiresAt != nil {
		days := int(c.ExpiresAt.Sub(now).Hours() / 24)
		s.DaysRemaining = &days
	}
	return s
}

// AddressWithConsent pairs an address with its consent summary.
type AddressWithConsent struct {
	*DigitalAddress
	Consent ConsentSummary `json:"consent"`
}
