package model

import "errors"

// ErrValidation is returned by service methods when the caller supplies invalid
// input. The handler maps it to 400 Bad Request.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

var (
	// ErrAddressNotFound is returned when no address matches the lookup.
	ErrAddressNotFound = errors.New("digital address not found")
	// ErrConsentNotFound is returned when no live consent matches the lookup.
	ErrConsentNotFound = errors.New("consent not found")
	// ErrDuplicateAddress is returned when the handle is already registered.
	ErrDuplicateAddress = errors.New("digital address already exists")
	// ErrForbidden is returned when the caller does not own the address.
	ErrForbidden = errors.New("you do not own this digital address")
	// ErrIdentityNotVerified is returned when an unverified user tries to
	// register an address.
	ErrIdentityNotVerified = errors.New("identity verification is required before creating a digital address")
	// ErrInvalidPIN is returned when a PIN does not match the active consent.
	ErrInvalidPIN = errors.New("invalid UPI PIN")
	// ErrNoActiveConsent is returned when the address has no live consent.
	ErrNoActiveConsent = errors.New("no active consent for this digital address")
	// ErrInvalidOrExpiredToken is returned when a consent token is unknown,
	// revoked or expired.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired consent token")
	// ErrTokenAddressMismatch is returned when a token belongs to another address.
	ErrTokenAddressMismatch = errors.New("consent token does not belong to this digital address")
	// ErrAddressVerified is returned when deleting a physically verified address.
	ErrAddressVerified = errors.New("physically verified addresses cannot be deleted")
	// ErrAlreadyVerified is returned when flagging a physically verified address.
	ErrAlreadyVerified = errors.New("digital address is already physically verified")
	// ErrStaleVersion is returned by conditional updates that lost a race.
	ErrStaleVersion = errors.New("digital address was modified concurrently")
	// ErrTokenTaken is returned when a generated consent token collides with
	// an active one at insert time.
	ErrTokenTaken = errors.New("consent token already in use")
)
