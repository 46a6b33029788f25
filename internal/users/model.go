package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents a DigiPin account holder.
type User struct {
	ID                  uuid.UUID `json:"id"                db:"id"`
	Username            string    `json:"username"          db:"username"`
	Phone               string    `json:"phone_number"      db:"phone_number"`
	Email               string    `json:"email,omitempty"   db:"email"`
	PasswordHash        string    `json:"-"                 db:"password_hash"`
	IdentityVerified    bool      `json:"identity_verified" db:"identity_verified"`
	MaskedDocument      string    `json:"masked_document,omitempty" db:"masked_document"`
	DocumentFingerprint string    `json:"-"                 db:"document_fingerprint"`
	CreatedAt           time.Time `json:"created_at"        db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"        db:"updated_at"`
}

// Profile is the owner-facing view of an account.
type Profile struct {
	Username         string `json:"username"`
	Phone            string `json:"phone_number"`
	Email            string `json:"email,omitempty"`
	IdentityVerified bool   `json:"identity_verified"`
	MaskedDocument   string `json:"masked_document,omitempty"`
}

// SignupRequest is the input to Signup.
type SignupRequest struct {
	Username string `json:"username"     binding:"required"`
	Phone    string `json:"phone_number" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password"     binding:"required"`
}

// ResetPasswordRequest proves identity with the verified document instead of
// the old password.
type ResetPasswordRequest struct {
	EmailOrPhone    string `json:"email_or_phone"   binding:"required"`
	DocumentNumber  string `json:"document_number"  binding:"required"`
	DateOfBirth     string `json:"date_of_birth"    binding:"required"`
	NewPassword     string `json:"new_password"     binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}
