package users

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest password accepted.
const MinPasswordLen = 6

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,31}$`)
	documentPattern = regexp.MustCompile(`^[0-9]{12}$`)
)

var (
	// ErrInvalidInput wraps every request validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials is returned by Login for any unknown account or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyVerified is returned when an identity-verified user verifies again.
	ErrAlreadyVerified = errors.New("identity already verified")
	// ErrIdentityMismatch is returned when the document is unknown or the date of birth is wrong.
	ErrIdentityMismatch = errors.New("identity document or date of birth does not match")
	// ErrIdentityRequired is returned when a password reset is attempted on an
	// account that never verified its identity.
	ErrIdentityRequired = errors.New("identity verification required")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmailOrPhone(ctx context.Context, v string) (*User, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*User, error)
	SetIdentityVerified(ctx context.Context, userID uuid.UUID, masked, fingerprint string) error
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
}

// UserService implements business logic for user account management.
type UserService struct {
	repo     userRepo
	oracle   IdentityOracle
	pepper   []byte
	hashCost int
	logger   *zap.Logger
}

// NewUserService creates a new UserService. pepper keys the HMAC that
// fingerprints identity documents; the plain document number is never stored.
func NewUserService(repo userRepo, oracle IdentityOracle, pepper string, logger *zap.Logger) *UserService {
	return &UserService{
		repo:     repo,
		oracle:   oracle,
		pepper:   []byte(pepper),
		hashCost: bcrypt.DefaultCost,
		logger:   logger,
	}
}

// SetHashCost overrides the bcrypt cost used for password hashes.
func (s *UserService) SetHashCost(cost int) {
	s.hashCost = cost
}

// Signup creates a new account with password authentication.
func (s *UserService) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return nil, invalid("username must be 1-32 letters, digits or underscores and start with a letter or digit")
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, invalid("phone number is required")
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, invalid("invalid email format")
		}
	}
	if len(req.Password) < MinPasswordLen {
		return nil, invalid("password must be at least %d characters", MinPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Username:     username,
		Phone:        phone,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrDuplicatePhone):
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", u.ID.String()), zap.String("username", u.Username))
	return u, nil
}

// Login verifies email-or-phone and password credentials.
func (s *UserService) Login(ctx context.Context, emailOrPhone, password string) (*User, error) {
	u, err := s.repo.GetByEmailOrPhone(ctx, strings.TrimSpace(emailOrPhone))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// VerifyIdentity binds a government identity document to the user after the
// oracle confirms the document number and date of birth.
func (s *UserService) VerifyIdentity(ctx context.Context, userID uuid.UUID, documentNumber, dateOfBirth string) (*User, error) {
	dob, err := parseDocument(documentNumber, dateOfBirth)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IdentityVerified {
		return nil, ErrAlreadyVerified
	}

	fp := s.fingerprint(documentNumber)
	if other, err := s.repo.GetByFingerprint(ctx, fp); err == nil && other.ID != userID {
		return nil, ErrDocumentClaimed
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup document owner: %w", err)
	}

	ok, err := s.oracle.VerifyIdentity(ctx, documentNumber, dob)
	if err != nil {
		return nil, fmt.Errorf("identity oracle: %w", err)
	}
	if !ok {
		return nil, ErrIdentityMismatch
	}

	masked := maskDocument(documentNumber)
	if err := s.repo.SetIdentityVerified(ctx, userID, masked, fp); err != nil {
		return nil, err
	}
	u.IdentityVerified = true
	u.MaskedDocument = masked
	u.DocumentFingerprint = fp

	s.logger.Info("identity verified", zap.String("user_id", userID.String()))
	return u, nil
}

// IsIdentityVerified returns true if the user completed identity verification.
// Satisfies the registry service.IdentityChecker interface.
func (s *UserService) IsIdentityVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IdentityVerified, nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Profile returns the owner-facing view of the account.
func (s *UserService) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Username:         u.Username,
		Phone:            u.Phone,
		Email:            u.Email,
		IdentityVerified: u.IdentityVerified,
		MaskedDocument:   u.MaskedDocument,
	}, nil
}

// ContactEmail returns the user's email address, or "" when none is on file.
func (s *UserService) ContactEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// ResetPasswordWithIdentity sets a new password for an account that proves
// ownership with its verified identity document and date of birth.
func (s *UserService) ResetPasswordWithIdentity(ctx context.Context, req ResetPasswordRequest) error {
	if req.NewPassword != req.ConfirmPassword {
		return invalid("new password and confirm password do not match")
	}
	if len(req.NewPassword) < MinPasswordLen {
		return invalid("password must be at least %d characters", MinPasswordLen)
	}
	dob, err := parseDocument(req.DocumentNumber, req.DateOfBirth)
	if err != nil {
		return err
	}

	u, err := s.repo.GetByEmailOrPhone(ctx, strings.TrimSpace(req.EmailOrPhone))
	if err != nil {
		return err
	}
	if !u.IdentityVerified {
		return ErrIdentityRequired
	}
	if !hmac.Equal([]byte(u.DocumentFingerprint), []byte(s.fingerprint(req.DocumentNumber))) {
		return ErrIdentityMismatch
	}
	ok, err := s.oracle.VerifyIdentity(ctx, req.DocumentNumber, dob)
	if err != nil {
		return fmt.Errorf("identity oracle: %w", err)
	}
	if !ok {
		return ErrIdentityMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.SetPasswordHash(ctx, u.ID, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	s.logger.Info("password reset", zap.String("user_id", u.ID.String()))
	return nil
}

// fingerprint returns the hex HMAC-SHA256 of documentNumber under the pepper.
func (s *UserService) fingerprint(documentNumber string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(documentNumber))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseDocument(documentNumber, dateOfBirth string) (time.Time, error) {
	if !documentPattern.MatchString(documentNumber) {
		return time.Time{}, invalid("document number must be exactly 12 digits")
	}
	dob, err := time.Parse(DateLayout, dateOfBirth)
	if err != nil {
		return time.Time{}, invalid("date of birth must be YYYY-MM-DD")
	}
	return dob, nil
}

// maskDocument keeps only the last four digits.
func maskDocument(documentNumber string) string {
	return strings.Repeat("*", len(documentNumber)-4) + documentNumber[len(documentNumber)-4:]
}
