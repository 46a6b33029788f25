package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/resolutionconsent/digipin/internal/registry/model"
)

var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

// maxTokenAttempts bounds the retry loop that picks an unused consent token.
const maxTokenAttempts = 10

// consentRepo is the persistence interface for consents.
// *repository.ConsentRepository satisfies this interface.
type consentRepo interface {
	ReplaceActive(ctx context.Context, c *model.Consent, moved *model.DigitalAddress) (*model.Consent, error)
	GetActiveByAddress(ctx context.Context, addressID uuid.UUID) (*model.Consent, error)
	GetActiveByToken(ctx context.Context, token string) (*model.Consent, error)
	TokenActive(ctx context.Context, token string) (bool, error)
	Deactivate(ctx context.Context, consentID, addressID uuid.UUID, revokedAt *time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Consent, error)
}

// ConsentManager gates disclosure of coordinates behind a PIN and keeps at
// most one active consent per address.
type ConsentManager struct {
	repo        consentRepo
	defaultDays int
	hashCost    int
	now         func() time.Time
	onExpire    func(ctx context.Context, c *model.Consent) // nil = no hook
	logger      *zap.Logger
}

// NewConsentManager creates a ConsentManager.
func NewConsentManager(repo consentRepo, logger *zap.Logger) *ConsentManager {
	return &ConsentManager{
		repo:        repo,
		defaultDays: model.DefaultTemporaryDays,
		hashCost:    bcrypt.DefaultCost,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// SetDefaultDurationDays overrides the lifetime of TEMPORARY consents
// created without a positive duration.
func (m *ConsentManager) SetDefaultDurationDays(days int) {
	if days > 0 {
		m.defaultDays = days
	}
}

// SetHashCost overrides the bcrypt cost used for PIN hashes.
func (m *ConsentManager) SetHashCost(cost int) {
	m.hashCost = cost
}

// SetClock replaces the time source.
func (m *ConsentManager) SetClock(now func() time.Time) {
	m.now = now
}

// SetExpiryHook registers fn to run after a consent is lazily deactivated.
func (m *ConsentManager) SetExpiryHook(fn func(ctx context.Context, c *model.Consent)) {
	m.onExpire = fn
}

// ValidatePIN checks that pin is exactly six decimal digits.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return &model.ErrValidation{Msg: "UPI PIN must be exactly 6 digits"}
	}
	return nil
}

// CreateOrReplace makes a new consent the single active consent of
// addressID, deactivating the previous one in the same transaction.
func (m *ConsentManager) CreateOrReplace(ctx context.Context, ownerID, addressID uuid.UUID, pin string, ctype model.ConsentType, durationDays int) (*model.Consent, error) {
	return m.replace(ctx, ownerID, addressID, pin, ctype, durationDays, nil)
}

// ReplaceWithUpdate persists the edited address a and swaps in a new consent
// as one unit: either both are written or neither is. a.Version must match
// the stored row.
func (m *ConsentManager) ReplaceWithUpdate(ctx context.Context, a *model.DigitalAddress, pin string, ctype model.ConsentType, durationDays int) (*model.Consent, error) {
	return m.replace(ctx, a.OwnerUserID, a.ID, pin, ctype, durationDays, a)
}

func (m *ConsentManager) replace(ctx context.Context, ownerID, addressID uuid.UUID, pin string, ctype model.ConsentType, durationDays int, moved *model.DigitalAddress) (*model.Consent, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	ctype, err := model.ParseConsentType(string(ctype))
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), m.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	now := m.now()
	var expiresAt *time.Time
	if ctype == model.ConsentTemporary {
		days := durationDays
		if days <= 0 {
			days = m.defaultDays
		}
		t := now.Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &t
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		taken, err := m.repo.TokenActive(ctx, token)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		c := &model.Consent{
			OwnerUserID: ownerID,
			AddressID:   addressID,
			PINHash:     string(hash),
			Type:        ctype,
			Token:       token,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		}
		prev, err := m.repo.ReplaceActive(ctx, c, moved)
		if errors.Is(err, model.ErrTokenTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if prev != nil {
			m.logger.Debug("consent superseded",
				zap.String("address_id", addressID.String()),
				zap.String("previous_consent_id", prev.ID.String()),
			)
		}
		return c, nil
	}
	return nil, fmt.Errorf("allocate consent token: no free token after %d attempts", maxTokenAttempts)
}

// VerifyPIN reports whether pin unlocks the active consent of addressID.
// It returns false, not an error, when there is no live consent or the PIN
// is wrong.
func (m *ConsentManager) VerifyPIN(ctx context.Context, addressID uuid.UUID, pin string) (bool, error) {
	c, err := m.GetActive(ctx, addressID)
	if errors.Is(err, model.ErrConsentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return checkPIN(c, pin)
}

// ResolveByToken returns the live consent that carries token.
func (m *ConsentManager) ResolveByToken(ctx context.Context, token string) (*model.Consent, error) {
	c, err := m.repo.GetActiveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return m.live(ctx, c)
}

// GetActive returns the live consent of addressID, or model.ErrConsentNotFound.
func (m *ConsentManager) GetActive(ctx context.Context, addressID uuid.UUID) (*model.Consent, error) {
	c, err := m.repo.GetActiveByAddress(ctx, addressID)
	if err != nil {
		return nil, err
	}
	return m.live(ctx, c)
}

// MatchPIN compares pin against the hash held by c in constant time.
func (m *ConsentManager) MatchPIN(c *model.Consent, pin string) (bool, error) {
	return checkPIN(c, pin)
}

// Summary describes the consent currently attached to addressID. An expired
// consent is reported as EXPIRED once and then lazily deactivated.
func (m *ConsentManager) Summary(ctx context.Context, addressID uuid.UUID) (model.ConsentSummary, error) {
	c, err := m.repo.GetActiveByAddress(ctx, addressID)
	if errors.Is(err, model.ErrConsentNotFound) {
		return model.Summarize(nil, m.now()), nil
	}
	if err != nil {
		return model.ConsentSummary{}, err
	}
	s := model.Summarize(c, m.now())
	if s.Status == model.LinkExpired {
		_, _ = m.live(ctx, c)
	}
	return s, nil
}

// Revoke deactivates the live consent of addressID and returns it.
func (m *ConsentManager) Revoke(ctx context.Context, addressID uuid.UUID) (*model.Consent, error) {
	c, err := m.GetActive(ctx, addressID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := m.repo.Deactivate(ctx, c.ID, c.AddressID, &now); err != nil {
		return nil, fmt.Errorf("revoke consent: %w", err)
	}
	c.Active = false
	c.RevokedAt = &now
	return c, nil
}

// SweepExpired deactivates up to limit consents that are still flagged
// active past their expiry, firing the expiry hook for each, and returns how
// many were swept. Resolution never depends on it; lazy expiry already hides
// expired consents.
func (m *ConsentManager) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := m.repo.ListExpired(ctx, m.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired consents: %w", err)
	}
	n := 0
	for _, c := range expired {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := m.live(ctx, c); errors.Is(err, model.ErrConsentNotFound) && !c.Active {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("expired consents swept", zap.Int("count", n))
	}
	return n, nil
}

// live applies lazy expiry: an expired consent is deactivated, the address
// pointer cleared, and model.ErrConsentNotFound returned.
func (m *ConsentManager) live(ctx context.Context, c *model.Consent) (*model.Consent, error) {
	if c.IsLive(m.now()) {
		return c, nil
	}
	if err := m.repo.Deactivate(ctx, c.ID, c.AddressID, nil); err != nil {
		m.logger.Warn("deactivate expired consent (non-fatal)",
			zap.String("consent_id", c.ID.String()),
			zap.Error(err),
		)
	} else {
		c.Active = false
		if m.onExpire != nil {
			m.onExpire(ctx, c)
		}
	}
	return nil, model.ErrConsentNotFound
}

func checkPIN(c *model.Consent, pin string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(c.PINHash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare pin: %w", err)
	}
	return true, nil
}

// generateToken returns six random decimal digits.
func generateToken() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate consent token: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
