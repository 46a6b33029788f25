package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/geocodec"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/users"
)

// statusFor maps a service error to its HTTP status. ok is false for
// errors with no client-facing meaning, which are reported as 500.
func statusFor(err error) (status int, ok bool) {
	var valErr *model.ErrValidation
	var rangeErr *geocodec.RangeError
	switch {
	case errors.As(err, &valErr), errors.As(err, &rangeErr),
		errors.Is(err, geocodec.ErrInvalidCode), errors.Is(err, users.ErrInvalidInput):
		return http.StatusBadRequest, true

	case errors.Is(err, model.ErrAddressNotFound), errors.Is(err, model.ErrConsentNotFound),
		errors.Is(err, auditledger.ErrNotFound), errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound, true

	case errors.Is(err, model.ErrInvalidPIN), errors.Is(err, model.ErrInvalidOrExpiredToken),
		errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, users.ErrIdentityMismatch):
		return http.StatusUnauthorized, true

	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrIdentityNotVerified),
		errors.Is(err, model.ErrNoActiveConsent), errors.Is(err, model.ErrTokenAddressMismatch),
		errors.Is(err, users.ErrIdentityRequired):
		return http.StatusForbidden, true

	case errors.Is(err, model.ErrDuplicateAddress), errors.Is(err, model.ErrAddressVerified),
		errors.Is(err, model.ErrAlreadyVerified), errors.Is(err, model.ErrStaleVersion),
		errors.Is(err, users.ErrDuplicateUsername), errors.Is(err, users.ErrDuplicateEmail),
		errors.Is(err, users.ErrDuplicatePhone), errors.Is(err, users.ErrDocumentClaimed),
		errors.Is(err, users.ErrAlreadyVerified):
		return http.StatusConflict, true
	}
	return http.StatusInternalServerError, false
}

// writeError writes err as a JSON error body. extra fields are merged into
// the body so resolution errors can carry audit_logged.
func (b *base) writeError(c *gin.Context, op string, err error, extra gin.H) {
	status, ok := statusFor(err)
	body := gin.H{}
	for k, v := range extra {
		body[k] = v
	}

	var tampered *auditledger.TamperedError
	if errors.As(err, &tampered) {
		status, ok = http.StatusConflict, true
		body["tampered"] = true
		body["audit_key"] = tampered.Key
	}

	if ok {
		body["error"] = err.Error()
	} else {
		b.logger.Error(op, zap.Error(err))
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

// base carries the dependencies shared by every handler.
type base struct {
	logger *zap.Logger
}
