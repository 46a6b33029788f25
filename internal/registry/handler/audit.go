package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/identity"
)

// auditSvc is the integrity-checking subset of *service.AddressService.
type auditSvc interface {
	VerifyAuditEntry(ctx context.Context, key string) (*auditledger.Entry, error)
	VerifyLedger(ctx context.Context) error
	AuditStatistics(ctx context.Context) (*auditledger.Stats, error)
}

// AuditHandler exposes integrity checks over the audit ledger.
type AuditHandler struct {
	base
	svc    auditSvc
	tokens *identity.UserTokenIssuer
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc auditSvc, tokens *identity.UserTokenIssuer, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{base: base{logger: logger}, svc: svc, tokens: tokens}
}

// Register mounts the audit routes on rg. Per-address history is served by
// AddressHandler because it is owner-scoped.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.POST("/verify", h.VerifyEntry)
		a.GET("/verify-chain", h.VerifyChain)
		a.GET("/stats", identity.RequireUserToken(h.tokens), h.Stats)
	}
}

type verifyEntryRequest struct {
	Key string `json:"audit_key" binding:"required"`
}

// VerifyEntry handles POST /audit/verify. A tampered entry is reported with
// 409 and tampered=true; an intact one is returned with its payload.
func (h *AuditHandler) VerifyEntry(c *gin.Context) {
	var req verifyEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.svc.VerifyAuditEntry(c.Request.Context(), req.Key)
	if err != nil {
		var tampered *auditledger.TamperedError
		if errors.As(err, &tampered) {
			h.logger.Warn("audit entry failed verification",
				zap.String("audit_key", tampered.Key),
				zap.String("reason", tampered.Reason),
			)
		}
		h.writeError(c, "verify audit entry", err, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "tampered": false, "entry": entry})
}

// VerifyChain handles GET /audit/verify-chain and walks the full chain.
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	if err := h.svc.VerifyLedger(c.Request.Context()); err != nil {
		var tampered *auditledger.TamperedError
		if !errors.As(err, &tampered) {
			h.writeError(c, "verify audit chain", err, nil)
			return
		}
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid":     false,
			"tampered":  true,
			"audit_key": tampered.Key,
			"error":     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Stats handles GET /audit/stats.
func (h *AuditHandler) Stats(c *gin.Context) {
	st, err := h.svc.AuditStatistics(c.Request.Context())
	if err != nil {
		h.writeError(c, "audit stats", err, nil)
		return
	}
	c.JSON(http.StatusOK, st)
}
