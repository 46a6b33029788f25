package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/auditledger"
	"github.com/resolutionconsent/digipin/internal/identity"
	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/registry/service"
)

// addressSvc is the owner-facing subset of *service.AddressService.
type addressSvc interface {
	CreateAddress(ctx context.Context, req *model.CreateAddressRequest) (*service.AddressResult, error)
	UpdateAddress(ctx context.Context, req *model.UpdateAddressRequest) (*service.AddressResult, error)
	ReissueConsent(ctx context.Context, ownerID uuid.UUID, h, pin string, ctype model.ConsentType, durationDays int) (*service.AddressResult, error)
	RevokeConsent(ctx context.Context, ownerID uuid.UUID, h string) (*service.AddressResult, error)
	DeleteAddress(ctx context.Context, ownerID uuid.UUID, h string) (bool, error)
	GetAddress(ctx context.Context, ownerID uuid.UUID, h string) (*model.AddressWithConsent, error)
	ListAddresses(ctx context.Context, ownerID uuid.UUID) ([]*model.AddressWithConsent, error)
	FlagForVerification(ctx context.Context, ownerID uuid.UUID, h, reason string) (*service.TrustResult, error)
	GetAuditHistory(ctx context.Context, ownerID uuid.UUID, h string) ([]*auditledger.Entry, error)
}

// AddressHandler serves the routes an address owner uses to manage their
// digital addresses and consents. Every route requires a user token.
type AddressHandler struct {
	base
	svc    addressSvc
	tokens *identity.UserTokenIssuer
}

// NewAddressHandler creates a new AddressHandler.
func NewAddressHandler(svc addressSvc, tokens *identity.UserTokenIssuer, logger *zap.Logger) *AddressHandler {
	return &AddressHandler{base: base{logger: logger}, svc: svc, tokens: tokens}
}

// Register mounts the owner routes on rg.
func (h *AddressHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/addresses", identity.RequireUserToken(h.tokens))
	{
		a.POST("", h.Create)
		a.GET("", h.List)
		a.GET("/:handle", h.Get)
		a.PUT("/:handle", h.Update)
		a.DELETE("/:handle", h.Delete)
		a.POST("/:handle/revoke-consent", h.RevokeConsent)
		a.POST("/:handle/reissue-consent", h.ReissueConsent)
		a.POST("/:handle/flag-verification", h.FlagVerification)
	}
	rg.GET("/audit/history/:handle", identity.RequireUserToken(h.tokens), h.AuditHistory)
}

// Create handles POST /addresses.
func (h *AddressHandler) Create(c *gin.Context) {
	var req model.CreateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := identity.UserClaimsFromCtx(c)
	req.OwnerUserID = identity.UserIDFromCtx(c)
	req.Username = claims.Username

	res, err := h.svc.CreateAddress(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "create address", err, nil)
		return
	}
	h.logger.Info("digital address created",
		zap.String("handle", res.Address.Handle),
		zap.String("owner", req.OwnerUserID.String()),
	)
	c.JSON(http.StatusCreated, res)
}

// List handles GET /addresses.
func (h *AddressHandler) List(c *gin.Context) {
	addrs, err := h.svc.ListAddresses(c.Request.Context(), identity.UserIDFromCtx(c))
	if err != nil {
		h.writeError(c, "list addresses", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addrs, "count": len(addrs)})
}

// Get handles GET /addresses/:handle.
func (h *AddressHandler) Get(c *gin.Context) {
	a, err := h.svc.GetAddress(c.Request.Context(), identity.UserIDFromCtx(c), c.Param("handle"))
	if err != nil {
		h.writeError(c, "get address", err, nil)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Update handles PUT /addresses/:handle. The current PIN is required and the
// consent is replaced, so previously shared tokens stop resolving.
func (h *AddressHandler) Update(c *gin.Context) {
	var req model.UpdateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.OwnerUserID = identity.UserIDFromCtx(c)
	req.Handle = c.Param("handle")

	res, err := h.svc.UpdateAddress(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "update address", err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Delete handles DELETE /addresses/:handle.
func (h *AddressHandler) Delete(c *gin.Context) {
	handle := c.Param("handle")
	logged, err := h.svc.DeleteAddress(c.Request.Context(), identity.UserIDFromCtx(c), handle)
	if err != nil {
		h.writeError(c, "delete address", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"digital_address": handle, "deleted": true, "audit_logged": logged})
}

// RevokeConsent handles POST /addresses/:handle/revoke-consent.
func (h *AddressHandler) RevokeConsent(c *gin.Context) {
	res, err := h.svc.RevokeConsent(c.Request.Context(), identity.UserIDFromCtx(c), c.Param("handle"))
	if err != nil {
		h.writeError(c, "revoke consent", err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

type reissueConsentRequest struct {
	PIN          string            `json:"upi_pin" binding:"required"`
	ConsentType  model.ConsentType `json:"consent_type"`
	DurationDays int               `json:"consent_duration_days"`
}

// ReissueConsent handles POST /addresses/:handle/reissue-consent.
func (h *AddressHandler) ReissueConsent(c *gin.Context) {
	var req reissueConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.ReissueConsent(c.Request.Context(), identity.UserIDFromCtx(c), c.Param("handle"),
		req.PIN, req.ConsentType, req.DurationDays)
	if err != nil {
		h.writeError(c, "reissue consent", err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// FlagVerification handles POST /addresses/:handle/flag-verification.
func (h *AddressHandler) FlagVerification(c *gin.Context) {
	var req flagRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := h.svc.FlagForVerification(c.Request.Context(), identity.UserIDFromCtx(c), c.Param("handle"), req.Reason)
	if err != nil {
		h.writeError(c, "flag for verification", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"digital_address":    res.Address.Handle,
		"needs_verification": res.Address.NeedsVerification,
		"verification_tier":  res.Address.Tier,
		"audit_logged":       res.AuditLogged,
	})
}

// AuditHistory handles GET /audit/history/:handle, newest entry first.
func (h *AddressHandler) AuditHistory(c *gin.Context) {
	handle := c.Param("handle")
	entries, err := h.svc.GetAuditHistory(c.Request.Context(), identity.UserIDFromCtx(c), handle)
	if err != nil {
		h.writeError(c, "audit history", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"digital_address": handle, "entries": entries, "count": len(entries)})
}
