package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/registry/service"
)

// resolveSvc is the consumer-facing subset of *service.AddressService.
type resolveSvc interface {
	ResolveWithPIN(ctx context.Context, h, pin, requester string) (*model.Resolution, error)
	ResolveWithToken(ctx context.Context, h, token, requester string) (*model.Resolution, error)
	SubmitFulfillmentFeedback(ctx context.Context, h string, status model.FulfillmentStatus, requester string) (*service.TrustResult, error)
	SubmitVerificationEvent(ctx context.Context, h string, ev model.VerificationEvent) (*service.TrustResult, error)
	Eligibility(ctx context.Context, h string) (*model.Eligibility, error)
}

// ResolveHandler serves consent-gated resolution, delivery feedback and
// field verification routes.
type ResolveHandler struct {
	base
	svc         resolveSvc
	verifierKey string
}

// NewResolveHandler creates a new ResolveHandler.
func NewResolveHandler(svc resolveSvc, logger *zap.Logger) *ResolveHandler {
	return &ResolveHandler{base: base{logger: logger}, svc: svc}
}

// SetVerifierKey requires verification submissions to present key in the
// X-Verifier-Key header. An empty key leaves the route open.
func (h *ResolveHandler) SetVerifierKey(key string) {
	h.verifierKey = key
}

// Register mounts the routes on rg. resolveLimit guards the PIN and token
// routes, which are the brute-force surface; it may be nil.
func (h *ResolveHandler) Register(rg *gin.RouterGroup, resolveLimit gin.HandlerFunc) {
	r := rg.Group("/resolve")
	if resolveLimit != nil {
		r.Use(resolveLimit)
	}
	{
		r.POST("", h.ResolveWithPIN)
		r.POST("/token", h.ResolveWithToken)
	}
	rg.POST("/feedback", h.Feedback)
	rg.GET("/addresses/:handle/confidence", h.Confidence)

	v := rg.Group("/verifications")
	{
		v.POST("", h.requireVerifier(), h.SubmitVerification)
		v.GET("/:handle", h.VerificationStatus)
	}
}

func (h *ResolveHandler) requireVerifier() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.verifierKey == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Verifier-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.verifierKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "verifier key required"})
			return
		}
		c.Next()
	}
}

type resolvePINRequest struct {
	Handle    string `json:"digital_address" binding:"required"`
	PIN       string `json:"upi_pin"         binding:"required"`
	Requester string `json:"requester"`
}

type resolveTokenRequest struct {
	Handle    string `json:"digital_address" binding:"required"`
	Token     string `json:"consent_token"   binding:"required"`
	Requester string `json:"requester"`
}

// ResolveWithPIN handles POST /resolve.
func (h *ResolveHandler) ResolveWithPIN(c *gin.Context) {
	var req resolvePINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	res, err := h.svc.ResolveWithPIN(c.Request.Context(), req.Handle, req.PIN, req.Requester)
	h.respondResolution(c, "pin", start, res, err)
}

// ResolveWithToken handles POST /resolve/token.
func (h *ResolveHandler) ResolveWithToken(c *gin.Context) {
	var req resolveTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	res, err := h.svc.ResolveWithToken(c.Request.Context(), req.Handle, req.Token, req.Requester)
	h.respondResolution(c, "token", start, res, err)
}

func (h *ResolveHandler) respondResolution(c *gin.Context, method string, start time.Time, res *model.Resolution, err error) {
	outcome := model.OutcomeError
	if res != nil {
		outcome = res.Outcome
		RecordAuditAppend(res.AuditLogged)
	}
	RecordResolution(method, string(outcome), time.Since(start))

	if err != nil {
		extra := gin.H{"outcome": outcome, "audit_logged": false}
		if res != nil {
			extra["digital_address"] = res.Handle
			extra["audit_logged"] = res.AuditLogged
			if res.AuditKey != "" {
				extra["audit_key"] = res.AuditKey
			}
		}
		h.writeError(c, "resolve address", err, extra)
		return
	}
	c.JSON(http.StatusOK, res)
}

type feedbackRequest struct {
	Handle    string `json:"digital_address"    binding:"required"`
	Status    string `json:"fulfillment_status" binding:"required"`
	Requester string `json:"requester"`
}

// Feedback handles POST /feedback.
func (h *ResolveHandler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := model.ParseFulfillmentStatus(req.Status)
	if err != nil {
		h.writeError(c, "feedback", err, nil)
		return
	}
	res, err := h.svc.SubmitFulfillmentFeedback(c.Request.Context(), req.Handle, status, req.Requester)
	if err != nil {
		h.writeError(c, "feedback", err, nil)
		return
	}
	RecordAuditAppend(res.AuditLogged)
	c.JSON(http.StatusOK, res)
}

// Confidence handles GET /addresses/:handle/confidence.
func (h *ResolveHandler) Confidence(c *gin.Context) {
	e, err := h.svc.Eligibility(c.Request.Context(), c.Param("handle"))
	if err != nil {
		h.writeError(c, "confidence", err, nil)
		return
	}
	c.JSON(http.StatusOK, e)
}

type verificationRequest struct {
	Handle            string `json:"digital_address"     binding:"required"`
	Status            string `json:"verification_status" binding:"required"`
	LocationConfirmed bool   `json:"location_confirmed"`
	AgentID           string `json:"agent_id"`
	Notes             string `json:"notes"`
}

// SubmitVerification handles POST /verifications from a field agent.
func (h *ResolveHandler) SubmitVerification(c *gin.Context) {
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := model.ParseVerificationStatus(req.Status)
	if err != nil {
		h.writeError(c, "verification", err, nil)
		return
	}
	res, err := h.svc.SubmitVerificationEvent(c.Request.Context(), req.Handle, model.VerificationEvent{
		Status:            status,
		LocationConfirmed: req.LocationConfirmed,
		AgentID:           req.AgentID,
		Notes:             req.Notes,
	})
	if err != nil {
		h.writeError(c, "verification", err, nil)
		return
	}
	RecordAuditAppend(res.AuditLogged)
	c.JSON(http.StatusOK, gin.H{
		"change":            res.Change,
		"verification":      res.Address.Verification,
		"verification_tier": res.Address.Tier,
		"audit_logged":      res.AuditLogged,
	})
}

// VerificationStatus handles GET /verifications/:handle.
func (h *ResolveHandler) VerificationStatus(c *gin.Context) {
	e, err := h.svc.Eligibility(c.Request.Context(), c.Param("handle"))
	if err != nil {
		h.writeError(c, "verification status", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"digital_address":        e.Handle,
		"verification_tier":      e.Tier,
		"is_physically_verified": e.PhysicallyVerified,
		"needs_verification":     e.NeedsVerification,
	})
}
