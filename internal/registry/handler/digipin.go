package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/geocodec"
)

// DigiPinHandler exposes the stateless geocodec over HTTP.
type DigiPinHandler struct {
	base
}

// NewDigiPinHandler creates a new DigiPinHandler.
func NewDigiPinHandler(logger *zap.Logger) *DigiPinHandler {
	return &DigiPinHandler{base: base{logger: logger}}
}

// Register mounts the codec routes on rg.
func (h *DigiPinHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/digipin", h.Encode)
	rg.GET("/digipin/:code", h.Decode)
}

// Encode handles GET /digipin?lat=&lon=.
func (h *DigiPinHandler) Encode(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat must be a number"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lon must be a number"})
		return
	}
	code, err := geocodec.Encode(lat, lon)
	if err != nil {
		h.writeError(c, "encode digipin", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"digipin": code, "latitude": lat, "longitude": lon})
}

// Decode handles GET /digipin/:code and returns the cell the code names.
func (h *DigiPinHandler) Decode(c *gin.Context) {
	cell, err := geocodec.Decode(c.Param("code"))
	if err != nil {
		h.writeError(c, "decode digipin", err, nil)
		return
	}
	lat, lon := cell.Center()
	c.JSON(http.StatusOK, gin.H{
		"digipin":   geocodec.Format(geocodec.Normalize(c.Param("code"))),
		"latitude":  lat,
		"longitude": lon,
		"cell":      cell,
	})
}
