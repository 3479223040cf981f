package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/seallifecycle"
)

// SealHandler serves the seal verification and execution endpoints.
type SealHandler struct {
	svc    *seallifecycle.Service
	logger *zap.Logger
}

// NewSealHandler creates a SealHandler.
func NewSealHandler(svc *seallifecycle.Service, logger *zap.Logger) *SealHandler {
	return &SealHandler{svc: svc, logger: logger}
}

// Register wires the seal routes onto the given group.
func (h *SealHandler) Register(rg *gin.RouterGroup) {
	sg := rg.Group("/seal")
	{
		sg.GET("/verify", h.Verify)
		sg.POST("/mark-executed", h.MarkExecuted)
	}
}

// Verify handles GET /v1/seal/verify?seal_id=....
func (h *SealHandler) Verify(c *gin.Context) {
	sealID := c.Query("seal_id")
	if sealID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seal_id is required"})
		return
	}

	result, err := h.svc.Verify(c.Request.Context(), sealID)
	if err != nil {
		writeSealError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"seal_id":          result.SealID,
		"valid":            result.Valid,
		"approved":         result.Approved,
		"expired":          result.Expired,
		"already_executed": result.AlreadyExecuted,
		"reason":           result.Reason,
		"manifest_id":      result.ManifestID,
	})
}

// MarkExecuted handles POST /v1/seal/mark-executed?seal_id=....
func (h *SealHandler) MarkExecuted(c *gin.Context) {
	sealID := c.Query("seal_id")
	if sealID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seal_id is required"})
		return
	}

	if err := h.svc.MarkExecuted(c.Request.Context(), sealID); err != nil {
		writeSealError(c, err)
		return
	}

	RecordSealExecuted()
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "seal " + sealID + " marked as executed",
	})
}

func writeSealError(c *gin.Context, err error) {
	var notFound *relayerr.NotFoundError
	var replay *relayerr.ReplayError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &replay):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
