package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/ledger"
	"github.com/relayhq/relay/internal/model"
)

// auditRecord flattens a ledger.Record into the wire shape the original
// audit query returns: the manifest fields alongside the decision fields
// from its joined seal. Decision fields are omitted when the manifest has
// no seal (a dry-run submission never writes one).
type auditRecord struct {
	*model.Manifest
	SealID        *string `json:"seal_id,omitempty"`
	Approved      *bool   `json:"approved,omitempty"`
	PolicyVersion *string `json:"policy_version,omitempty"`
	DenialReason  *string `json:"denial_reason,omitempty"`
	WasExecuted   *bool   `json:"was_executed,omitempty"`
}

func toAuditRecords(records []*ledger.Record) []*auditRecord {
	out := make([]*auditRecord, len(records))
	for i, r := range records {
		out[i] = &auditRecord{
			Manifest:      r.Manifest,
			SealID:        r.SealID,
			Approved:      r.Approved,
			PolicyVersion: r.PolicyVersion,
			DenialReason:  r.DenialReason,
			WasExecuted:   r.WasExecuted,
		}
	}
	return out
}

// AuditHandler serves the read-only audit query/stats endpoints.
type AuditHandler struct {
	ledger *ledger.Ledger
	gate   *authgate.Gate
	log    *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(led *ledger.Ledger, gate *authgate.Gate, log *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: led, gate: gate, log: log}
}

// Register wires the audit routes onto the given group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	ag := rg.Group("/audit")
	{
		ag.GET("/query", h.gate.Middleware(), h.Query)
		ag.GET("/stats", h.gate.Middleware(), h.Stats)
	}
}

// Query handles GET /v1/audit/query.
func (h *AuditHandler) Query(c *gin.Context) {
	f := ledger.QueryFilter{
		OrgID:    c.Query("org_id"),
		AgentID:  c.Query("agent_id"),
		Provider: c.Query("provider"),
	}
	if v := c.Query("approved_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "approved_only must be a boolean"})
			return
		}
		f.ApprovedOnly = &b
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	// Tenant scoping is non-optional: an authenticated caller's org_id
	// always overrides whatever org_id was supplied in the query string.
	if auth := authgate.FromCtx(c); auth != nil {
		f.OrgID = auth.OrgID
	}

	records, err := h.ledger.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}

	manifests := toAuditRecords(records)
	c.JSON(http.StatusOK, gin.H{"manifests": manifests, "count": len(manifests)})
}

// Stats handles GET /v1/audit/stats.
func (h *AuditHandler) Stats(c *gin.Context) {
	orgID := c.Query("org_id")
	if auth := authgate.FromCtx(c); auth != nil {
		orgID = auth.OrgID
	}

	stats, err := h.ledger.StatsFor(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute audit stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
