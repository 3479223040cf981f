package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/manifest"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
)

// policyHealthChecker is the narrow policy-client slice the health endpoint
// needs.
type policyHealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// ManifestHandler serves the manifest validation endpoints.
type ManifestHandler struct {
	svc    *manifest.Validator
	gate   *authgate.Gate
	policy policyHealthChecker
	logger *zap.Logger
}

// NewManifestHandler creates a ManifestHandler.
func NewManifestHandler(svc *manifest.Validator, gate *authgate.Gate, policy policyHealthChecker, logger *zap.Logger) *ManifestHandler {
	return &ManifestHandler{svc: svc, gate: gate, policy: policy, logger: logger}
}

// Register wires the manifest routes onto the given group.
func (h *ManifestHandler) Register(rg *gin.RouterGroup) {
	mg := rg.Group("/manifest")
	{
		mg.POST("/validate", h.Validate)
		mg.GET("/health", h.Health)
	}
}

type validateRequestBody struct {
	Agent         model.AgentContext  `json:"agent" binding:"required"`
	Action        model.ActionRequest `json:"action" binding:"required"`
	Justification model.Justification `json:"justification"`
	Environment   string              `json:"environment"`
	DryRun        bool                `json:"dry_run"`
}

// Validate handles POST /v1/manifest/validate.
func (h *ManifestHandler) Validate(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var body validateRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Agent.AgentID == "" || body.Agent.OrgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent.agent_id and agent.org_id are required"})
		return
	}
	if body.Action.Provider == "" || body.Action.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action.provider and action.method are required"})
		return
	}

	req := &manifest.SubmitRequest{
		Agent:         body.Agent,
		Action:        body.Action,
		Justification: body.Justification,
		Environment:   body.Environment,
		DryRun:        body.DryRun,
		RawDocument:   raw,
	}

	var auth *authgate.AuthContext
	if h.gate != nil {
		auth = authgate.FromCtx(c)
	}

	result, err := h.svc.Submit(c.Request.Context(), req, auth)
	if err != nil {
		writeManifestError(c, err)
		return
	}

	RecordManifestDecision(result.Approved)

	resp := gin.H{
		"manifest_id":    result.ManifestID,
		"approved":       result.Approved,
		"policy_version": result.PolicyVersion,
	}
	if result.Approved {
		resp["seal"] = result.Seal
	} else {
		resp["denial_reason"] = result.DenialReason
	}
	c.JSON(http.StatusOK, resp)
}

func writeManifestError(c *gin.Context, err error) {
	var policyErr *relayerr.PolicyEngineError
	var authzErr *relayerr.AuthzError
	switch {
	case errors.As(err, &policyErr):
		RecordPolicyEngineError()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &authzErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Health handles GET /v1/manifest/health — reports the policy evaluator's
// reachability without proxying its response body.
func (h *ManifestHandler) Health(c *gin.Context) {
	healthy := h.policy == nil || h.policy.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": map[bool]string{true: "ok", false: "unavailable"}[healthy]})
}
