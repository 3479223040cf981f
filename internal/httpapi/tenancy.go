package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/tenancy"
)

// TenancyHandler serves org and agent registration/listing endpoints.
type TenancyHandler struct {
	svc  *tenancy.Service
	gate *authgate.Gate
	log  *zap.Logger
}

// NewTenancyHandler creates a TenancyHandler.
func NewTenancyHandler(svc *tenancy.Service, gate *authgate.Gate, log *zap.Logger) *TenancyHandler {
	return &TenancyHandler{svc: svc, gate: gate, log: log}
}

// Register wires the org/agent routes onto the given group.
func (h *TenancyHandler) Register(rg *gin.RouterGroup) {
	orgs := rg.Group("/orgs")
	{
		orgs.POST("/register", h.RegisterOrg)
		orgs.GET("/:org_id", h.gate.RequireToken(), h.GetOrg)
	}

	agents := rg.Group("/agents")
	{
		agents.POST("/register", h.gate.RequireToken(), h.RegisterAgent)
		agents.GET("", h.gate.RequireToken(), h.ListAgents)
	}
}

type registerOrgBody struct {
	Name         string `json:"name" binding:"required"`
	ContactEmail string `json:"contact_email"`
}

// RegisterOrg handles POST /v1/orgs/register.
func (h *TenancyHandler) RegisterOrg(c *gin.Context) {
	var body registerOrgBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.RegisterOrg(c.Request.Context(), body.Name, body.ContactEmail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := h.gate.Issue(result.AdminAgent.AgentID, result.Org.OrgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"org":         result.Org,
		"admin_agent": result.AdminAgent,
		"token":       token,
	})
}

// GetOrg handles GET /v1/orgs/:org_id — caller's own org only. Authenticated
// via h.gate.RequireToken(), which always enforces a token regardless of
// AuthRequired, since tenant isolation here depends on a caller org_id being
// present.
func (h *TenancyHandler) GetOrg(c *gin.Context) {
	orgID := c.Param("org_id")
	auth := authgate.FromCtx(c)

	org, err := h.svc.GetOrg(c.Request.Context(), auth.OrgID, orgID)
	if err != nil {
		var authzErr *relayerr.AuthzError
		switch {
		case errors.As(err, &authzErr):
			h.gate.LogAuthzFailure(c.Request.Context(), &auth.AgentID, &auth.OrgID, c.FullPath(), c.ClientIP(), err.Error())
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, tenancy.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load organization"})
		}
		return
	}

	c.JSON(http.StatusOK, org)
}

type registerAgentBody struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// RegisterAgent handles POST /v1/agents/register. Authenticated via
// h.gate.RequireToken().
func (h *TenancyHandler) RegisterAgent(c *gin.Context) {
	auth := authgate.FromCtx(c)

	var body registerAgentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.svc.RegisterAgent(c.Request.Context(), auth.OrgID, body.Name, body.Description)
	if err != nil {
		var authzErr *relayerr.AuthzError
		if errors.As(err, &authzErr) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, agent)
}

// ListAgents handles GET /v1/agents — lists the caller's org agents.
// Authenticated via h.gate.RequireToken().
func (h *TenancyHandler) ListAgents(c *gin.Context) {
	auth := authgate.FromCtx(c)

	agents, err := h.svc.ListAgents(c.Request.Context(), auth.OrgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}
	if agents == nil {
		agents = []*model.Agent{}
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}
