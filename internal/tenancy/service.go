package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
)

// Service implements org/agent registration: ID minting with a single
// collision-retry, admin-agent bootstrapping, and tenant-scoped listing.
type Service struct {
	repo *Repository
}

// NewService creates a Service over the given repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newOrgID() (string, error) {
	h, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return "org_" + h, nil
}

func newStandaloneAgentID() (string, error) {
	h, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return "agent_" + h, nil
}

func adminAgentID(orgID string) string {
	return fmt.Sprintf("agent_%s_admin", orgID)
}

// RegisterOrgResult is the outcome of registering a new organization: the
// org itself plus the admin agent created under it.
type RegisterOrgResult struct {
	Org        *model.Organization
	AdminAgent *model.Agent
}

// RegisterOrg creates a new organization with a freshly minted org_id
// (retried once on collision) and an admin agent_{org_id}_admin agent.
func (s *Service) RegisterOrg(ctx context.Context, name, contactEmail string) (*RegisterOrgResult, error) {
	var orgID string
	for attempt := 0; attempt < 2; attempt++ {
		id, err := newOrgID()
		if err != nil {
			return nil, relayerr.NewInternalError("generate org id", err)
		}
		exists, err := s.repo.OrgExists(ctx, id)
		if err != nil {
			return nil, relayerr.NewInternalError("check org id collision", err)
		}
		if !exists {
			orgID = id
			break
		}
	}
	if orgID == "" {
		return nil, relayerr.NewInternalError("generate org id", fmt.Errorf("exhausted collision retries"))
	}

	now := time.Now().UTC()
	org := &model.Organization{
		OrgID:        orgID,
		Name:         name,
		ContactEmail: contactEmail,
		CreatedAt:    now,
		Active:       true,
	}
	admin := &model.Agent{
		AgentID:     adminAgentID(orgID),
		OrgID:       orgID,
		Name:        "admin",
		Description: "organization administrator agent",
		CreatedAt:   now,
		Active:      true,
	}
	if err := s.repo.CreateOrgWithAdmin(ctx, org, admin); err != nil {
		return nil, relayerr.NewInternalError("create organization", err)
	}

	return &RegisterOrgResult{Org: org, AdminAgent: admin}, nil
}

// RegisterAgent creates a new standalone agent under callerOrgID, with a
// freshly minted agent_id (retried once on collision).
func (s *Service) RegisterAgent(ctx context.Context, callerOrgID, name, description string) (*model.Agent, error) {
	org, err := s.repo.GetOrg(ctx, callerOrgID)
	if err != nil {
		return nil, err
	}
	if !org.Active {
		return nil, relayerr.NewAuthzError("organization %s is not active", callerOrgID)
	}

	var agentID string
	for attempt := 0; attempt < 2; attempt++ {
		id, err := newStandaloneAgentID()
		if err != nil {
			return nil, relayerr.NewInternalError("generate agent id", err)
		}
		exists, err := s.repo.AgentExists(ctx, id)
		if err != nil {
			return nil, relayerr.NewInternalError("check agent id collision", err)
		}
		if !exists {
			agentID = id
			break
		}
	}
	if agentID == "" {
		return nil, relayerr.NewInternalError("generate agent id", fmt.Errorf("exhausted collision retries"))
	}

	agent := &model.Agent{
		AgentID:     agentID,
		OrgID:       callerOrgID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Active:      true,
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return nil, relayerr.NewInternalError("create agent", err)
	}
	return agent, nil
}

// ListAgents returns every agent in an org.
func (s *Service) ListAgents(ctx context.Context, orgID string) ([]*model.Agent, error) {
	return s.repo.ListAgentsByOrg(ctx, orgID)
}

// GetAgent retrieves a single agent, enforcing that it belongs to
// callerOrgID when callerOrgID is non-empty (authenticated caller).
func (s *Service) GetAgent(ctx context.Context, callerOrgID, agentID string) (*model.Agent, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if callerOrgID != "" && agent.OrgID != callerOrgID {
		return nil, relayerr.NewAuthzError("agent %s does not belong to your organization", agentID)
	}
	return agent, nil
}

// GetOrg retrieves an organization, enforcing that callerOrgID matches the
// requested orgID (the caller's own org only).
func (s *Service) GetOrg(ctx context.Context, callerOrgID, orgID string) (*model.Organization, error) {
	if callerOrgID != "" && callerOrgID != orgID {
		return nil, relayerr.NewAuthzError("cannot view organization %s", orgID)
	}
	return s.repo.GetOrg(ctx, orgID)
}
