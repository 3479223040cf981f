// Package client provides the relay Go SDK for submitting manifests,
// verifying and executing seals, and managing orgs/agents over the relay
// HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AgentContext identifies the calling agent and its organization.
type AgentContext struct {
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
	UserID  string `json:"user_id,omitempty"`
}

// ActionRequest describes the downstream action a manifest requests.
type ActionRequest struct {
	Provider   string          `json:"provider"`
	Method     string          `json:"method"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Justification carries the agent's stated reasoning for the action.
type Justification struct {
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ValidateRequest is the payload for ValidateManifest. Environment is a
// top-level field, a sibling of Justification rather than nested in it,
// matching the server-side manifest model.
type ValidateRequest struct {
	Agent         AgentContext  `json:"agent"`
	Action        ActionRequest `json:"action"`
	Justification Justification `json:"justification,omitempty"`
	Environment   string        `json:"environment,omitempty"`
	DryRun        bool          `json:"dry_run,omitempty"`
}

// Seal is the signed decision record returned for an approved manifest.
type Seal struct {
	SealID        string  `json:"seal_id"`
	ManifestID    string  `json:"manifest_id"`
	Approved      bool    `json:"approved"`
	PolicyVersion string  `json:"policy_version"`
	DenialReason  *string `json:"denial_reason,omitempty"`
	Signature     string  `json:"signature"`
	PublicKey     string  `json:"public_key"`
	IssuedAt      string  `json:"issued_at"`
	ExpiresAt     string  `json:"expires_at"`
	Executed      bool    `json:"executed"`
}

// ValidateResult is the response from ValidateManifest.
type ValidateResult struct {
	ManifestID    string  `json:"manifest_id"`
	Approved      bool    `json:"approved"`
	PolicyVersion string  `json:"policy_version"`
	Seal          *Seal   `json:"seal,omitempty"`
	DenialReason  *string `json:"denial_reason,omitempty"`
}

// SealVerification is the response from VerifySeal.
type SealVerification struct {
	SealID           string `json:"seal_id"`
	Valid            bool   `json:"valid"`
	Approved         bool   `json:"approved"`
	Expired          bool   `json:"expired"`
	AlreadyExecuted  bool   `json:"already_executed"`
	Reason           string `json:"reason,omitempty"`
	ManifestID       string `json:"manifest_id"`
}

// Organization is the org record returned by RegisterOrg/GetOrg.
type Organization struct {
	OrgID        string `json:"org_id"`
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email,omitempty"`
	Active       bool   `json:"active"`
}

// Agent is the agent record returned by RegisterAgent/ListAgents.
type Agent struct {
	AgentID     string `json:"agent_id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// RegisterOrgResult is the response from RegisterOrg.
type RegisterOrgResult struct {
	Org        Organization `json:"org"`
	AdminAgent Agent        `json:"admin_agent"`
	Token      string       `json:"token"`
}

// AuditStats is the response from Stats.
type AuditStats struct {
	TotalManifests int     `json:"total_manifests"`
	Approved       int     `json:"approved"`
	Denied         int     `json:"denied"`
	Executed       int     `json:"executed"`
	ApprovalRate   float64 `json:"approval_rate"`
}

// AuditQueryFilter narrows a Query call. Zero values are omitted.
type AuditQueryFilter struct {
	OrgID        string
	AgentID      string
	Provider     string
	ApprovedOnly *bool
	Limit        int
	Offset       int
}

// Client is the relay SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a pre-obtained bearer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// New creates a new relay SDK Client connected to baseURL.
//
//	c := client.MustNew("https://relay.example.com", client.WithBearerToken(token))
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ValidateManifest submits a manifest for policy evaluation and, if
// approved, returns the minted seal.
func (c *Client) ValidateManifest(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/manifest/validate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result ValidateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	return &result, nil
}

// VerifySeal checks a seal's signature and lifecycle state without
// consuming it.
func (c *Client) VerifySeal(ctx context.Context, sealID string) (*SealVerification, error) {
	u := c.baseURL + "/v1/seal/verify?seal_id=" + url.QueryEscape(sealID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result SealVerification
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &result, nil
}

// MarkSealExecuted consumes a seal, marking the downstream action as
// executed. Returns an error if the seal was already executed.
func (c *Client) MarkSealExecuted(ctx context.Context, sealID string) error {
	u := c.baseURL + "/v1/seal/mark-executed?seal_id=" + url.QueryEscape(sealID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	_, err = c.do(httpReq)
	return err
}

// RegisterOrg creates a new organization and its default admin agent,
// returning a bearer token authenticated as that admin agent.
func (c *Client) RegisterOrg(ctx context.Context, name, contactEmail string) (*RegisterOrgResult, error) {
	payload, err := json.Marshal(map[string]string{"name": name, "contact_email": contactEmail})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orgs/register", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result RegisterOrgResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode register-org response: %w", err)
	}
	return &result, nil
}

// GetOrg fetches the caller's own organization record. Requires
// WithBearerToken.
func (c *Client) GetOrg(ctx context.Context, orgID string) (*Organization, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orgs/"+url.PathEscape(orgID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var org Organization
	if err := json.Unmarshal(body, &org); err != nil {
		return nil, fmt.Errorf("decode org response: %w", err)
	}
	return &org, nil
}

// RegisterAgent registers a new agent under the caller's organization.
// Requires WithBearerToken.
func (c *Client) RegisterAgent(ctx context.Context, name, description string) (*Agent, error) {
	payload, err := json.Marshal(map[string]string{"name": name, "description": description})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agents/register", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var agent Agent
	if err := json.Unmarshal(body, &agent); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	return &agent, nil
}

// ListAgents lists the caller's org's registered agents. Requires
// WithBearerToken.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapper.Agents, nil
}

// QueryAudit queries the caller's org's manifest/seal history. Requires
// WithBearerToken — the org_id filter is always overridden server-side by
// the bearer token's org.
func (c *Client) QueryAudit(ctx context.Context, f AuditQueryFilter) ([]json.RawMessage, error) {
	q := url.Values{}
	if f.OrgID != "" {
		q.Set("org_id", f.OrgID)
	}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	if f.Provider != "" {
		q.Set("provider", f.Provider)
	}
	if f.ApprovedOnly != nil {
		q.Set("approved_only", fmt.Sprintf("%t", *f.ApprovedOnly))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", f.Offset))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/audit/query?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Manifests []json.RawMessage `json:"manifests"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapper.Manifests, nil
}

// Stats returns aggregate approval/denial/execution counts for the
// caller's org. Requires WithBearerToken.
func (c *Client) Stats(ctx context.Context) (*AuditStats, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/audit/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var stats AuditStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return &stats, nil
}

// Health checks the relay service's combined database/policy-evaluator
// health.
func (c *Client) Health(ctx context.Context) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	status, _, err := c.doStatusBody(httpReq)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// do executes an HTTP request, attaching the bearer token if present, and
// fails on any non-2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body,
// error) without failing on non-2xx responses — the caller interprets the
// status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
