// Package policyclient talks to the external policy evaluator (an OPA-style
// HTTP service) that decides whether a manifest is approved. Every failure
// mode — timeout, connection refusal, non-2xx, malformed response — is
// normalized into relayerr.PolicyEngineError so the manifest validator can
// fail closed without ever reaching the ledger.
package policyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relayhq/relay/internal/relayerr"
)

const requestTimeout = 5 * time.Second

// Client evaluates manifests against a policy service.
type Client struct {
	baseURL       string
	policyPath    string
	policyVersion string
	httpClient    *http.Client
}

// New creates a Client. policyPath uses dotted notation (e.g.
// "relay.manifest.decision") and is translated to the OPA data REST path
// (relay/manifest/decision) the same way the original gateway does.
func New(baseURL, policyPath, defaultPolicyVersion string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		policyPath:    policyPath,
		policyVersion: defaultPolicyVersion,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}
}

// Decision is the result of evaluating a manifest against policy.
type Decision struct {
	Approved     bool
	DenialReason *string
}

// Evaluate POSTs the policy input projection to the evaluator's data
// endpoint and interprets the result. Any failure to reach or parse a
// result from the evaluator is a PolicyEngineError — never a partial or
// default-allow decision.
func (c *Client) Evaluate(ctx context.Context, input map[string]any) (*Decision, error) {
	url := fmt.Sprintf("%s/v1/data/%s", c.baseURL, strings.ReplaceAll(c.policyPath, ".", "/"))

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, relayerr.NewPolicyEngineError("marshal policy input: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, relayerr.NewPolicyEngineError("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, relayerr.NewPolicyEngineError("policy evaluator unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, relayerr.NewPolicyEngineError("policy evaluator returned status %d", resp.StatusCode)
	}

	var payload struct {
		Result *struct {
			Allow  bool    `json:"allow"`
			Reason *string `json:"reason"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, relayerr.NewPolicyEngineError("decode policy response: %v", err)
	}
	if payload.Result == nil {
		return nil, relayerr.NewPolicyEngineError("policy response missing result")
	}

	return &Decision{Approved: payload.Result.Allow, DenialReason: payload.Result.Reason}, nil
}

// HealthCheck reports whether the policy evaluator is reachable. It never
// returns an error — any failure is reported as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetPolicyVersion fetches the active policy bundle version from the
// evaluator's metadata endpoint, falling back to the client's configured
// default on any failure. Never returns an error.
func (c *Client) GetPolicyVersion(ctx context.Context) string {
	url := c.baseURL + "/v1/data/relay/metadata/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return c.policyVersion
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.policyVersion
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.policyVersion
	}

	var payload struct {
		Result *string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Result == nil {
		return c.policyVersion
	}
	return *payload.Result
}
