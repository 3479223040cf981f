// Package model holds the shared value types exchanged between the relay
// services: organizations, agents, manifests, seals, and auth events. It
// carries no behavior beyond small derived accessors — validation and
// persistence live in the packages that own those concerns.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Organization is a tenant boundary. Every agent, manifest, and seal belongs
// to exactly one organization.
type Organization struct {
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contact_email"`
	CreatedAt    time.Time `json:"created_at"`
	Active       bool      `json:"active"`
}

// Agent is a registered caller within an organization. Every manifest must
// reference an active agent belonging to its org.
type Agent struct {
	AgentID     string    `json:"agent_id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

// AgentContext identifies the agent and org submitting a manifest, and
// optionally the end user the agent is acting on behalf of.
type AgentContext struct {
	AgentID string  `json:"agent_id"`
	OrgID   string  `json:"org_id"`
	UserID  *string `json:"user_id,omitempty"`
}

// ActionRequest describes the side-effectful operation the agent wants to
// perform: a provider (e.g. "stripe"), a method on that provider, and the
// method's parameters.
type ActionRequest struct {
	Provider   string          `json:"provider"`
	Method     string          `json:"method"`
	Parameters json.RawMessage `json:"parameters"`
}

// Justification is the agent's stated reasoning for the action, along with
// its own confidence in the decision.
type Justification struct {
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Manifest is a signed description of a requested action submitted by an
// agent for policy evaluation. RawDocument preserves the exact bytes the
// agent submitted, which is what gets persisted to the ledger and replayed
// into the policy input projection. Environment is a top-level field
// (sibling of Justification, not nested in it), matching the original
// gateway's manifest model and its to_policy_input() projection.
type Manifest struct {
	ManifestID    uuid.UUID       `json:"manifest_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Agent         AgentContext    `json:"agent"`
	Action        ActionRequest   `json:"action"`
	Justification Justification   `json:"justification"`
	Environment   string          `json:"environment,omitempty"`
	RawDocument   json.RawMessage `json:"-"`
}

// PolicyInput builds the projection sent to the external policy evaluator.
// Field names mirror what the original relay gateway's to_policy_input()
// sends: a flat object combining manifest identity, agent/org, action, and
// justification fields.
func (m *Manifest) PolicyInput() map[string]any {
	var params any
	if len(m.Action.Parameters) > 0 {
		_ = json.Unmarshal(m.Action.Parameters, &params)
	}
	input := map[string]any{
		"manifest_id": m.ManifestID.String(),
		"agent_id":    m.Agent.AgentID,
		"org_id":      m.Agent.OrgID,
		"provider":    m.Action.Provider,
		"method":      m.Action.Method,
		"parameters":  params,
		"reasoning":   m.Justification.Reasoning,
		"environment": m.Environment,
	}
	if m.Agent.UserID != nil {
		input["user_id"] = *m.Agent.UserID
	}
	if m.Justification.Confidence != nil {
		input["confidence"] = *m.Justification.Confidence
	}
	return input
}

// Seal is the signed, one-time-use credential minted after policy
// evaluation. Executors verify it (GET /v1/seal/verify) before performing
// the underlying action, then consume it (POST /v1/seal/mark-executed).
type Seal struct {
	SealID        string     `json:"seal_id"`
	ManifestID    uuid.UUID  `json:"manifest_id"`
	Approved      bool       `json:"approved"`
	PolicyVersion string     `json:"policy_version"`
	DenialReason  *string    `json:"denial_reason,omitempty"`
	Signature     string     `json:"signature"`
	PublicKey     string     `json:"public_key"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Executed      bool       `json:"was_executed"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}

// IsExpired reports whether the seal's validity window has passed.
func (s *Seal) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// AuthEvent records one authentication or authorization decision for the
// audit trail. event_type is one of "authorization_success",
// "authorization_failure", or the reserved-but-currently-unused
// "authentication".
type AuthEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AgentID       *string   `json:"agent_id,omitempty"`
	OrgID         *string   `json:"org_id,omitempty"`
	Endpoint      *string   `json:"endpoint,omitempty"`
	IP            *string   `json:"ip,omitempty"`
	Success       bool      `json:"success"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	AuthEventAuthorizationSuccess = "authorization_success"
	AuthEventAuthorizationFailure = "authorization_failure"
	AuthEventAuthentication       = "authentication" // reserved, never emitted by the auth gate today
)
