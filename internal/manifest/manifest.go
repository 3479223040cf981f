// Package manifest implements the Manifest Validator: the orchestration
// that takes a submitted manifest through authorization, policy evaluation,
// seal minting, and ledger persistence.
package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/ledger"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/policyclient"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/sealengine"
)

// Validator orchestrates manifest submission.
type Validator struct {
	policy *policyclient.Client
	seals  *sealengine.Engine
	ledger *ledger.Ledger
}

// New creates a Validator.
func New(policy *policyclient.Client, seals *sealengine.Engine, led *ledger.Ledger) *Validator {
	return &Validator{policy: policy, seals: seals, ledger: led}
}

// SubmitRequest is the inbound payload for POST /v1/manifest/validate.
type SubmitRequest struct {
	Agent         model.AgentContext  `json:"agent"`
	Action        model.ActionRequest `json:"action"`
	Justification model.Justification `json:"justification"`
	Environment   string              `json:"environment"`
	DryRun        bool                `json:"dry_run"`
	RawDocument   []byte              `json:"-"`
}

// Result is the outcome of validating a manifest.
type Result struct {
	ManifestID    uuid.UUID
	Approved      bool
	Seal          *model.Seal
	DenialReason  *string
	PolicyVersion string
}

// Submit runs the full validation pipeline: authorization check, policy
// evaluation, seal minting, and (unless dry_run) atomic ledger persistence.
//
// Order matters: authorization is checked before policy evaluation so a
// cross-tenant submission never reaches the policy engine or the ledger.
// A PolicyEngineError aborts before any ledger write — policy failures never
// produce a partial or default decision.
func (v *Validator) Submit(ctx context.Context, req *SubmitRequest, auth *authgate.AuthContext) (*Result, error) {
	if auth != nil && req.Agent.OrgID != auth.OrgID {
		reason := fmt.Sprintf("manifest org_id %s does not match authenticated org %s", req.Agent.OrgID, auth.OrgID)
		_ = v.ledger.WriteAuthEvent(ctx, &model.AuthEvent{
			EventType:     model.AuthEventAuthorizationFailure,
			AgentID:       &req.Agent.AgentID,
			OrgID:         &auth.OrgID,
			Success:       false,
			FailureReason: &reason,
			CreatedAt:     time.Now().UTC(),
		})
		return nil, relayerr.NewAuthzError("%s", reason)
	}

	m := &model.Manifest{
		ManifestID:    uuid.New(),
		CreatedAt:     time.Now().UTC(),
		Agent:         req.Agent,
		Action:        req.Action,
		Justification: req.Justification,
		Environment:   req.Environment,
		RawDocument:   req.RawDocument,
	}

	decision, err := v.policy.Evaluate(ctx, m.PolicyInput())
	if err != nil {
		return nil, err // relayerr.PolicyEngineError, already typed
	}

	policyVersion := v.policy.GetPolicyVersion(ctx)

	seal, err := v.seals.CreateSeal(m, decision.Approved, policyVersion, decision.DenialReason)
	if err != nil {
		return nil, relayerr.NewInternalError("mint seal", err)
	}

	if !req.DryRun {
		if err := v.ledger.WriteManifestAndSeal(ctx, m, seal); err != nil {
			return nil, relayerr.NewInternalError("persist manifest and seal", err)
		}
	}

	result := &Result{
		ManifestID:    m.ManifestID,
		Approved:      decision.Approved,
		PolicyVersion: policyVersion,
		DenialReason:  decision.DenialReason,
	}
	if decision.Approved {
		result.Seal = seal
	}
	return result, nil
}
