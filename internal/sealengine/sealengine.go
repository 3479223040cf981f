// Package sealengine mints and verifies the Ed25519-signed seals that gate
// downstream execution of an approved manifest. The signed payload is a
// compact, key-sorted JSON projection of the seal's decision fields — Go's
// encoding/json sorts map keys at every nesting level by default, which
// gives the same canonical byte sequence the original Python implementation
// produced with json.dumps(sort_keys=True, separators=(",", ":")).
package sealengine

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
)

// Engine signs and verifies seals with a single Ed25519 keypair.
type Engine struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

// New builds an Engine from a base64-encoded 64-byte Ed25519 private key
// seed+key (the same encoding the original gateway's PRIVATE_KEY setting
// uses) and a seal validity window.
func New(privateKeyB64 string, ttl time.Duration) (*Engine, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, relayerr.NewConfigError("decode private key: %v", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, relayerr.NewConfigError("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Engine{priv: priv, pub: pub, ttl: ttl}, nil
}

// PublicKeyB64 returns the base64-encoded public key embedded in every
// minted seal.
func (e *Engine) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(e.pub)
}

// sealID derives seal_{unix_seconds}_{first_hex_group_of_manifest_uuid},
// matching the original's f"seal_{int(time.time())}_{str(manifest_id).split('-')[0]}".
func sealID(now time.Time, manifestID string) string {
	group := manifestID
	if idx := strings.IndexByte(manifestID, '-'); idx >= 0 {
		group = manifestID[:idx]
	}
	return fmt.Sprintf("seal_%d_%s", now.Unix(), group)
}

// canonicalPayload builds the exact field set that gets signed:
// {manifest_id, timestamp, agent_id, org_id, provider, method, parameters,
// policy_version, approved}. json.Marshal on map[string]any sorts keys at
// every level, so this naturally reproduces the original's canonical form.
// timestamp is always the manifest's own created_at, not the seal's
// issued_at — an external verifier reconstructs the payload from the
// manifest's stored data, so binding it to anything seal-specific would
// make the signature unreproducible outside this process.
func canonicalPayload(m *model.Manifest, approved bool, policyVersion string) ([]byte, error) {
	var params any
	if len(m.Action.Parameters) > 0 {
		if err := json.Unmarshal(m.Action.Parameters, &params); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	payload := map[string]any{
		"manifest_id":    m.ManifestID.String(),
		"timestamp":      m.CreatedAt.UTC().Format(time.RFC3339),
		"agent_id":       m.Agent.AgentID,
		"org_id":         m.Agent.OrgID,
		"provider":       m.Action.Provider,
		"method":         m.Action.Method,
		"parameters":     params,
		"policy_version": policyVersion,
		"approved":       approved,
	}
	return json.Marshal(payload)
}

// CreateSeal mints a seal for the given manifest and policy decision. It
// always produces a seal, whether the decision approved or denied the
// action — callers decide whether to persist or surface a denial seal.
func (e *Engine) CreateSeal(m *model.Manifest, approved bool, policyVersion string, denialReason *string) (*model.Seal, error) {
	now := time.Now().UTC()
	payload, err := canonicalPayload(m, approved, policyVersion)
	if err != nil {
		return nil, relayerr.NewInternalError("build seal payload", err)
	}
	sig := ed25519.Sign(e.priv, payload)

	return &model.Seal{
		SealID:        sealID(now, m.ManifestID.String()),
		ManifestID:    m.ManifestID,
		Approved:      approved,
		PolicyVersion: policyVersion,
		DenialReason:  denialReason,
		Signature:     base64.StdEncoding.EncodeToString(sig),
		PublicKey:     e.PublicKeyB64(),
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.ttl),
	}, nil
}

// VerifySeal reconstructs the canonical payload a seal should have been
// signed over and checks the signature against it. It never panics — a
// malformed signature or public key simply fails verification.
func (e *Engine) VerifySeal(s *model.Seal, m *model.Manifest) bool {
	payload, err := canonicalPayload(m, s.Approved, s.PolicyVersion)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(s.Signature)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(s.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
