package sealengine

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/relay/internal/model"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	eng, err := New(base64.StdEncoding.EncodeToString(priv), 15*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func testManifest() *model.Manifest {
	return &model.Manifest{
		ManifestID: uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Agent: model.AgentContext{
			AgentID: "agent_deadbeefdeadbeef",
			OrgID:   "org_deadbeefdeadbeef",
		},
		Action: model.ActionRequest{
			Provider:   "stripe",
			Method:     "charge",
			Parameters: json.RawMessage(`{"amount":1000,"currency":"usd"}`),
		},
		Justification: model.Justification{Reasoning: "test"},
	}
}

func TestCreateAndVerifySeal_Valid(t *testing.T) {
	eng := testEngine(t)
	m := testManifest()

	seal, err := eng.CreateSeal(m, true, "v1", nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	if !eng.VerifySeal(seal, m) {
		t.Fatal("expected valid seal to verify")
	}
	if seal.Executed {
		t.Fatal("freshly minted seal must not be marked executed")
	}
}

func TestVerifySeal_TamperedParameters(t *testing.T) {
	eng := testEngine(t)
	m := testManifest()

	seal, err := eng.CreateSeal(m, true, "v1", nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	tampered := *m
	tampered.Action.Parameters = json.RawMessage(`{"amount":999999,"currency":"usd"}`)

	if eng.VerifySeal(seal, &tampered) {
		t.Fatal("expected verification to fail after parameters were tampered with")
	}
}

func TestVerifySeal_TamperedApprovalFlag(t *testing.T) {
	eng := testEngine(t)
	m := testManifest()

	seal, err := eng.CreateSeal(m, false, "v1", strPtr("policy denied"))
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	seal.Approved = true // attacker flips the decision after the fact

	if eng.VerifySeal(seal, m) {
		t.Fatal("expected verification to fail after approved flag was flipped")
	}
}

func TestVerifySeal_WrongKey(t *testing.T) {
	eng := testEngine(t)
	other := testEngine(t)
	m := testManifest()

	seal, err := eng.CreateSeal(m, true, "v1", nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	seal.PublicKey = other.PublicKeyB64()

	if eng.VerifySeal(seal, m) {
		t.Fatal("expected verification to fail against a substituted public key")
	}
}

func TestSealID_Format(t *testing.T) {
	eng := testEngine(t)
	m := testManifest()

	seal, err := eng.CreateSeal(m, true, "v1", nil)
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	expectedPrefix := "seal_"
	if len(seal.SealID) <= len(expectedPrefix) || seal.SealID[:len(expectedPrefix)] != expectedPrefix {
		t.Fatalf("expected seal ID to start with %q, got %q", expectedPrefix, seal.SealID)
	}
}

func strPtr(s string) *string { return &s }
