package manifest

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayhq/relay/internal/authgate"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/policyclient"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/sealengine"
)

func testEngine(t *testing.T) *sealengine.Engine {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	eng, err := sealengine.New(base64.StdEncoding.EncodeToString(priv), 15*time.Minute)
	if err != nil {
		t.Fatalf("sealengine.New: %v", err)
	}
	return eng
}

func policyServer(t *testing.T, approved bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"allow": approved},
		})
	}))
}

func testRequest() *SubmitRequest {
	return &SubmitRequest{
		Agent: model.AgentContext{AgentID: "agent_abc123", OrgID: "org_abc123"},
		Action: model.ActionRequest{
			Provider:   "stripe",
			Method:     "charge",
			Parameters: json.RawMessage(`{"amount":500}`),
		},
		Justification: model.Justification{Reasoning: "user requested refund"},
	}
}

func TestSubmit_Approved(t *testing.T) {
	srv := policyServer(t, true)
	defer srv.Close()

	v := New(policyclient.New(srv.URL, "relay.manifest.decision", "v1"), testEngine(t), nil)
	result, err := v.Submit(context.Background(), &SubmitRequest{
		Agent:         testRequest().Agent,
		Action:        testRequest().Action,
		Justification: testRequest().Justification,
		DryRun:        true,
	}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Approved {
		t.Fatal("expected approved result")
	}
	if result.Seal == nil {
		t.Fatal("expected seal to be present on approval")
	}
}

func TestSubmit_Denied_NoSealInResult(t *testing.T) {
	srv := policyServer(t, false)
	defer srv.Close()

	v := New(policyclient.New(srv.URL, "relay.manifest.decision", "v1"), testEngine(t), nil)
	result, err := v.Submit(context.Background(), &SubmitRequest{
		Agent:         testRequest().Agent,
		Action:        testRequest().Action,
		Justification: testRequest().Justification,
		DryRun:        true,
	}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Approved {
		t.Fatal("expected denied result")
	}
	if result.Seal != nil {
		t.Fatal("expected no seal surfaced in response for a denied manifest")
	}
}

func TestSubmit_CrossTenantRejected(t *testing.T) {
	srv := policyServer(t, true)
	defer srv.Close()

	v := New(policyclient.New(srv.URL, "relay.manifest.decision", "v1"), testEngine(t), nil)
	req := testRequest()
	req.DryRun = true

	_, err := v.Submit(context.Background(), req, &authgate.AuthContext{AgentID: "agent_other", OrgID: "org_other"})
	if err == nil {
		t.Fatal("expected authorization error for cross-tenant submission")
	}
	if _, ok := err.(*relayerr.AuthzError); !ok {
		t.Fatalf("expected AuthzError, got %T", err)
	}
}

func TestSubmit_PolicyEngineUnreachable(t *testing.T) {
	v := New(policyclient.New("http://127.0.0.1:1", "relay.manifest.decision", "v1"), testEngine(t), nil)
	req := testRequest()
	req.DryRun = true

	_, err := v.Submit(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected PolicyEngineError when evaluator is unreachable")
	}
	if _, ok := err.(*relayerr.PolicyEngineError); !ok {
		t.Fatalf("expected PolicyEngineError, got %T", err)
	}
}
