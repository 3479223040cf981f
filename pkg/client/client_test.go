package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relayhq/relay/pkg/client"
)

func stubRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/manifest/validate", func(w http.ResponseWriter, r *http.Request) {
		var body client.ValidateRequest
		json.NewDecoder(r.Body).Decode(&body)

		if body.Action.Method == "terminate_instance" {
			reason := "destructive infrastructure actions require human approval"
			json.NewEncoder(w).Encode(map[string]any{
				"manifest_id":    "00000000-0000-0000-0000-000000000102",
				"approved":       false,
				"policy_version": "test-v1",
				"denial_reason":  reason,
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"manifest_id":    "00000000-0000-0000-0000-000000000101",
			"approved":       true,
			"policy_version": "test-v1",
			"seal": map[string]any{
				"seal_id":        "seal_1000000000_00000000",
				"manifest_id":    "00000000-0000-0000-0000-000000000101",
				"approved":       true,
				"policy_version": "test-v1",
				"signature":      "c2ln",
				"public_key":     "cHVi",
				"issued_at":      "2026-01-01T00:00:00Z",
				"expires_at":     "2026-01-01T00:05:00Z",
				"executed":       false,
			},
		})
	})

	mux.HandleFunc("/v1/seal/verify", func(w http.ResponseWriter, r *http.Request) {
		sealID := r.URL.Query().Get("seal_id")
		if sealID == "" {
			http.Error(w, `{"error":"seal_id is required"}`, http.StatusBadRequest)
			return
		}
		if sealID == "unknown" {
			http.Error(w, `{"error":"seal not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"seal_id":          sealID,
			"valid":            true,
			"approved":         true,
			"expired":          false,
			"already_executed": false,
			"manifest_id":      "00000000-0000-0000-0000-000000000101",
		})
	})

	mux.HandleFunc("/v1/seal/mark-executed", func(w http.ResponseWriter, r *http.Request) {
		sealID := r.URL.Query().Get("seal_id")
		if sealID == "already-done" {
			http.Error(w, `{"error":"seal already executed"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "message": "seal " + sealID + " marked as executed"})
	})

	mux.HandleFunc("/v1/orgs/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"org":         map[string]any{"org_id": "org_0000000000000001", "name": "Acme Robotics", "active": true},
			"admin_agent": map[string]any{"agent_id": "agent_0000000000000001_admin", "org_id": "org_0000000000000001", "name": "Admin Agent", "active": true},
			"token":       "test-bearer-token",
		})
	})

	mux.HandleFunc("/v1/orgs/org_0000000000000001", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"org_id": "org_0000000000000001", "name": "Acme Robotics", "active": true})
	})

	mux.HandleFunc("/v1/agents/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"agent_id": "agent_1234567890abcdef", "org_id": "org_0000000000000001", "name": "Fleet Monitor", "active": true})
	})

	mux.HandleFunc("/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []map[string]any{
				{"agent_id": "agent_0000000000000001_admin", "org_id": "org_0000000000000001", "name": "Admin Agent", "active": true},
			},
			"count": 1,
		})
	})

	mux.HandleFunc("/v1/audit/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"manifests": []map[string]any{{"manifest_id": "00000000-0000-0000-0000-000000000101"}},
			"count":     1,
		})
	})

	mux.HandleFunc("/v1/audit/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total_manifests": 2, "approved": 1, "denied": 1, "executed": 0, "approval_rate": 0.5,
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	return httptest.NewServer(mux)
}

func TestValidateManifest_approved(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	result, err := c.ValidateManifest(context.Background(), client.ValidateRequest{
		Agent:  client.AgentContext{AgentID: "agent_abc", OrgID: "org_abc"},
		Action: client.ActionRequest{Provider: "github", Method: "create_issue"},
	})
	if err != nil {
		t.Fatalf("ValidateManifest: %v", err)
	}
	if !result.Approved {
		t.Error("expected approved=true")
	}
	if result.Seal == nil || result.Seal.SealID == "" {
		t.Error("expected a seal on approval")
	}
}

func TestValidateManifest_denied(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	result, err := c.ValidateManifest(context.Background(), client.ValidateRequest{
		Agent:  client.AgentContext{AgentID: "agent_abc", OrgID: "org_abc"},
		Action: client.ActionRequest{Provider: "aws", Method: "terminate_instance"},
	})
	if err != nil {
		t.Fatalf("ValidateManifest: %v", err)
	}
	if result.Approved {
		t.Error("expected approved=false")
	}
	if result.Seal != nil {
		t.Error("expected no seal on denial")
	}
	if result.DenialReason == nil {
		t.Error("expected a denial reason")
	}
}

func TestVerifySeal_valid(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	result, err := c.VerifySeal(context.Background(), "seal_1000000000_00000000")
	if err != nil {
		t.Fatalf("VerifySeal: %v", err)
	}
	if !result.Valid {
		t.Error("expected valid=true")
	}
}

func TestVerifySeal_notFound(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.VerifySeal(context.Background(), "unknown")
	if err == nil {
		t.Error("expected error for unknown seal")
	}
}

func TestMarkSealExecuted_replay(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	err := c.MarkSealExecuted(context.Background(), "already-done")
	if err == nil {
		t.Error("expected error for already-executed seal")
	}
}

func TestRegisterOrg_success(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	result, err := c.RegisterOrg(context.Background(), "Acme Robotics", "ops@acme.example")
	if err != nil {
		t.Fatalf("RegisterOrg: %v", err)
	}
	if result.Token == "" {
		t.Error("expected a bearer token")
	}
	if result.Org.OrgID == "" {
		t.Error("expected an org_id")
	}
}

func TestGetOrg_requiresAuth(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.GetOrg(context.Background(), "org_0000000000000001")
	if err == nil {
		t.Error("expected error without a bearer token")
	}

	authed := client.MustNew(srv.URL, client.WithBearerToken("test-bearer-token"))
	org, err := authed.GetOrg(context.Background(), "org_0000000000000001")
	if err != nil {
		t.Fatalf("GetOrg: %v", err)
	}
	if org.Name != "Acme Robotics" {
		t.Errorf("unexpected org name: %s", org.Name)
	}
}

func TestRegisterAgent_success(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-bearer-token"))
	agent, err := c.RegisterAgent(context.Background(), "Fleet Monitor", "watches battery levels")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if agent.AgentID == "" {
		t.Error("expected a non-empty agent_id")
	}
}

func TestListAgents_success(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-bearer-token"))
	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(agents))
	}
}

func TestQueryAudit_success(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-bearer-token"))
	manifests, err := c.QueryAudit(context.Background(), client.AuditQueryFilter{Provider: "github", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(manifests) != 1 {
		t.Errorf("expected 1 manifest, got %d", len(manifests))
	}
}

func TestStats_success(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-bearer-token"))
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalManifests != 2 {
		t.Errorf("unexpected total: %d", stats.TotalManifests)
	}
}

func TestHealth_ok(t *testing.T) {
	srv := stubRelayServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	ok, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Error("expected healthy")
	}
}
