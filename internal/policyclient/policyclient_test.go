package policyclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluate_Approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"allow":true}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "relay.manifest.decision", "v0")
	decision, err := c.Evaluate(context.Background(), map[string]any{"provider": "stripe"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Approved {
		t.Fatal("expected approved decision")
	}
}

func TestEvaluate_MissingResultFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "relay.manifest.decision", "v0")
	if _, err := c.Evaluate(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected PolicyEngineError when result is missing")
	}
}

func TestEvaluate_NonOKStatusFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "relay.manifest.decision", "v0")
	if _, err := c.Evaluate(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected PolicyEngineError on 500 response")
	}
}

func TestEvaluate_ConnectionRefusedFailsClosed(t *testing.T) {
	c := New("http://127.0.0.1:1", "relay.manifest.decision", "v0")
	if _, err := c.Evaluate(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected PolicyEngineError when evaluator is unreachable")
	}
}

func TestHealthCheck_NeverErrors(t *testing.T) {
	c := New("http://127.0.0.1:1", "relay.manifest.decision", "v0")
	if c.HealthCheck(context.Background()) {
		t.Fatal("expected HealthCheck to report unhealthy for unreachable host")
	}
}

func TestGetPolicyVersion_FallsBackOnFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", "relay.manifest.decision", "v0-default")
	if v := c.GetPolicyVersion(context.Background()); v != "v0-default" {
		t.Fatalf("expected fallback version, got %q", v)
	}
}

func TestGetPolicyVersion_UsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"v7"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "relay.manifest.decision", "v0-default")
	if v := c.GetPolicyVersion(context.Background()); v != "v7" {
		t.Fatalf("expected v7, got %q", v)
	}
}
