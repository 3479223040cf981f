// Package client is the relay Go SDK.
//
// It wraps the full relay HTTP surface — manifest submission, seal
// verification/execution, tenancy registration, and audit queries — behind
// a small, typed client so agent authors never hand-build requests.
//
// # Submitting a manifest for policy evaluation
//
//	c := client.MustNew("https://relay.example.com", client.WithBearerToken(token))
//	result, err := c.ValidateManifest(ctx, client.ValidateRequest{
//	    Agent:  client.AgentContext{AgentID: "agent_abc123", OrgID: "org_abc123"},
//	    Action: client.ActionRequest{Provider: "github", Method: "create_issue"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if result.Approved {
//	    fmt.Println("seal:", result.Seal.SealID)
//	}
//
// # Verifying a seal before executing the downstream action
//
//	verify, err := c.VerifySeal(ctx, result.Seal.SealID)
//	if err == nil && verify.Valid {
//	    // perform the action, then mark it executed
//	    c.MarkSealExecuted(ctx, result.Seal.SealID)
//	}
//
// # Registering an organization and agent
//
//	reg, _ := c.RegisterOrg(ctx, "Acme Robotics", "ops@acme.example")
//	// reg.Token authenticates subsequent calls as the org's admin agent
//	c2 := client.MustNew(base, client.WithBearerToken(reg.Token))
//	agent, _ := c2.RegisterAgent(ctx, "Fleet Monitor", "watches battery levels")
package client
