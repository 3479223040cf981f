package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/relayhq/relay/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	relayURL string
	token    string
	cfgFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "relay control-plane CLI",
	Long: `relayctl is the command-line interface for relay.

It submits manifests for policy evaluation, verifies and marks seals
executed, and manages organization and agent registration.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.relayctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if relayURL == "" {
			relayURL = viper.GetString("relay_url")
		}
		if relayURL == "" {
			relayURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.relayctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for authenticated requests")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(orgCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(relayURL, opts...)
}

// ── validate ─────────────────────────────────────────────────────────────────

var (
	validateAgentID   string
	validateOrgID     string
	validateUserID    string
	validateProvider  string
	validateMethod    string
	validateParams    string
	validateReasoning string
	validateEnv       string
	validateDryRun    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Submit a manifest for policy evaluation",
	Long: `validate submits an agent action manifest to relay for policy
evaluation. On approval it prints the minted seal; on denial it prints
the reason.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateAgentID, "agent", "", "agent ID")
	validateCmd.Flags().StringVar(&validateOrgID, "org", "", "organization ID")
	validateCmd.Flags().StringVar(&validateUserID, "user", "", "user ID the agent is acting on behalf of")
	validateCmd.Flags().StringVar(&validateProvider, "provider", "", "action provider (e.g. github, aws)")
	validateCmd.Flags().StringVar(&validateMethod, "method", "", "action method (e.g. create_issue)")
	validateCmd.Flags().StringVar(&validateParams, "params", "{}", "action parameters as a JSON object")
	validateCmd.Flags().StringVar(&validateReasoning, "reasoning", "", "justification for the action")
	validateCmd.Flags().StringVar(&validateEnv, "environment", "production", "execution environment")
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false, "evaluate without recording a manifest")

	_ = validateCmd.MarkFlagRequired("agent")
	_ = validateCmd.MarkFlagRequired("provider")
	_ = validateCmd.MarkFlagRequired("method")
	_ = validateCmd.MarkFlagRequired("reasoning")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(validateParams)) {
		return fmt.Errorf("--params is not valid JSON: %q", validateParams)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	result, err := c.ValidateManifest(context.Background(), client.ValidateRequest{
		Agent: client.AgentContext{
			AgentID: validateAgentID,
			OrgID:   validateOrgID,
			UserID:  validateUserID,
		},
		Action: client.ActionRequest{
			Provider:   validateProvider,
			Method:     validateMethod,
			Parameters: json.RawMessage(validateParams),
		},
		Justification: client.Justification{
			Reasoning: validateReasoning,
		},
		Environment: validateEnv,
		DryRun:      validateDryRun,
	})
	if err != nil {
		return fmt.Errorf("validate manifest: %w", err)
	}

	fmt.Printf("Manifest: %s\n", result.ManifestID)
	fmt.Printf("Policy:   %s\n", result.PolicyVersion)
	if result.Approved {
		fmt.Println("Decision: approved")
		if result.Seal != nil {
			fmt.Printf("\nSeal:\n")
			fmt.Printf("  ID:         %s\n", result.Seal.SealID)
			fmt.Printf("  Expires at: %s\n", result.Seal.ExpiresAt)
		}
	} else {
		fmt.Println("Decision: denied")
		if result.DenialReason != nil {
			fmt.Printf("Reason:   %s\n", *result.DenialReason)
		}
	}
	return nil
}

// ── seal ─────────────────────────────────────────────────────────────────────

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Inspect and complete execution of approval seals",
}

var sealVerifyCmd = &cobra.Command{
	Use:   "verify <seal-id>",
	Short: "Verify a seal's validity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		v, err := c.VerifySeal(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("verify seal: %w", err)
		}

		fmt.Printf("Seal:             %s\n", v.SealID)
		fmt.Printf("Manifest:         %s\n", v.ManifestID)
		fmt.Printf("Valid:            %t\n", v.Valid)
		fmt.Printf("Approved:         %t\n", v.Approved)
		fmt.Printf("Expired:          %t\n", v.Expired)
		fmt.Printf("Already executed: %t\n", v.AlreadyExecuted)
		if v.Reason != "" {
			fmt.Printf("Reason:           %s\n", v.Reason)
		}
		return nil
	},
}

var sealMarkExecutedCmd = &cobra.Command{
	Use:   "mark-executed <seal-id>",
	Short: "Mark a seal as executed",
	Long: `mark-executed records that the action a seal authorized has been
performed. A seal can only be marked executed once; relay rejects replays.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.MarkSealExecuted(context.Background(), args[0]); err != nil {
			return fmt.Errorf("mark seal executed: %w", err)
		}
		fmt.Printf("✓ seal %s marked as executed\n", args[0])
		return nil
	},
}

func init() {
	sealCmd.AddCommand(sealVerifyCmd)
	sealCmd.AddCommand(sealMarkExecutedCmd)
}

// ── org ──────────────────────────────────────────────────────────────────────

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var (
	orgRegisterName  string
	orgRegisterEmail string
)

var orgRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new organization and its admin agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.RegisterOrg(context.Background(), orgRegisterName, orgRegisterEmail)
		if err != nil {
			return fmt.Errorf("register organization: %w", err)
		}

		fmt.Printf("✓ Organization registered\n\n")
		fmt.Printf("  Org ID:      %s\n", result.Org.OrgID)
		fmt.Printf("  Admin agent: %s\n", result.AdminAgent.AgentID)
		fmt.Printf("  Token:       %s\n\n", result.Token)
		fmt.Println("Save the token now — it authenticates the admin agent and is not shown again.")
		return nil
	},
}

var orgGetCmd = &cobra.Command{
	Use:   "get <org-id>",
	Short: "Show organization details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		org, err := c.GetOrg(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get organization: %w", err)
		}

		fmt.Printf("Org ID:  %s\n", org.OrgID)
		fmt.Printf("Name:    %s\n", org.Name)
		fmt.Printf("Email:   %s\n", org.ContactEmail)
		fmt.Printf("Active:  %t\n", org.Active)
		return nil
	},
}

func init() {
	orgRegisterCmd.Flags().StringVar(&orgRegisterName, "name", "", "organization name")
	orgRegisterCmd.Flags().StringVar(&orgRegisterEmail, "email", "", "contact email")
	_ = orgRegisterCmd.MarkFlagRequired("name")
	_ = orgRegisterCmd.MarkFlagRequired("email")

	orgCmd.AddCommand(orgRegisterCmd)
	orgCmd.AddCommand(orgGetCmd)
}

// ── agent ────────────────────────────────────────────────────────────────────

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents within your organization",
}

var (
	agentRegisterName string
	agentRegisterDesc string
)

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new agent within the authenticated caller's organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		agent, err := c.RegisterAgent(context.Background(), agentRegisterName, agentRegisterDesc)
		if err != nil {
			return fmt.Errorf("register agent: %w", err)
		}

		fmt.Printf("✓ Agent registered\n\n")
		fmt.Printf("  Agent ID: %s\n", agent.AgentID)
		fmt.Printf("  Org ID:   %s\n", agent.OrgID)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents within the authenticated caller's organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		agents, err := c.ListAgents(context.Background())
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT ID\tNAME\tACTIVE")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%t\n", a.AgentID, a.Name, a.Active)
		}
		return w.Flush()
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentRegisterName, "name", "", "agent name")
	agentRegisterCmd.Flags().StringVar(&agentRegisterDesc, "description", "", "agent description")
	_ = agentRegisterCmd.MarkFlagRequired("name")

	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentListCmd)
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the manifest audit trail",
}

var (
	auditOrgID        string
	auditAgentID      string
	auditProvider     string
	auditApprovedOnly string
	auditLimit        int
	auditOffset       int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query manifests in the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		filter := client.AuditQueryFilter{
			OrgID:    auditOrgID,
			AgentID:  auditAgentID,
			Provider: auditProvider,
			Limit:    auditLimit,
			Offset:   auditOffset,
		}
		if auditApprovedOnly != "" {
			b, err := strconv.ParseBool(auditApprovedOnly)
			if err != nil {
				return fmt.Errorf("--approved-only must be true or false: %w", err)
			}
			filter.ApprovedOnly = &b
		}

		manifests, err := c.QueryAudit(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("query audit trail: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(manifests)
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate approval/denial statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		stats, err := c.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Total manifests: %d\n", stats.TotalManifests)
		fmt.Printf("Approved:        %d\n", stats.Approved)
		fmt.Printf("Denied:          %d\n", stats.Denied)
		fmt.Printf("Executed:        %d\n", stats.Executed)
		fmt.Printf("Approval rate:   %.1f%%\n", stats.ApprovalRate*100)
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditOrgID, "org", "", "filter by organization ID")
	auditQueryCmd.Flags().StringVar(&auditAgentID, "agent", "", "filter by agent ID")
	auditQueryCmd.Flags().StringVar(&auditProvider, "provider", "", "filter by action provider")
	auditQueryCmd.Flags().StringVar(&auditApprovedOnly, "approved-only", "", "filter to approved (true) or denied (false) manifests")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum results")
	auditQueryCmd.Flags().IntVar(&auditOffset, "offset", 0, "result offset")

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditStatsCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relayctl CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relayctl %s\n", version)
	},
}
