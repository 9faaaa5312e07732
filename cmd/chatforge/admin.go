package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/Strob0t/ChatForge/internal/adapter/litellm"
	"github.com/Strob0t/ChatForge/internal/adapter/postgres"
	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain/agent"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/middleware"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "token":
		return runAdminToken(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	case "create-agent":
		return runAdminCreateAgent(args[1:])
	case "enable-tool":
		return runAdminEnableTool(args[1:])
	case "connect":
		return runAdminConnect(args[1:])
	case "models":
		return runAdminModels(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: chatforge admin <command> [options]

Commands:
  token          Sign a bearer token for local testing
  migrate        Apply migrations and print the schema version
  create-agent   Create an agent persona
  enable-tool    Enable or disable a toolkit or tool for a user or agent
  connect        Record a user's toolkit connection
  models         Show configured chat models and their proxy health
  help           Show this help message

Examples:
  chatforge admin token --sub 7d1c... --guest --ttl 1h
  chatforge admin create-agent --owner 7d1c... --name Researcher --model chat-model
  chatforge admin enable-tool --user 7d1c... --toolkit notion
  chatforge admin enable-tool --agent 3f0a... --toolkit notion --tool NOTION_SEARCH_NOTION_PAGE --disable
  chatforge admin connect --user 7d1c... --toolkit notion --account acct_123
`)
}

func openAdminStore(ctx context.Context) (*postgres.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func runAdminToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "user id (required)")
	org := fs.String("org", "", "organization id")
	admin := fs.Bool("admin", false, "grant the admin role")
	guest := fs.Bool("guest", false, "issue a guest session token")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return fmt.Errorf("--sub is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	id := user.Identity{ID: *sub, OrgID: *org, Role: user.RoleMember, Type: user.TypeRegular}
	if *admin {
		id.Role = user.RoleAdmin
	}
	if *guest {
		id.Type = user.TypeGuest
	}

	token, err := middleware.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Sign(id, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	statusOnly := fs.Bool("status", false, "print the current version without migrating")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	if !*statusOnly {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	}
	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Schema version: %d\n", version)
	return nil
}

func runAdminCreateAgent(args []string) error {
	fs := flag.NewFlagSet("create-agent", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner user id (required)")
	org := fs.String("org", "", "organization id")
	name := fs.String("name", "", "agent name (required)")
	desc := fs.String("description", "", "agent description")
	prompt := fs.String("prompt", "", "persona system prompt")
	model := fs.String("model", "", "model id the agent prefers")
	global := fs.Bool("global", false, "make the agent readable by everyone")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *name == "" {
		return fmt.Errorf("--owner and --name are required")
	}

	ctx := context.Background()
	store, cleanup, err := openAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	a := &agent.Agent{
		OwnerID:        *owner,
		OrganizationID: *org,
		Name:           *name,
		Description:    *desc,
		SystemPrompt:   *prompt,
		ModelID:        *model,
		IsGlobal:       *global,
	}
	if err := store.CreateAgent(ctx, a); err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Agent created: %s (id=%s)\n", a.Name, a.ID)
	return nil
}

func runAdminEnableTool(args []string) error {
	fs := flag.NewFlagSet("enable-tool", flag.ContinueOnError)
	userID := fs.String("user", "", "user id whose defaults change")
	agentID := fs.String("agent", "", "agent id whose tools change")
	toolkitSlug := fs.String("toolkit", "", "toolkit slug (required)")
	toolSlug := fs.String("tool", "", "single tool slug; empty applies to the whole toolkit")
	disable := fs.Bool("disable", false, "disable instead of enable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *toolkitSlug == "" {
		return fmt.Errorf("--toolkit is required")
	}
	scope := toolkit.Scope{UserID: *userID, AgentID: *agentID}
	if err := scope.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	store, cleanup, err := openAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	e := toolkit.Enablement{
		Scope:       scope,
		ToolkitSlug: *toolkitSlug,
		ToolSlug:    *toolSlug,
		Enabled:     !*disable,
	}
	if err := store.SetToolEnablement(ctx, e); err != nil {
		return fmt.Errorf("set enablement: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Enablement saved: toolkit=%s tool=%s enabled=%v\n", e.ToolkitSlug, e.ToolSlug, e.Enabled)
	return nil
}

func runAdminConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	toolkitSlug := fs.String("toolkit", "", "toolkit slug (required)")
	account := fs.String("account", "", "account reference on the provider (required)")
	status := fs.String("status", string(toolkit.ConnectionActive), "active, inactive or expired")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *toolkitSlug == "" || *account == "" {
		return fmt.Errorf("--user, --toolkit and --account are required")
	}
	switch toolkit.ConnectionStatus(*status) {
	case toolkit.ConnectionActive, toolkit.ConnectionInactive, toolkit.ConnectionExpired:
	default:
		return fmt.Errorf("unknown status %q", *status)
	}

	ctx := context.Background()
	store, cleanup, err := openAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	c := toolkit.Connection{
		UserID:      *userID,
		ToolkitSlug: *toolkitSlug,
		AccountRef:  *account,
		Status:      toolkit.ConnectionStatus(*status),
	}
	if err := store.UpsertConnection(ctx, c); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Connection saved: user=%s toolkit=%s status=%s\n", c.UserID, c.ToolkitSlug, c.Status)
	return nil
}

func runAdminModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	probe := fs.Bool("probe", false, "probe every proxy endpoint (issues real model calls)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	missing, err := client.MissingModels(ctx, slices.Collect(maps.Values(cfg.Chat.Models)))
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	unhealthy := map[string]string{}
	if *probe {
		report, err := client.HealthDetailed(ctx)
		if err != nil {
			return fmt.Errorf("probe models: %w", err)
		}
		for _, e := range report.UnhealthyEndpoints {
			unhealthy[e.Model] = e.Error
		}
	}

	ids := slices.Sorted(maps.Keys(cfg.Chat.Models))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL ID\tPROXY MODEL\tREASONING\tSTATUS")
	for _, id := range ids {
		name := cfg.Chat.Models[id]
		status := "served"
		switch {
		case slices.Contains(missing, name):
			status = "missing"
		case unhealthy[name] != "":
			status = "unhealthy: " + unhealthy[name]
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", id, name, slices.Contains(cfg.Chat.ReasoningModels, id), status)
	}
	return w.Flush()
}
