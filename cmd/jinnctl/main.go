// Command jinnctl is a read-only operational CLI for inspecting a
// jinn-worker deployment: the operator profile, the local Tx Queue
// database, the allowlist config, and a dry-run blueprint render — in
// the style of the teacher's cmd/slctl, a table of subcommands dispatched
// over flag.FlagSet rather than a single monolithic command, but reading
// the local profile/database/config files directly instead of calling a
// remote HTTP API (this worker has no admin server to call).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jinn-network/jinn-worker/internal/blueprint"
	"github.com/jinn-network/jinn-worker/internal/config"
	"github.com/jinn-network/jinn-worker/internal/ledgerindex"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/profile"
	"github.com/jinn-network/jinn-worker/internal/txqueue"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return errors.New("no command specified")
	}

	switch args[0] {
	case "profile":
		return handleProfile(ctx, args[1:])
	case "queue":
		return handleQueue(ctx, args[1:])
	case "allowlist":
		return handleAllowlist(ctx, args[1:])
	case "blueprint":
		return handleBlueprint(ctx, args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println(`jinn-worker inspection CLI (jinnctl)

Usage:
  jinnctl <command> [flags]

Commands:
  profile show                  Print the loaded operator profile's addresses
  queue list                    List pending and claimed Tx Queue entries
  queue metrics                 Print Tx Queue depth by status
  allowlist show                Validate and print the loaded allowlist config
  blueprint render --job <id>   Dry-run the Blueprint Builder for a job definition`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func prettyPrint(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Println(v)
	}
}

// ---------------------------------------------------------------------
// profile

func handleProfile(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "show" {
		fmt.Println(`Usage:
  jinnctl profile show`)
		if len(args) == 0 {
			return errors.New("profile requires a subcommand")
		}
		return fmt.Errorf("unknown profile subcommand %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.OperateBasePath, cfg.OperatePassword, cfg.ChainID)
	if err != nil {
		return fmt.Errorf("load operator profile: %w", err)
	}
	masterSafe, err := prof.MasterSafe(cfg.ChainID)
	if err != nil {
		return fmt.Errorf("resolve master safe: %w", err)
	}

	prettyPrint(map[string]interface{}{
		"chainId":            prof.ChainID(),
		"masterEoa":          prof.MasterEOA().Hex(),
		"masterSafe":         masterSafe.Hex(),
		"serviceSafe":        prof.ServiceSafe().Hex(),
		"agentEoa":           prof.AgentEOA().Hex(),
		"mechAddress":        prof.MechAddress().Hex(),
		"marketplaceAddress": prof.MarketplaceAddress().Hex(),
		"stakingContract":    prof.StakingContract().Hex(),
	})
	return nil
}

// ---------------------------------------------------------------------
// queue

func handleQueue(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  jinnctl queue list [--limit N]
  jinnctl queue metrics`)
		return errors.New("queue requires a subcommand")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := txqueue.Open(cfg.LocalQueueDBPath)
	if err != nil {
		return fmt.Errorf("open tx queue: %w", err)
	}
	defer store.Close()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("queue list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		limit := fs.Int("limit", 50, "Maximum entries to return")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		entries, err := store.GetPending(ctx, *limit)
		if err != nil {
			return fmt.Errorf("list pending tx queue entries: %w", err)
		}
		prettyPrint(entries)
	case "metrics":
		metrics, err := store.GetMetrics(ctx)
		if err != nil {
			return fmt.Errorf("read tx queue metrics: %w", err)
		}
		prettyPrint(metrics)
	default:
		return fmt.Errorf("unknown queue subcommand %q", args[0])
	}
	return nil
}

// ---------------------------------------------------------------------
// allowlist

func handleAllowlist(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "show" {
		fmt.Println(`Usage:
  jinnctl allowlist show`)
		if len(args) == 0 {
			return errors.New("allowlist requires a subcommand")
		}
		return fmt.Errorf("unknown allowlist subcommand %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// LoadAllowlist validates the file parses and every chain id/selector
	// entry is well-formed before we bother re-reading it for display.
	if _, err := txqueue.LoadAllowlist(cfg.AllowlistConfigPath); err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	raw, err := os.ReadFile(cfg.AllowlistConfigPath)
	if err != nil {
		return fmt.Errorf("read allowlist file: %w", err)
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode allowlist file: %w", err)
	}
	fmt.Println("Allowlist is valid.")
	prettyPrint(parsed)
	return nil
}

// ---------------------------------------------------------------------
// blueprint

func handleBlueprint(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "render" {
		fmt.Println(`Usage:
  jinnctl blueprint render --job <job-definition-id> [--verification]`)
		if len(args) == 0 {
			return errors.New("blueprint requires a subcommand")
		}
		return fmt.Errorf("unknown blueprint subcommand %q", args[0])
	}

	fs := flag.NewFlagSet("blueprint render", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jobID := fs.String("job", "", "Job definition ID (required)")
	verification := fs.Bool("verification", false, "Render as a verification task")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *jobID == "" {
		return errors.New("--job is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: "warn", Format: cfg.LogFormat})

	ledger := ledgerindex.New(cfg.PonderGraphQLURL)
	jobContext := &blueprint.JobContextProvider{
		Index:   ledger,
		Gateway: cfg.IPFSGatewayURL,
	}
	builder := blueprint.NewBuilder(logger, jobContext, &blueprint.ProgressCheckpointProvider{})

	renderCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := builder.Build(renderCtx, blueprint.BuildInput{
		JobDefinitionID:    *jobID,
		IsVerificationTask: *verification,
	})
	if err != nil {
		return fmt.Errorf("build blueprint: %w", err)
	}

	fmt.Printf("Built in %s, %d invariant(s):\n\n", result.BuildTime, len(result.Blueprint.Invariants))
	fmt.Println(blueprint.BuildPrompt(result.Blueprint))
	return nil
}
