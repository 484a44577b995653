// Package main provides the CLI entry point for the agent runtime server.
//
// tron hosts multi-session agent loops behind a JSON-RPC-over-WebSocket
// transport, backed by an event-sourced session store and a multi-vendor
// streaming provider abstraction.
//
// # Basic Usage
//
// Start the server:
//
//	tron serve --config tron.yaml
//
// Check system status:
//
//	tron status
//
// Manage database migrations:
//
//	tron migrate up
//	tron migrate status
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - TRON_CONFIG: Path to configuration file (default: tron.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"     // Semantic version (e.g., "v1.0.0")
	commit      = "none"    // Git commit SHA
	date        = "unknown" // Build timestamp
	profileName string
)

// main is the entry point for the tron CLI.
// It sets up the root command and all subcommands, then executes based on CLI args.
func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Build the command tree.
	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tron",
		Short: "tron - multi-session agent runtime",
		Long: `tron runs multi-session LLM agent loops behind a JSON-RPC-over-WebSocket transport.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)

Documentation: https://github.com/tronrun/tron`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (uses ~/.tron/profiles/<name>.yaml; or set TRON_PROFILE)")

	// Attach all subcommands.
	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildChannelsCmd(),
		buildAgentsCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
		buildPromptCmd(),
		buildSetupCmd(),
		buildOnboardCmd(),
		buildAuthCmd(),
		buildProfileCmd(),
		buildSkillsCmd(),
		buildPluginsCmd(),
		buildServiceCmd(),
		buildMemoryCmd(),
		buildMcpCmd(),
		buildTraceCmd(),
		buildRagCmd(),
		buildSessionsCmd(),
		buildArtifactsCmd(),
		buildEdgeCmd(),
		buildEventsCmd(),
		buildExtensionsCmd(),
	)

	return rootCmd
}
