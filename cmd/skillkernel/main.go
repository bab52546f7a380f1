// Package main provides the CLI entry point for skillkernel, the
// agentic skill runtime: it scans a skill tree, builds a hybrid routing
// index, dispatches tool calls through a supervised kernel, and serves
// all of it over stdio and/or SSE JSON-RPC.
//
// # Basic usage
//
// Serve over stdio (the default transport for an LLM host to spawn):
//
//	skillkernel serve
//
// Serve over SSE instead (or in addition, if both are enabled in config):
//
//	skillkernel serve --sse :8080
//
// Build or refresh the routing index without serving:
//
//	skillkernel sync
//
// # Environment variables
//
//   - SKILLKERNEL_SKILLS_ROOT: overrides paths.skills_root
//   - SKILLKERNEL_DATA_DIR: overrides paths.data_dir
//   - SKILLKERNEL_SSE_ADDR: overrides transport.sse_addr
//   - SKILLKERNEL_TIMEOUT_TOTAL_MS / SKILLKERNEL_TIMEOUT_IDLE_MS: override timeouts
//   - SKILLKERNEL_LOG_LEVEL: overrides logging.level
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Kept separate from main for
// testability, same as the teacher's own CLI.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "skillkernel",
		Short: "Agentic skill runtime: scan, index, route, and dispatch skill commands",
		Long: `skillkernel turns a directory of skills (SKILL.md + scripts/) into a
live JSON-RPC tool server: it scans and watches the tree, maintains a
hybrid vector+keyword routing index, and dispatches tool calls under a
heartbeat/idle/total timeout supervisor.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildSyncCmd(&configPath),
		buildReindexCmd(&configPath),
		buildRouteCmd(&configPath),
		buildRunCmd(&configPath),
		buildConfigCmd(&configPath),
		buildContextCmd(&configPath),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if value := os.Getenv("SKILLKERNEL_CONFIG"); value != "" {
		return value
	}
	return "skillkernel.yaml"
}
