package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

// buildRouteCmd creates "route <query>": runs the router standalone and
// prints the resulting route plan as JSON, useful for debugging ranking
// without going through a transport.
func buildRouteCmd(configPath *string) *cobra.Command {
	var intent string
	var limit int

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Run the router against a query and print the route plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd.Context(), *configPath, args[0], kernel.IntentMode(intent), limit)
		},
	}
	cmd.Flags().StringVar(&intent, "intent", string(kernel.IntentHybrid), "Intent mode: exact, semantic, or hybrid")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum candidates to return")
	return cmd
}

func runRoute(ctx context.Context, configPath, query string, intent kernel.IntentMode, limit int) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	plan, err := rt.router.Route(ctx, query, intent, limit)
	if err != nil {
		return fmt.Errorf("route query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}
