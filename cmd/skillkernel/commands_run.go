package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildRunCmd creates "run <skill.command> [json-args]": dispatches one
// tool call directly through the kernel, bypassing any transport. Useful
// for exercising a skill command from a terminal the same way a caller
// over stdio/SSE would.
func buildRunCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <skill.command> [json-args]",
		Short: "Dispatch one tool call directly and print the resulting envelope",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawArgs := "{}"
			if len(args) == 2 {
				rawArgs = args[1]
			}
			return runRun(cmd.Context(), *configPath, args[0], rawArgs)
		},
	}
	return cmd
}

func runRun(ctx context.Context, configPath, toolName, rawArgs string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !json.Valid([]byte(rawArgs)) {
		return fmt.Errorf("arguments are not valid JSON: %q", rawArgs)
	}

	envelope := rt.dispatcher.ExecuteTool(ctx, toolName, json.RawMessage(rawArgs), nil)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}
