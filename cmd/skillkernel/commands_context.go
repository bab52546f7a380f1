package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildContextCmd creates "context render <skill> <query>": exercises the
// context assembler standalone, printing the assembled message list for a
// given skill and query. No history layer is fed in from the CLI; the
// result shows layers 1-3 (persona, procedural guide, working-tree state).
func buildContextCmd(configPath *string) *cobra.Command {
	root := &cobra.Command{
		Use:   "context",
		Short: "Inspect the context assembler",
	}

	var persona string
	renderCmd := &cobra.Command{
		Use:   "render <skill-name> <query>",
		Short: "Assemble and print the message list for a skill and query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContextRender(cmd.Context(), *configPath, persona, args[0], args[1])
		},
	}
	renderCmd.Flags().StringVar(&persona, "persona", "", "Persona text for layer 1 (defaults to the skill's body)")

	root.AddCommand(renderCmd)
	return root
}

func runContextRender(ctx context.Context, configPath, persona, skillName, query string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	skill, ok := rt.registry.SkillByName(skillName)
	if !ok {
		return fmt.Errorf("skill %q not found", skillName)
	}
	if persona == "" {
		persona = skill.Body
	}

	turns, err := rt.assembler.Assemble(ctx, persona, &skill, query, nil)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(turns)
}
