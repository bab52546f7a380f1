package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcweave/skillkernel/internal/routeindex"
)

// buildSyncCmd creates "sync": a one-shot full reindex of every scanned
// skill, bringing the routing index to match the tree on disk without
// starting the watcher or any transport.
func buildSyncCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reindex every skill against the current skill tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), *configPath)
		},
	}
	return cmd
}

func runSync(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	bySource := map[string][]routeindex.IndexInput{}
	for _, res := range rt.scanned {
		for _, cmd := range res.Commands {
			bySource[cmd.SourceFile] = append(bySource[cmd.SourceFile], routeindex.IndexInput{
				Skill:   res.Skill,
				Command: cmd,
			})
		}
	}

	indexed := 0
	for sourceFile, inputs := range bySource {
		if err := rt.indexer.ReindexFile(ctx, sourceFile, inputs); err != nil {
			return fmt.Errorf("reindex %s: %w", sourceFile, err)
		}
		indexed += len(inputs)
	}

	fmt.Printf("synced %d skills, %d commands across %d source files\n", len(rt.scanned), indexed, len(bySource))
	return nil
}
