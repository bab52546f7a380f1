package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/internal/skillscan"
)

// buildReindexCmd creates "reindex <skill-name>": rescans one skill
// directory and updates the routing index and in-memory registry for it,
// without touching the rest of the tree.
func buildReindexCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <skill-name>",
		Short: "Rescan and reindex a single skill by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), *configPath, args[0])
		},
	}
	return cmd
}

func runReindex(ctx context.Context, configPath, skillName string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	skillDir := filepath.Join(rt.cfg.Paths.SkillsRoot, skillName)
	if _, err := os.Stat(skillDir); err != nil {
		return fmt.Errorf("skill %q not found under %s: %w", skillName, rt.cfg.Paths.SkillsRoot, err)
	}

	res, err := skillscan.ScanSkill(rt.cfg.Paths.SkillsRoot, skillName)
	if err != nil {
		return fmt.Errorf("scan skill %q: %w", skillName, err)
	}
	if res == nil {
		return fmt.Errorf("skill %q has no SKILL.md under %s", skillName, rt.cfg.Paths.SkillsRoot)
	}

	rt.registry.ReplaceSkill(res.Skill, res.Commands)

	bySource := map[string][]routeindex.IndexInput{}
	for _, cmd := range res.Commands {
		bySource[cmd.SourceFile] = append(bySource[cmd.SourceFile], routeindex.IndexInput{
			Skill:   res.Skill,
			Command: cmd,
		})
	}
	for sourceFile, inputs := range bySource {
		if err := rt.indexer.ReindexFile(ctx, sourceFile, inputs); err != nil {
			return fmt.Errorf("reindex %s: %w", sourceFile, err)
		}
	}

	fmt.Printf("reindexed skill %q: %d commands across %d source files\n", skillName, len(res.Commands), len(bySource))
	return nil
}
