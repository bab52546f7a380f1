// Package skillscan implements the Skill Scanner (spec §4.1): it walks a
// skill root directory, parses each skill's SKILL.md frontmatter, and
// enumerates @skill_command-tagged functions in that skill's scripts tree.
//
// Grounded on the teacher's internal/skills/parser.go (frontmatter split)
// and internal/skills/discovery.go (directory walking, exclusion rules).
package skillscan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

const (
	skillFilename = "SKILL.md"
	scriptsDir    = "scripts"
)

// excludedDirs are skipped while walking a skill's scripts tree: version
// control, caches, and language build directories.
var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"__pycache__":  true,
	".mypy_cache":  true,
	".pytest_cache": true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

// IsExcludedDir reports whether a directory name should be skipped when
// walking or watching a skill tree. Shared with internal/watcher so both
// components agree on what counts as noise.
func IsExcludedDir(name string) bool {
	return excludedDirs[name]
}

// Result is everything the scanner produces for one skill.
type Result struct {
	Skill    kernel.Skill
	Commands []kernel.Command
}

// SkillError isolates a single skill's scan failure so it never prevents
// enumeration of its siblings (spec.md §4.1: "Errors per-skill are
// isolated").
type SkillError struct {
	Dir string
	Err error
}

func (e *SkillError) Error() string { return fmt.Sprintf("skill %s: %v", e.Dir, e.Err) }
func (e *SkillError) Unwrap() error { return e.Err }

// ScanAll walks root non-recursively to enumerate candidate skill
// directories and scans each one. It is pure (filesystem reads only) and
// deterministic under a stable filesystem snapshot: results are sorted by
// skill name. Per-skill errors are collected and returned alongside
// whatever results did succeed, rather than aborting the whole walk.
func ScanAll(root string) ([]Result, []error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, []error{fmt.Errorf("read skills root: %w", err)}
	}

	var results []Result
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || hiddenName(entry.Name()) {
			continue
		}
		res, err := ScanSkill(root, entry.Name())
		if err != nil {
			errs = append(errs, &SkillError{Dir: entry.Name(), Err: err})
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Skill.Name < results[j].Skill.Name })
	return results, errs
}

// ScanSkill scans exactly one skill directory under root, returning nil (no
// error) if the directory has no SKILL.md at all — it simply is not a
// skill.
func ScanSkill(root, name string) (*Result, error) {
	dir := filepath.Join(root, name)
	smPath := filepath.Join(dir, skillFilename)

	data, err := os.ReadFile(smPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", skillFilename, err)
	}

	skill, err := parseSkillFile(data, dir)
	if err != nil {
		return nil, err
	}
	if skill.Name == "" {
		skill.Name = name
	}

	commands, err := scanCommands(dir, skill.Name)
	if err != nil {
		return nil, err
	}

	return &Result{Skill: *skill, Commands: commands}, nil
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metadata    struct {
		Version         string   `yaml:"version"`
		Authors         []string `yaml:"authors"`
		RoutingKeywords []string `yaml:"routing_keywords"`
		Intents         []string `yaml:"intents"`
		Source          string   `yaml:"source"`
		Permissions     []string `yaml:"permissions"`
	} `yaml:"metadata"`
}

func parseSkillFile(data []byte, dir string) (*kernel.Skill, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	var doc frontmatter
	if err := yaml.Unmarshal(fm, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal frontmatter: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if doc.Description == "" {
		return nil, fmt.Errorf("missing required field: description")
	}
	if doc.Metadata.Version == "" {
		return nil, fmt.Errorf("missing required field: metadata.version")
	}

	return &kernel.Skill{
		Name:            doc.Name,
		Version:         doc.Metadata.Version,
		Description:     doc.Description,
		RoutingKeywords: doc.Metadata.RoutingKeywords,
		Intents:         doc.Metadata.Intents,
		Authors:         doc.Metadata.Authors,
		Repository:      doc.Metadata.Source,
		Permissions:     doc.Metadata.Permissions,
		Dir:             dir,
		Body:            string(body),
	}, nil
}

// scanCommands walks <dir>/scripts recursively (skipping hidden and
// excluded directories) and parses every .py file for skill_command
// entries.
func scanCommands(dir, skillName string) ([]kernel.Command, error) {
	root := filepath.Join(dir, scriptsDir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var commands []kernel.Command
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (hiddenName(d.Name()) || excludedDirs[d.Name()]) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}

		fileCommands, err := ScanFile(path, skillName)
		if err != nil {
			return err
		}
		commands = append(commands, fileCommands...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(commands, func(i, j int) bool { return commands[i].FunctionName < commands[j].FunctionName })
	return commands, nil
}

// ScanFile parses a single .py file for skill_command entries. Exported
// so the watcher can reindex one changed file without re-walking (and
// re-parsing) its whole owning skill.
func ScanFile(path, skillName string) ([]kernel.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	hash := contentHash(data)

	var commands []kernel.Command
	for _, pc := range scanPythonSource(string(data)) {
		name := pc.Name
		if name == "" {
			name = pc.FunctionName
		}
		commands = append(commands, kernel.Command{
			SkillName:    skillName,
			FunctionName: name,
			Description:  pc.Description,
			Mode:         kernel.ModeSync,
			Keywords:     pc.Keywords,
			Category:     pc.Category,
			Docstring:    pc.Docstring,
			SourceFile:   path,
			FileHash:     hash,
		})
	}

	sort.Slice(commands, func(i, j int) bool { return commands[i].FunctionName < commands[j].FunctionName })
	return commands, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
