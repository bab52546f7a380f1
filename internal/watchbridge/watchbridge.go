// Package watchbridge adapts the routing Indexer and in-memory Registry
// into the watcher.Handler contract (spec.md §4.7): the watcher only
// knows about coalesced filesystem paths, so something has to turn a
// path back into the skill it belongs to and the routing rows that
// follow from it. Grounded on the teacher's internal/skills.Manager,
// which plays the same mediating role between its fsnotify loop and its
// in-memory tool registry.
package watchbridge

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arcweave/skillkernel/internal/kernel"
	"github.com/arcweave/skillkernel/internal/observability"
	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/internal/skillscan"
	"github.com/arcweave/skillkernel/internal/watcher"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// Bridge implements watcher.Handler over a routeindex.Indexer and a
// kernel.MapRegistry sharing the same skill root.
type Bridge struct {
	root     string
	registry *kernel.MapRegistry
	indexer  *routeindex.Indexer
	metrics  *observability.Metrics

	mu        sync.Mutex
	skillDirs map[string]string // absolute skill dir -> skill name
}

var _ watcher.Handler = (*Bridge)(nil)

// Option configures optional Bridge collaborators.
type Option func(*Bridge)

// WithMetrics records one skillkernel_watch_events_total increment per
// coalesced filesystem event the watcher hands to this Bridge.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New builds a Bridge seeded from an initial scan, so file events that
// land before the first explicit sync still resolve to a known skill.
func New(root string, registry *kernel.MapRegistry, indexer *routeindex.Indexer, initial []skillscan.Result, opts ...Option) *Bridge {
	b := &Bridge{
		root:      root,
		registry:  registry,
		indexer:   indexer,
		skillDirs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, res := range initial {
		b.skillDirs[res.Skill.Dir] = res.Skill.Name
		registry.Put(res.Skill, res.Commands)
	}
	return b
}

// IndexFile reindexes a single newly created .py file.
func (b *Bridge) IndexFile(ctx context.Context, path string) error {
	err := b.indexFile(ctx, path, false)
	b.recordWatchEvent("create", err)
	return err
}

// ReindexFile reindexes a single modified .py file.
func (b *Bridge) ReindexFile(ctx context.Context, path string) error {
	err := b.indexFile(ctx, path, true)
	b.recordWatchEvent("modify", err)
	return err
}

func (b *Bridge) indexFile(ctx context.Context, path string, replace bool) error {
	skillName, _, ok := b.skillForFile(path)
	if !ok {
		return fmt.Errorf("watchbridge: %s does not belong to a known skill", path)
	}

	commands, err := skillscan.ScanFile(path, skillName)
	if err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}

	skill, _ := b.registry.SkillByName(skillName)
	inputs := make([]routeindex.IndexInput, len(commands))
	for i, c := range commands {
		inputs[i] = routeindex.IndexInput{Skill: skill, Command: c}
	}

	var indexErr error
	if replace {
		indexErr = b.indexer.ReindexFile(ctx, path, inputs)
	} else {
		indexErr = b.indexer.IndexFile(ctx, path, inputs)
	}
	if indexErr != nil {
		return indexErr
	}

	b.registry.ReplaceFileCommands(skillName, path, commands)
	return nil
}

// RemoveFile drops every row and registered command sourced from path.
func (b *Bridge) RemoveFile(ctx context.Context, path string) error {
	err := b.removeFile(ctx, path)
	b.recordWatchEvent("remove", err)
	return err
}

func (b *Bridge) removeFile(ctx context.Context, path string) error {
	if err := b.indexer.RemoveFile(ctx, path); err != nil {
		return err
	}
	if skillName, _, ok := b.skillForFile(path); ok {
		b.registry.ReplaceFileCommands(skillName, path, nil)
	}
	return nil
}

func (b *Bridge) recordWatchEvent(op string, err error) {
	if b.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.metrics.RecordWatchEvent(op, outcome)
}

// RescanSkill re-parses skillDir's SKILL.md (and, transitively, its whole
// scripts tree) and reports whether the skill's externally visible
// surface changed: its description, or the set of commands it exposes.
// A SKILL.md that has disappeared drops the skill entirely.
func (b *Bridge) RescanSkill(ctx context.Context, skillDir string) (bool, error) {
	name := filepath.Base(skillDir)
	res, err := skillscan.ScanSkill(b.root, name)
	if err != nil {
		b.recordWatchEvent("rescan", err)
		return false, fmt.Errorf("rescan %s: %w", skillDir, err)
	}
	defer b.recordWatchEvent("rescan", nil)

	b.mu.Lock()
	priorName, known := b.skillDirs[skillDir]
	b.mu.Unlock()

	if res == nil {
		if !known {
			return false, nil
		}
		b.mu.Lock()
		delete(b.skillDirs, skillDir)
		b.mu.Unlock()
		b.registry.Remove(priorName)
		return true, nil
	}

	before, hadSkill := b.registry.SkillByName(res.Skill.Name)
	beforeCommands := b.registry.CommandNamesForSkill(res.Skill.Name)

	b.registry.ReplaceSkill(res.Skill, res.Commands)
	b.mu.Lock()
	b.skillDirs[skillDir] = res.Skill.Name
	b.mu.Unlock()

	if !hadSkill || !known {
		return true, nil
	}
	if before.Description != res.Skill.Description {
		return true, nil
	}

	afterCommands := commandNames(res.Commands)
	return !sameSet(beforeCommands, afterCommands), nil
}

// skillForFile finds the longest registered skill directory that path
// falls under; skill directories never nest inside one another, so the
// longest prefix match is unambiguous.
func (b *Bridge) skillForFile(path string) (skillName, dir string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var best string
	for d := range b.skillDirs {
		if d == path || strings.HasPrefix(path, d+string(filepath.Separator)) {
			if len(d) > len(best) {
				best = d
			}
		}
	}
	if best == "" {
		return "", "", false
	}
	return b.skillDirs[best], best, true
}

func commandNames(commands []pkgkernel.Command) []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.CanonicalName()
	}
	sort.Strings(names)
	return names
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
