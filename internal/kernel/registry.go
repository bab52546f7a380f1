package kernel

import (
	"sort"

	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// Registry resolves canonical command names and alias substitution for the
// dispatcher. The routeindex-backed production registry and the scanner's
// in-memory skill/command maps both satisfy this directly.
type Registry interface {
	// Lookup returns the command and its owning skill for a canonical
	// "<skill>.<function>" name, or ok=false if unknown.
	Lookup(canonicalName string) (cmd pkgkernel.Command, skill pkgkernel.Skill, ok bool)
	// ResolveAlias returns the canonical name an alias maps to, or ("",
	// false) if name is not an alias.
	ResolveAlias(name string) (canonical string, ok bool)
	// All returns every live command, sorted by canonical name, for
	// tools/list.
	All() []pkgkernel.Command
}

// MapRegistry is a simple in-memory Registry, built from scanner output
// plus a static alias map from configuration.
type MapRegistry struct {
	commands map[string]pkgkernel.Command
	skills   map[string]pkgkernel.Skill
	aliases  map[string]string
}

func NewMapRegistry(aliases map[string]string) *MapRegistry {
	return &MapRegistry{
		commands: make(map[string]pkgkernel.Command),
		skills:   make(map[string]pkgkernel.Skill),
		aliases:  aliases,
	}
}

func (r *MapRegistry) Put(skill pkgkernel.Skill, commands []pkgkernel.Command) {
	r.skills[skill.Name] = skill
	for _, c := range commands {
		r.commands[c.CanonicalName()] = c
	}
}

func (r *MapRegistry) Remove(skillName string) {
	delete(r.skills, skillName)
	for name, c := range r.commands {
		if c.SkillName == skillName {
			delete(r.commands, name)
		}
	}
}

func (r *MapRegistry) Lookup(canonicalName string) (pkgkernel.Command, pkgkernel.Skill, bool) {
	cmd, ok := r.commands[canonicalName]
	if !ok {
		return pkgkernel.Command{}, pkgkernel.Skill{}, false
	}
	skill := r.skills[cmd.SkillName]
	return cmd, skill, true
}

func (r *MapRegistry) ResolveAlias(name string) (string, bool) {
	canonical, ok := r.aliases[name]
	return canonical, ok
}

// SkillByName returns skill metadata previously stored via Put, for
// diffing a skill's visible surface after a rescan.
func (r *MapRegistry) SkillByName(name string) (pkgkernel.Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// CommandNamesForSkill lists the canonical names currently registered for
// skillName, sorted, for diffing a skill's visible surface after a
// rescan.
func (r *MapRegistry) CommandNamesForSkill(skillName string) []string {
	var names []string
	for name, c := range r.commands {
		if c.SkillName == skillName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ReplaceSkill swaps a skill's entire command set atomically: every
// command previously registered under skill.Name is dropped before
// commands is inserted, so a function renamed or removed from a skill's
// scripts tree doesn't linger as a stale entry.
func (r *MapRegistry) ReplaceSkill(skill pkgkernel.Skill, commands []pkgkernel.Command) {
	r.Remove(skill.Name)
	r.Put(skill, commands)
}

// ReplaceFileCommands swaps the commands sourced from sourceFile: every
// existing command belonging to skillName and parsed from sourceFile is
// dropped, and commands is inserted in their place. Used for single-file
// index/reindex, where a whole-skill rescan would be wasteful.
func (r *MapRegistry) ReplaceFileCommands(skillName, sourceFile string, commands []pkgkernel.Command) {
	for name, c := range r.commands {
		if c.SkillName == skillName && c.SourceFile == sourceFile {
			delete(r.commands, name)
		}
	}
	for _, c := range commands {
		r.commands[c.CanonicalName()] = c
	}
}

func (r *MapRegistry) All() []pkgkernel.Command {
	out := make([]pkgkernel.Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalName() < out[j].CanonicalName() })
	return out
}
