// Package contextasm implements the context assembler (spec component
// C10): the layered, token-budgeted composition that turns a skill's
// persona, procedural guide, ambient repository state, recalled memories,
// and pruned conversation history into the message list sent to the LLM
// for one turn.
//
// It is grounded on two teacher sources: internal/agent/context's
// packer.go (budget-from-the-end message selection) and pruning.go
// (tool-result-specific clearing that never removes an addressable
// message outright, only its content), plus internal/memory/hierarchy.go
// for the shape of an episodic-memory lookup. None of those packages are
// reused verbatim — this assembler's layer list and budget semantics are
// specific to this runtime.
package contextasm

import (
	"context"
	"fmt"
	"strings"

	llmctx "github.com/arcweave/skillkernel/internal/context"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one message in the assembled stream.
type Turn struct {
	Role Role `json:"role"`
	Content string `json:"content"`

	// ToolCallID identifies the assistant tool call a tool-role turn is a
	// result for. Preserved even when the turn's content is replaced by a
	// pruning placeholder, so the id stays addressable.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Memory is one associative recollection surfaced by an episodic memory
// provider for the current query.
type Memory struct {
	Text  string
	Score float32
}

// GitStatusProvider supplies the working-tree summary injected as layer 3.
// Implementations should return ("", nil) when there is nothing worth
// surfacing (clean tree, not a repository, etc.) rather than an error.
type GitStatusProvider interface {
	Status(ctx context.Context) (string, error)
}

// EpisodicMemoryProvider recalls memories relevant to the current query.
// Implementations are free to back this with a vector store, a keyword
// index, or anything else; the assembler only cares about the ranked text.
type EpisodicMemoryProvider interface {
	Recall(ctx context.Context, query string, limit int) ([]Memory, error)
}

// Options configures an Assembler.
type Options struct {
	// TotalTokens is the model's context window, in tokens.
	TotalTokens int

	// MinQueryChars is the minimum length a query must reach before the
	// episodic memory layer is consulted at all. Spec default: 8.
	MinQueryChars int

	// MemoryLimit caps how many recalled memories layer 4 will consider.
	MemoryLimit int

	// KeepLastRounds is how many of the most recent user-initiated
	// conversational rounds are kept fully intact (including tool
	// output content) before the history pruner starts replacing older
	// tool outputs with placeholders.
	KeepLastRounds int

	// ToolPlaceholder replaces the content of a pruned tool-role turn.
	ToolPlaceholder string
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return Options{
		TotalTokens:     llmctx.DefaultContextWindow,
		MinQueryChars:   8,
		MemoryLimit:     5,
		KeepLastRounds:  3,
		ToolPlaceholder: "[tool output omitted to save context]",
	}
}

// Assembler composes the layered message stream for one turn.
type Assembler struct {
	opts   Options
	git    GitStatusProvider
	memory EpisodicMemoryProvider
}

// New builds an Assembler. git and memory may both be nil, in which case
// their layers are skipped unconditionally.
func New(opts Options, git GitStatusProvider, memory EpisodicMemoryProvider) *Assembler {
	if opts.TotalTokens <= 0 {
		opts.TotalTokens = llmctx.DefaultContextWindow
	}
	if opts.MinQueryChars <= 0 {
		opts.MinQueryChars = 8
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = 5
	}
	if opts.KeepLastRounds <= 0 {
		opts.KeepLastRounds = 3
	}
	if opts.ToolPlaceholder == "" {
		opts.ToolPlaceholder = "[tool output omitted to save context]"
	}
	return &Assembler{opts: opts, git: git, memory: memory}
}

// Assemble builds the final message list for one LLM turn.
//
// persona is the system prompt (layer 1, never dropped). skill is the
// currently active skill, if any (layer 2, its Body is the procedural
// guide). query is the user's current request, used both to gate and key
// the episodic memory lookup (layer 4). history is the pruned-so-far
// conversation (layer 5); its last turn is treated as the current user
// message and is never dropped.
func (a *Assembler) Assemble(ctx context.Context, persona string, skill *pkgkernel.Skill, query string, history []Turn) ([]Turn, error) {
	budget := llmctx.NewWindow(a.opts.TotalTokens, "contextasm")

	out := make([]Turn, 0, len(history)+4)

	// Layer 1: system persona. Never dropped, even if it alone exceeds
	// the window -- a model with no system message is worse than one
	// that immediately has to truncate history.
	systemTurn := Turn{Role: RoleSystem, Content: persona}
	budget.AddText(systemTurn.Content)
	out = append(out, systemTurn)

	// Layer 2: active skill's procedural guide.
	if skill != nil && strings.TrimSpace(skill.Body) != "" {
		guide := Turn{Role: RoleSystem, Content: skill.Body}
		if fitsLayer(budget, guide.Content) {
			budget.AddText(guide.Content)
			out = append(out, guide)
		}
	}

	// Layer 3: git status summary, when a provider is wired and has
	// something to say.
	if a.git != nil {
		status, err := a.git.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("contextasm: git status: %w", err)
		}
		if strings.TrimSpace(status) != "" {
			turn := Turn{Role: RoleSystem, Content: "Working tree status:\n" + status}
			if fitsLayer(budget, turn.Content) {
				budget.AddText(turn.Content)
				out = append(out, turn)
			}
		}
	}

	// Layer 4: associative memories, gated on query length so a short or
	// empty query (a slash command, a one-word reply) never pays for a
	// recall round trip.
	if a.memory != nil && len(strings.TrimSpace(query)) >= a.opts.MinQueryChars {
		memories, err := a.memory.Recall(ctx, query, a.opts.MemoryLimit)
		if err != nil {
			return nil, fmt.Errorf("contextasm: recall memories: %w", err)
		}
		if turn, ok := formatMemories(memories); ok && fitsLayer(budget, turn.Content) {
			budget.AddText(turn.Content)
			out = append(out, turn)
		}
	}

	// Layer 5: pruned conversation history.
	pruned := pruneHistory(history, a.opts.KeepLastRounds, a.opts.ToolPlaceholder)
	fitted := fitHistory(budget, pruned)
	out = append(out, fitted...)

	return out, nil
}

// fitsLayer reports whether content would fit in the remaining budget.
// Layers are all-or-nothing: a layer that doesn't fit is skipped whole,
// never truncated mid-message.
func fitsLayer(w *llmctx.Window, content string) bool {
	return w.CanFitText(content)
}

func formatMemories(memories []Memory) (Turn, bool) {
	if len(memories) == 0 {
		return Turn{}, false
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, m := range memories {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", text)
	}
	if b.Len() == len("Relevant memories:\n") {
		return Turn{}, false
	}
	return Turn{Role: RoleSystem, Content: b.String()}, true
}

// pruneHistory implements the spec's pruning invariant: the most recent
// keepLastRounds conversational rounds (each round starts at a user turn)
// are kept intact; tool-role turns in older rounds have their content
// replaced by placeholder, preserving ToolCallID, rather than being
// removed outright -- so any later reference to that id still resolves.
// The current (last) turn is always kept as part of the most recent
// round, by construction.
func pruneHistory(history []Turn, keepLastRounds int, placeholder string) []Turn {
	if len(history) == 0 {
		return history
	}

	cutoff := roundCutoffIndex(history, keepLastRounds)

	out := make([]Turn, len(history))
	copy(out, history)
	for i := 0; i < cutoff; i++ {
		if out[i].Role != RoleTool {
			continue
		}
		out[i] = Turn{Role: RoleTool, ToolCallID: out[i].ToolCallID, Content: placeholder}
	}
	return out
}

// roundCutoffIndex returns the index of the first turn belonging to the
// most recent keepLastRounds rounds. Turns before this index are
// eligible for tool-output pruning; turns at or after it are kept as-is.
func roundCutoffIndex(history []Turn, keepLastRounds int) int {
	if keepLastRounds <= 0 {
		return len(history)
	}
	remaining := keepLastRounds
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			remaining--
			if remaining == 0 {
				return i
			}
		}
	}
	return 0
}

// fitHistory drops whole turns from the oldest end of pruned history
// until it fits the remaining budget, never splitting a turn's content.
// The last turn (the current user message) is always kept.
func fitHistory(w *llmctx.Window, history []Turn) []Turn {
	if len(history) == 0 {
		return history
	}

	tokens := make([]int, len(history))
	total := 0
	for i, t := range history {
		tokens[i] = llmctx.EstimateTokens(t.Content)
		total += tokens[i]
	}

	start := 0
	for start < len(history)-1 && total > w.Remaining() {
		total -= tokens[start]
		start++
	}

	kept := history[start:]
	for _, t := range kept {
		w.AddText(t.Content)
	}
	return kept
}
