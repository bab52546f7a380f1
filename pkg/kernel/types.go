// Package kernel holds the data types shared across the skill runtime's
// components: the skill/command data model (spec §3), the canonical MCP
// tool-result envelope, and the route plan handed from router to dispatcher.
package kernel

import (
	"encoding/json"
	"time"
)

// Skill is a directory-packaged unit of capability, identified by a
// directory name unique across the installation.
type Skill struct {
	Name            string   `yaml:"name" json:"name"`
	Version         string   `yaml:"version" json:"version"`
	Description     string   `yaml:"description" json:"description"`
	RoutingKeywords []string `yaml:"routing_keywords" json:"routing_keywords"`
	Intents         []string `yaml:"intents" json:"intents"`
	Authors         []string `yaml:"authors" json:"authors"`
	Repository      string   `yaml:"repository" json:"repository"`
	Permissions     []string `yaml:"permissions" json:"permissions"`

	// Dir is the absolute path to the skill's root directory.
	Dir string `yaml:"-" json:"-"`
	// Body is the markdown body shown to the LLM when the skill is active.
	Body string `yaml:"-" json:"-"`
}

// ExecutionMode is a command's declared execution mode.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// Command is a single callable inside a skill, addressable as
// "<skill>.<function>". It inherits its owning skill's permissions.
type Command struct {
	SkillName    string          `json:"skill_name"`
	FunctionName string          `json:"function_name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	Mode         ExecutionMode   `json:"mode"`
	Keywords     []string        `json:"keywords,omitempty"`
	Category     string          `json:"category,omitempty"`
	Docstring    string          `json:"docstring,omitempty"`

	// SourceFile is the .py file this command was parsed from.
	SourceFile string `json:"source_file"`
	// FileHash is the content hash of SourceFile at scan time.
	FileHash string `json:"file_hash"`
}

// CanonicalName returns "<skill>.<function>".
func (c *Command) CanonicalName() string {
	return c.SkillName + "." + c.FunctionName
}

// RoutingRow is one row in the routing index, one per live command.
type RoutingRow struct {
	ID          string    `json:"id"` // "<skill>.<function>"
	ToolName    string    `json:"tool_name"`
	Intents     []string  `json:"intents"`
	Keywords    []string  `json:"keywords"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Embedding   []float32 `json:"-"`
	FileHash    string    `json:"file_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmbeddingSource renders the fixed template used to embed this row:
// "{tool_name}. {description}. intents: {intents}" — any implementation
// must use this exact template so a pre-computed index stays compatible.
func (r *RoutingRow) EmbeddingSource() string {
	intents := ""
	for i, in := range r.Intents {
		if i > 0 {
			intents += ", "
		}
		intents += in
	}
	return r.ToolName + ". " + r.Description + ". intents: " + intents
}

// ConfidenceLevel is the router's coarse-grained confidence bucket.
type ConfidenceLevel string

const (
	ConfidenceNone   ConfidenceLevel = "none"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// IntentMode selects the retrieval strategy the router runs.
type IntentMode string

const (
	IntentExact    IntentMode = "exact"
	IntentSemantic IntentMode = "semantic"
	IntentHybrid   IntentMode = "hybrid"
)

// Candidate is one ranked row in a RoutePlan.
type Candidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Row   RoutingRow `json:"row"`
}

// RoutePlan is the value returned by the router to the dispatcher.
type RoutePlan struct {
	RequestedMode        IntentMode      `json:"requested_mode"`
	SelectedMode         IntentMode      `json:"selected_mode"`
	Reason               string          `json:"reason"`
	GraphHitCount        int             `json:"graph_hit_count"`
	GraphConfidenceScore float64         `json:"graph_confidence_score"`
	GraphConfidenceLevel ConfidenceLevel `json:"graph_confidence_level"`

	CandidateLimit int `json:"candidate_limit"`
	MaxSources     int `json:"max_sources"`
	RowsPerSource  int `json:"rows_per_source"`

	Candidates []Candidate `json:"candidates"`
}

// ContentBlock is one element of a canonical MCP tool-result envelope.
type ContentBlock struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// Envelope is the canonical MCP tool-result shape. No extra top-level keys
// are ever permitted.
type Envelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// TextEnvelope builds a single-block text envelope.
func TextEnvelope(text string, isError bool) Envelope {
	return Envelope{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: isError}
}

// ChunkedSessionStatus is the chunked workflow's one-way state machine.
type ChunkedSessionStatus string

const (
	SessionCreated     ChunkedSessionStatus = "created"
	SessionInProgress  ChunkedSessionStatus = "in_progress"
	SessionSynthesized ChunkedSessionStatus = "synthesized"
	SessionExpired     ChunkedSessionStatus = "expired"
)
