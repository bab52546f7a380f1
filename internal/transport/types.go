// Package transport implements the JSON-RPC Transport (C9): a stdio,
// line-framed server and an SSE server that both dispatch through one
// shared Handler, per spec.md §4.9.
//
// Grounded on the teacher's internal/mcp package, which implements the
// client side of the same protocol (transport.go's Transport interface,
// transport_stdio.go's line-framed subprocess protocol, transport_http.go's
// POST+SSE pairing, and types.go's wire types). This package inverts that
// client shape into a server: instead of spawning a subprocess and waiting
// on its stdout, it reads requests from its own stdin and writes responses
// to its own stdout; instead of polling an HTTP endpoint, it holds the SSE
// connection open and pushes.
package transport

import "encoding/json"

const ProtocolVersion = "2025-03-26"

// Request is a JSON-RPC 2.0 request. ID is present; a Request with a nil
// ID is, per the wire protocol, actually a Notification (see Notification
// below) and is never represented by this type once decoded.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification: no id, one-way.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

func errorResponse(id any, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

func resultResponse(id any, result any) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, ErrCodeInternalError, err.Error())
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: data}
}

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tools/list_changed support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities is the server's half of the initialize handshake. Resources
// and prompts are both advertised empty: this runtime's surface is tools
// only (spec.md's prompts/list and resources/list are ambient protocol
// completeness, not a populated feature).
type Capabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Resources *struct{}        `json:"resources,omitempty"`
	Prompts   *struct{}        `json:"prompts,omitempty"`
}

// InitializeResult is the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// ToolDescriptor is one entry in a tools/list result.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams is tools/call's params object.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts []any `json:"prompts"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources []any `json:"resources"`
}

// EmbedTextsParams is embed_texts' params object.
type EmbedTextsParams struct {
	Texts []string `json:"texts"`
}

// EmbedTextsResult is embed_texts' result.
type EmbedTextsResult struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedSingleParams is embed_single's params object.
type EmbedSingleParams struct {
	Text string `json:"text"`
}

// EmbedSingleResult is embed_single's result.
type EmbedSingleResult struct {
	Embedding []float32 `json:"embedding"`
}

// ToolsListChangedMethod is the notification method fired whenever the
// watcher reports a visible change to the tool surface.
const ToolsListChangedMethod = "notifications/tools/listChanged"

// ChunkedWorkflowToolName is the built-in tool that exposes the Chunked
// Workflow Engine (C8) over tools/call, per spec.md §4.8: one tool, phases
// selected by the action field rather than separate JSON-RPC methods.
const ChunkedWorkflowToolName = "chunked_workflow"

// chunkedWorkflowInputSchema is advertised in tools/list so clients can
// validate action-specific field combinations before calling.
const chunkedWorkflowInputSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["start", "batch", "synthesize", "auto_complete"]},
		"payload": {"type": "array"},
		"batch_size": {"type": "integer", "minimum": 1},
		"session_id": {"type": "string"},
		"batch_index": {"type": "integer", "minimum": 0},
		"previous_result": {},
		"final_result": {}
	},
	"required": ["action"]
}`

// ChunkedWorkflowParams is chunked_workflow's params object. Which fields
// matter depends on action: start needs payload/batch_size, batch needs
// session_id/batch_index, synthesize needs session_id, auto_complete needs
// payload/batch_size. previous_result/final_result use json.RawMessage so
// presence (vs. an explicit JSON null or omission) drives the engine's
// hasPreviousResult/hasFinalResult flags.
type ChunkedWorkflowParams struct {
	Action         string          `json:"action"`
	Payload        []any           `json:"payload,omitempty"`
	BatchSize      int             `json:"batch_size,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	BatchIndex     int             `json:"batch_index,omitempty"`
	PreviousResult json.RawMessage `json:"previous_result,omitempty"`
	FinalResult    json.RawMessage `json:"final_result,omitempty"`
}
