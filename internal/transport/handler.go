package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcweave/skillkernel/internal/chunkflow"
	"github.com/arcweave/skillkernel/internal/kernel"
	"github.com/arcweave/skillkernel/internal/kernelerr"
	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/internal/workerpool"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// embedJob is one embed_texts call offloaded to the worker pool.
type embedJob struct {
	texts []string
}

// Handler answers handle_request/handle_notification against a shared
// kernel.Dispatcher and kernel.Registry, regardless of which transport
// (stdio or SSE) received the message. embed_texts/embed_single run on
// embedPool so a slow embedder never stalls a transport's read loop.
type Handler struct {
	registry   kernel.Registry
	dispatcher *kernel.Dispatcher
	embedder   routeindex.Embedder
	embedPool  *workerpool.Pool[embedJob, [][]float32]
	serverInfo ServerInfo
	engine     *chunkflow.Engine
}

// NewHandler wires a Handler. embedWorkers/embedQueue size the bounded
// pool embed_texts/embed_single run on; both default to a single worker
// with a small queue if non-positive. engine backs the built-in
// chunked_workflow tool (spec.md §4.8); a nil engine simply makes that
// tool unavailable.
func NewHandler(registry kernel.Registry, dispatcher *kernel.Dispatcher, embedder routeindex.Embedder, serverInfo ServerInfo, embedWorkers, embedQueue int, engine *chunkflow.Engine) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		embedder:   embedder,
		serverInfo: serverInfo,
		engine:     engine,
	}
	h.embedPool = workerpool.New(embedWorkers, embedQueue, func(ctx context.Context, j embedJob) ([][]float32, error) {
		if h.embedder == nil {
			return nil, fmt.Errorf("embedder unavailable")
		}
		return h.embedder.Embed(ctx, j.texts)
	})
	h.embedPool.Start()
	return h
}

func (h *Handler) Close() { h.embedPool.Stop() }

// HandleRequest answers handle_request(req) -> resp. It never returns nil;
// every path yields either a JSON-RPC error object or a result.
func (h *Handler) HandleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req.ID)
	case "tools/list":
		return h.handleToolsList(req.ID)
	case "tools/call":
		return h.handleToolsCall(ctx, req.ID, req.Params)
	case "prompts/list":
		return resultResponse(req.ID, ListPromptsResult{Prompts: []any{}})
	case "resources/list":
		return resultResponse(req.ID, ListResourcesResult{Resources: []any{}})
	case "embed_texts":
		return h.handleEmbedTexts(ctx, req.ID, req.Params)
	case "embed_single":
		return h.handleEmbedSingle(ctx, req.ID, req.Params)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

// HandleNotification answers handle_notification(method, params) -> ∅.
// The only client-originated notification in the MCP handshake,
// "notifications/initialized", requires no server-side action; anything
// else is ignored rather than treated as an error, since notifications by
// definition expect no response.
func (h *Handler) HandleNotification(ctx context.Context, method string, params json.RawMessage) {
}

func (h *Handler) handleInitialize(id any) *Response {
	return resultResponse(id, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: true}},
		ServerInfo:      h.serverInfo,
	})
}

func (h *Handler) handleToolsList(id any) *Response {
	cmds := h.registry.All()
	tools := make([]ToolDescriptor, 0, len(cmds)+1)
	for _, c := range cmds {
		tools = append(tools, ToolDescriptor{
			Name:        c.CanonicalName(),
			Description: c.Description,
			InputSchema: c.InputSchema,
		})
	}
	if h.engine != nil {
		tools = append(tools, ToolDescriptor{
			Name:        ChunkedWorkflowToolName,
			Description: "Drive the chunked workflow engine's start/batch/synthesize/auto_complete phases over a large payload",
			InputSchema: json.RawMessage(chunkedWorkflowInputSchema),
		})
	}
	return resultResponse(id, ListToolsResult{Tools: tools})
}

func (h *Handler) handleToolsCall(ctx context.Context, id any, params json.RawMessage) *Response {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	if p.Name == "" {
		return errorResponse(id, ErrCodeInvalidParams, "name is required")
	}

	if p.Name == ChunkedWorkflowToolName {
		return resultResponse(id, h.handleChunkedWorkflow(ctx, p.Arguments))
	}

	env := h.dispatcher.ExecuteTool(ctx, p.Name, p.Arguments, nil)
	return resultResponse(id, env)
}

// handleChunkedWorkflow dispatches one action of the chunked_workflow
// built-in tool to the C8 engine and wraps the result (or error) into the
// canonical tool-result envelope, the same contract every other tool call
// returns.
func (h *Handler) handleChunkedWorkflow(ctx context.Context, arguments json.RawMessage) pkgkernel.Envelope {
	if h.engine == nil {
		return errEnvelope(kernelerr.New(kernelerr.Internal, "chunked workflow engine unavailable"))
	}

	var p ChunkedWorkflowParams
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &p); err != nil {
			return errEnvelope(kernelerr.Newf(kernelerr.InvalidArguments, "chunked_workflow arguments: %v", err))
		}
	}

	switch p.Action {
	case "start":
		result, err := h.engine.Start(p.Payload, p.BatchSize, nil)
		if err != nil {
			return errEnvelope(toKernelErr(err))
		}
		return okEnvelope(result)

	case "batch":
		previous, hasPrevious, err := decodeOptional(p.PreviousResult)
		if err != nil {
			return errEnvelope(kernelerr.Newf(kernelerr.InvalidArguments, "previous_result: %v", err))
		}
		result, execErr := h.engine.Batch(p.SessionID, p.BatchIndex, previous, hasPrevious)
		if execErr != nil {
			return errEnvelope(toKernelErr(execErr))
		}
		return okEnvelope(result)

	case "synthesize":
		final, hasFinal, err := decodeOptional(p.FinalResult)
		if err != nil {
			return errEnvelope(kernelerr.Newf(kernelerr.InvalidArguments, "final_result: %v", err))
		}
		result, execErr := h.engine.Synthesize(ctx, p.SessionID, final, hasFinal)
		if execErr != nil {
			return errEnvelope(toKernelErr(execErr))
		}
		return okEnvelope(result)

	case "auto_complete":
		identity := func(_ context.Context, batch []any, _ int) (any, error) { return batch, nil }
		result, err := h.engine.AutoComplete(ctx, p.Payload, p.BatchSize, identity, nil)
		if err != nil {
			return errEnvelope(toKernelErr(err))
		}
		return okEnvelope(result)

	default:
		return errEnvelope(kernelerr.Newf(kernelerr.InvalidArguments, "unknown chunked_workflow action: %q", p.Action))
	}
}

// decodeOptional reports whether raw carries an explicit value (as
// opposed to an omitted field) and decodes it into an any for the engine's
// accumulator, matching the "implicit append" the engine's Batch/Synthesize
// signatures expect from a caller driving it across separate RPC calls.
func decodeOptional(raw json.RawMessage) (value any, present bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// toKernelErr normalizes engine errors to *kernelerr.Error so every
// chunked_workflow failure carries the same typed Kind the dispatcher's
// own errors do.
func toKernelErr(err error) *kernelerr.Error {
	if kerr, ok := err.(*kernelerr.Error); ok {
		return kerr
	}
	return kernelerr.New(kernelerr.Internal, err.Error())
}

func errEnvelope(err *kernelerr.Error) pkgkernel.Envelope {
	return pkgkernel.TextEnvelope(err.Error(), true)
}

// okEnvelope wraps a successful chunked_workflow result the same way
// kernel.Dispatcher's normalize does for arbitrary JSON-able return values.
func okEnvelope(value any) pkgkernel.Envelope {
	data, err := json.Marshal(value)
	if err != nil {
		return pkgkernel.TextEnvelope(fmt.Sprintf("%v", value), false)
	}
	return pkgkernel.TextEnvelope(string(data), false)
}

func (h *Handler) handleEmbedTexts(ctx context.Context, id any, params json.RawMessage) *Response {
	var p EmbedTextsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	vecs, err := h.embedPool.SubmitWait(ctx, embedJob{texts: p.Texts})
	if err != nil {
		return errorResponse(id, ErrCodeInternalError, err.Error())
	}
	return resultResponse(id, EmbedTextsResult{Embeddings: vecs})
}

func (h *Handler) handleEmbedSingle(ctx context.Context, id any, params json.RawMessage) *Response {
	var p EmbedSingleParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	vecs, err := h.embedPool.SubmitWait(ctx, embedJob{texts: []string{p.Text}})
	if err != nil {
		return errorResponse(id, ErrCodeInternalError, err.Error())
	}
	if len(vecs) == 0 {
		return errorResponse(id, ErrCodeInternalError, "embedder returned no vector")
	}
	return resultResponse(id, EmbedSingleResult{Embedding: vecs[0]})
}
