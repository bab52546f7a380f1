// Package kernel implements the Kernel Dispatcher (C6): alias resolution,
// permission enforcement, heartbeat-supervised execution with independent
// idle/total timeouts, and canonical envelope normalization.
//
// Grounded on the teacher's internal/heartbeat.Runner for the
// ticking/timeout supervisor shape (see heartbeat.go) and on
// internal/mcp's result-wrapping conventions for envelope normalization,
// generalized from an MCP client's response handling to a server-side
// dispatch contract.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/arcweave/skillkernel/internal/kernelerr"
	"github.com/arcweave/skillkernel/internal/observability"
	"github.com/arcweave/skillkernel/internal/permission"
	pkgkernel "github.com/arcweave/skillkernel/pkg/kernel"
)

// Executor runs one resolved command to completion. Implementations
// receive hb so long-running or cooperative commands can call hb.Touch()
// (directly, or via RunWithHeartbeat) to stay under the idle timeout.
type Executor interface {
	Execute(ctx context.Context, cmd pkgkernel.Command, args json.RawMessage, hb *Heartbeat) (any, error)
}

// Timeouts configures the per-call supervisor, sourced from
// timeouts.total_ms / timeouts.idle_ms.
type Timeouts struct {
	Total time.Duration
	Idle  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Total: 120 * time.Second, Idle: 30 * time.Second}
}

// idlePollInterval is how often the supervisor samples Heartbeat.IdleFor.
const idlePollInterval = 250 * time.Millisecond

// Dispatcher is the C6 process singleton: new()/execute()/shutdown(), no
// lazy module-level state.
type Dispatcher struct {
	registry Registry
	executor Executor
	timeouts Timeouts
	events   observability.DispatchRecorder
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	schemaCache sync.Map // canonical name -> *jsonschema.Schema
}

type DispatcherOption func(*Dispatcher)

func WithTimeouts(t Timeouts) DispatcherOption { return func(d *Dispatcher) { d.timeouts = t } }
func WithEventRecorder(r observability.DispatchRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.events = r }
}

// WithMetrics records a skillkernel_dispatch_total increment and a
// duration observation for every execute_tool call.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer opens one span per execute_tool call (spec.md §4.6 step 5).
func WithTracer(t *observability.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

func NewDispatcher(registry Registry, executor Executor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		executor: executor,
		timeouts: DefaultTimeouts(),
		events:   observability.NoopDispatchRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CallerPermissions is the permission set a caller grants to the command
// it invokes. A nil value (end user) grants everything.
type CallerPermissions []string

var GrantAll CallerPermissions = []string{"*"}

// ExecuteTool is the C6 contract: execute_tool(name, arguments, caller?) ->
// result. caller is the invoking skill's declared permissions, or nil for
// an end-user caller (which grants all permissions per spec.md §4.6 step 2).
func (d *Dispatcher) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage, caller CallerPermissions) pkgkernel.Envelope {
	start := time.Now()
	canonical := name
	resolvedFromAlias := false
	if alias, ok := d.registry.ResolveAlias(name); ok {
		canonical = alias
		resolvedFromAlias = true
	}

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.TraceDispatch(ctx, canonical)
		defer span.End()
	}

	cmd, skill, ok := d.registry.Lookup(canonical)
	if !ok {
		d.emit(canonical, resolvedFromAlias, time.Since(start), "error")
		return errorEnvelope(kernelerr.New(kernelerr.ToolNotFound, fmt.Sprintf("unknown tool: %s", name)))
	}

	perms := caller
	if perms == nil {
		perms = GrantAll
	}
	if err := permission.Gate(skill.Name, canonical, perms); err != nil {
		d.emit(canonical, resolvedFromAlias, time.Since(start), "error")
		return errorEnvelope(kernelerr.New(kernelerr.PermissionDenied, err.Error()))
	}

	if err := d.validateArguments(cmd, arguments); err != nil {
		d.emit(canonical, resolvedFromAlias, time.Since(start), "error")
		return errorEnvelope(err)
	}

	result, kind := d.runSupervised(ctx, cmd, arguments)
	d.emit(canonical, resolvedFromAlias, time.Since(start), kind)
	return result
}

// validateArguments checks arguments against cmd's declared JSON schema
// (spec.md §4.6: invalid_arguments). Commands that carry no InputSchema
// skip validation entirely — the schema is optional per command.
func (d *Dispatcher) validateArguments(cmd pkgkernel.Command, arguments json.RawMessage) *kernelerr.Error {
	if len(cmd.InputSchema) == 0 {
		return nil
	}

	schema, err := d.compileSchema(cmd.CanonicalName(), cmd.InputSchema)
	if err != nil {
		return kernelerr.Newf(kernelerr.Internal, "compile schema for %s: %v", cmd.CanonicalName(), err)
	}

	var decoded any
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return kernelerr.Newf(kernelerr.InvalidArguments, "arguments for %s are not valid JSON: %v", cmd.CanonicalName(), err)
	}

	if err := schema.Validate(decoded); err != nil {
		return kernelerr.Newf(kernelerr.InvalidArguments, "arguments for %s: %v", cmd.CanonicalName(), err)
	}
	return nil
}

// compileSchema compiles cmd's InputSchema once per canonical name and
// caches the result, mirroring the pluginsdk manifest-validation pattern.
func (d *Dispatcher) compileSchema(canonical string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := d.schemaCache.Load(canonical); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(canonical+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	d.schemaCache.Store(canonical, compiled)
	return compiled, nil
}

// runSupervised installs a Heartbeat, runs the executor concurrently, and
// races it against the total timeout and a polling idle-timeout check
// (spec.md §4.6 step 3). It returns a normalized envelope and a result
// kind for observability ("ok"/"error"/"timeout-idle"/"timeout-total").
func (d *Dispatcher) runSupervised(ctx context.Context, cmd pkgkernel.Command, args json.RawMessage) (pkgkernel.Envelope, string) {
	hb := NewHeartbeat()

	callCtx, cancel := context.WithTimeout(ctx, d.timeouts.Total)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		value, err := d.executor.Execute(callCtx, cmd, args, hb)
		resultCh <- outcome{value, err}
	}()

	idleTicker := time.NewTicker(idlePollInterval)
	defer idleTicker.Stop()

	for {
		select {
		case out := <-resultCh:
			if out.err != nil {
				return errorEnvelope(wrapExecError(out.err)), "error"
			}
			return normalize(out.value), "ok"

		case <-idleTicker.C:
			if hb.IdleFor() > d.timeouts.Idle {
				cancel()
				<-resultCh // drain window: let the goroutine unwind
				return errorEnvelope(kernelerr.New(kernelerr.TimeoutIdle, "tool call timed out: idle")), "timeout-idle"
			}

		case <-callCtx.Done():
			<-resultCh
			return errorEnvelope(kernelerr.New(kernelerr.TimeoutTotal, "tool call timed out: total")), "timeout-total"
		}
	}
}

func wrapExecError(err error) *kernelerr.Error {
	if kerr, ok := err.(*kernelerr.Error); ok {
		return kerr
	}
	return kernelerr.New(kernelerr.Internal, err.Error())
}

// normalize implements spec.md §4.6 step 4: wrap the raw return value into
// the canonical MCP tool-result envelope, passing an already-canonical
// envelope through unchanged and stripping anything else down to it.
func normalize(value any) pkgkernel.Envelope {
	if env, ok := value.(pkgkernel.Envelope); ok {
		return pkgkernel.Envelope{Content: env.Content, IsError: env.IsError}
	}
	if env, ok := value.(*pkgkernel.Envelope); ok && env != nil {
		return pkgkernel.Envelope{Content: env.Content, IsError: env.IsError}
	}

	if s, ok := value.(string); ok {
		return pkgkernel.TextEnvelope(s, false)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return pkgkernel.TextEnvelope(fmt.Sprintf("%v", value), false)
	}
	return pkgkernel.TextEnvelope(string(data), false)
}

func errorEnvelope(err *kernelerr.Error) pkgkernel.Envelope {
	return pkgkernel.TextEnvelope(err.Error(), true)
}

func (d *Dispatcher) emit(canonical string, fromAlias bool, duration time.Duration, kind string) {
	d.events.Record(observability.DispatchEvent{
		CanonicalName: canonical,
		FromAlias:     fromAlias,
		Duration:      duration,
		ResultKind:    kind,
	})
	if d.metrics != nil {
		d.metrics.RecordDispatch(canonical, kind, duration.Seconds())
	}
}
