package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arcweave/skillkernel/internal/chunkflow"
	"github.com/arcweave/skillkernel/internal/config"
	"github.com/arcweave/skillkernel/internal/contextasm"
	"github.com/arcweave/skillkernel/internal/cron"
	"github.com/arcweave/skillkernel/internal/kernel"
	"github.com/arcweave/skillkernel/internal/observability"
	"github.com/arcweave/skillkernel/internal/pyexec"
	"github.com/arcweave/skillkernel/internal/router"
	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/internal/skillscan"
	"github.com/arcweave/skillkernel/internal/transport"
	"github.com/arcweave/skillkernel/internal/watchbridge"
	"github.com/arcweave/skillkernel/internal/watcher"
)

// runtime holds every component cmd/skillkernel's subcommands share,
// wired from one loaded Config. Not every subcommand needs every field
// (e.g. "route" never touches the watcher); building them all up front
// keeps the wiring in one place instead of duplicated per command.
type runtime struct {
	cfg *config.Config

	logger *observability.Logger

	store    *routeindex.FileStore
	embedder routeindex.Embedder
	indexer  *routeindex.Indexer
	registry *kernel.MapRegistry
	scanned  []skillscan.Result

	executor   *pyexec.PythonExecutor
	dispatcher *kernel.Dispatcher
	router     *router.Router
	engine     *chunkflow.Engine
	assembler  *contextasm.Assembler

	metrics        *observability.Metrics
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error

	handler *transport.Handler

	auditFile *os.File
}

// buildRuntime loads configPath and constructs every component. Callers
// must call Close when done.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	indexDir := filepath.Join(cfg.Paths.DataDir, "index")
	store, err := routeindex.NewFileStore(indexDir)
	if err != nil {
		return nil, fmt.Errorf("open routing index at %s: %w", indexDir, err)
	}

	embedder := routeindex.NewOllamaEmbedder(routeindex.OllamaEmbedderConfig{
		BaseURL: cfg.Index.EmbedderBaseURL,
		Model:   cfg.Index.EmbedderModel,
	})

	registry := kernel.NewMapRegistry(cfg.Aliases)

	results, scanErrs := skillscan.ScanAll(cfg.Paths.SkillsRoot)
	for _, e := range scanErrs {
		logger.Warn(context.Background(), "skill scan error", "error", e)
	}
	for _, res := range results {
		registry.Put(res.Skill, res.Commands)
	}

	var indexerOpts []routeindex.IndexerOption
	var auditFile *os.File
	if cfg.Index.AuditEnabled {
		auditPath := filepath.Join(cfg.Paths.DataDir, "audit.jsonl")
		auditFile, err = os.OpenFile(auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log at %s: %w", auditPath, err)
		}
		indexerOpts = append(indexerOpts, routeindex.WithAuditSink(routeindex.NewJSONLAuditSink(auditFile)))
	}
	metrics := observability.NewMetrics()
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "skillkernel",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SamplingRate:   cfg.Observability.TracingSamplingRate,
	})

	indexerOpts = append(indexerOpts, routeindex.WithMetrics(metrics), routeindex.WithTracer(tracer))
	indexer := routeindex.NewIndexer(store, embedder, indexerOpts...)

	eventStore := observability.NewMemoryEventStore(1024)
	eventRecorder := observability.NewEventRecorder(eventStore, logger)

	executor := pyexec.New(cfg.Paths.PythonBin)
	dispatcher := kernel.NewDispatcher(registry, executor,
		kernel.WithTimeouts(kernel.Timeouts{Total: cfg.Timeouts.Total(), Idle: cfg.Timeouts.Idle()}),
		kernel.WithEventRecorder(observability.EventRecorderDispatchAdapter{Recorder: eventRecorder}),
		kernel.WithMetrics(metrics),
		kernel.WithTracer(tracer),
	)

	r := router.New(store, embedder,
		router.WithLimits(router.Limits{
			CandidateLimit: cfg.Router.Limits.CandidateLimit,
			MaxSources:     cfg.Router.Limits.MaxSources,
			RowsPerSource:  cfg.Router.Limits.RowsPerSource,
		}),
		router.WithTypoMap(cfg.Router.Normalize.Typos),
		router.WithMetrics(metrics),
	)

	engine := chunkflow.New(chunkflow.WithTTL(cfg.Chunk.TTL()))

	assembler := contextasm.New(contextasm.Options{
		TotalTokens:    cfg.Contextasm.TotalTokens,
		MinQueryChars:  cfg.Contextasm.MinQueryChars,
		MemoryLimit:    cfg.Contextasm.MemoryLimit,
		KeepLastRounds: cfg.Contextasm.KeepLastRounds,
	}, nil, nil)

	handler := transport.NewHandler(registry, dispatcher, embedder,
		transport.ServerInfo{Name: "skillkernel", Version: version},
		cfg.Transport.EmbedWorkers, cfg.Transport.EmbedQueue, engine,
	)

	return &runtime{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		embedder:       embedder,
		indexer:        indexer,
		registry:       registry,
		scanned:        results,
		executor:       executor,
		dispatcher:     dispatcher,
		router:         r,
		engine:         engine,
		assembler:      assembler,
		metrics:        metrics,
		tracer:         tracer,
		tracerShutdown: tracerShutdown,
		handler:        handler,
		auditFile:      auditFile,
	}, nil
}

// Close releases every component that owns a resource.
func (rt *runtime) Close() {
	rt.handler.Close()
	rt.engine.Shutdown()
	if rt.tracerShutdown != nil {
		if err := rt.tracerShutdown(context.Background()); err != nil {
			rt.logger.Warn(context.Background(), "shut down tracer", "error", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn(context.Background(), "close routing index", "error", err)
	}
	if rt.auditFile != nil {
		_ = rt.auditFile.Close()
	}
}

// newWatcher builds the live-wire watcher over rt's indexer/registry,
// broadcasting through broadcaster (the active transport server).
func (rt *runtime) newWatcher(broadcaster watcher.Broadcaster) *watcher.Watcher {
	bridge := watchbridge.New(rt.cfg.Paths.SkillsRoot, rt.registry, rt.indexer, rt.scanned,
		watchbridge.WithMetrics(rt.metrics),
	)
	return watcher.New(rt.cfg.Paths.SkillsRoot, bridge, broadcaster,
		watcher.WithCoalesceWindow(rt.cfg.Watcher.CoalesceWindow()),
		watcher.WithQuietPeriod(rt.cfg.Watcher.QuietPeriod()),
	)
}

// reindexAll rescans every skill under the skills root and pushes every
// resulting source file through the indexer. Shared by "sync" and the
// cron-driven reindex sweep so both paths stay in lockstep.
func (rt *runtime) reindexAll(ctx context.Context) (skills, commands, sources int, err error) {
	results, scanErrs := skillscan.ScanAll(rt.cfg.Paths.SkillsRoot)
	for _, e := range scanErrs {
		rt.logger.Warn(ctx, "skill scan error", "error", e)
	}

	bySource := map[string][]routeindex.IndexInput{}
	for _, res := range results {
		rt.registry.ReplaceSkill(res.Skill, res.Commands)
		for _, cmd := range res.Commands {
			bySource[cmd.SourceFile] = append(bySource[cmd.SourceFile], routeindex.IndexInput{
				Skill:   res.Skill,
				Command: cmd,
			})
		}
	}

	for sourceFile, inputs := range bySource {
		if err := rt.indexer.ReindexFile(ctx, sourceFile, inputs); err != nil {
			return 0, 0, 0, fmt.Errorf("reindex %s: %w", sourceFile, err)
		}
		commands += len(inputs)
	}
	rt.scanned = results
	return len(results), commands, len(bySource), nil
}

// runCronReindexSweep blocks until ctx is cancelled, running reindexAll on
// the schedule configured under cron.reindex_schedule. It is the ambient
// complement to the live-wire watcher: the watcher catches edits as they
// happen, this catches anything the watcher missed (a skill added while
// skillkernel was down, a filesystem event dropped under load).
func (rt *runtime) runCronReindexSweep(ctx context.Context) error {
	sched, err := cron.NewSchedule(rt.cfg.Cron.Reindex)
	if err != nil {
		return fmt.Errorf("parse cron.reindex_schedule: %w", err)
	}

	for {
		next, ok, err := sched.Next(time.Now())
		if err != nil {
			return fmt.Errorf("compute next reindex sweep: %w", err)
		}
		if !ok {
			return nil
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if skills, commandCount, sources, err := rt.reindexAll(ctx); err != nil {
			rt.logger.Warn(ctx, "scheduled reindex sweep failed", "error", err)
		} else {
			rt.logger.Info(ctx, "scheduled reindex sweep completed",
				"skills", skills, "commands", commandCount, "sources", sources)
		}
	}
}
