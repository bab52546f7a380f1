// Package routeindex also houses the Indexer (C3): the component that
// turns scanner output into routing rows, embedding only what changed.
package routeindex

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/arcweave/skillkernel/internal/cache"
	"github.com/arcweave/skillkernel/internal/observability"
	"github.com/arcweave/skillkernel/internal/ratelimit"
	"github.com/arcweave/skillkernel/pkg/kernel"
)

// IndexInput is one command plus the skill-level metadata it inherits for
// routing purposes (a command's intents/keywords are its own where present,
// falling back to its skill's).
type IndexInput struct {
	Skill   kernel.Skill
	Command kernel.Command
}

// Indexer owns the Routing Index's single write lane: it computes each
// input's routing row, skips re-embedding unchanged content via a checksum
// cache (grounded on internal/cache.DedupeCache), rate-limits embedder
// calls (grounded on internal/ratelimit.Bucket, both ambient infra kept
// from the teacher), and rolls back cleanly if a batch embed call fails
// partway through.
type Indexer struct {
	store    Store
	embedder Embedder
	audit    AuditSink
	limiter  *ratelimit.Bucket
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	checksums *cache.DedupeCache
}

// IndexerOption configures optional collaborators.
type IndexerOption func(*Indexer)

func WithAuditSink(sink AuditSink) IndexerOption {
	return func(ix *Indexer) { ix.audit = sink }
}

func WithRateLimiter(b *ratelimit.Bucket) IndexerOption {
	return func(ix *Indexer) { ix.limiter = b }
}

// WithMetrics records a skillkernel_index_operations_total increment and a
// duration observation for every IndexFile/ReindexFile/RemoveFile call.
func WithMetrics(m *observability.Metrics) IndexerOption {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithTracer opens one span per ReindexFile call (spec.md §4.5).
func WithTracer(t *observability.Tracer) IndexerOption {
	return func(ix *Indexer) { ix.tracer = t }
}

func NewIndexer(store Store, embedder Embedder, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:     store,
		embedder:  embedder,
		audit:     NullAuditSink{},
		checksums: cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: 0, MaxSize: 1_000_000}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Indexer) recordOperation(operation string, start time.Time, err error) {
	if ix.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	ix.metrics.RecordIndexOperation(operation, status, time.Since(start).Seconds())
}

// IndexFile computes routing rows for every command in inputs (all expected
// to share the same SourceFile) and upserts them, skipping the embed call
// entirely for any row whose (id, file_hash) pair was already indexed.
func (ix *Indexer) IndexFile(ctx context.Context, sourceFile string, inputs []IndexInput) error {
	start := time.Now()
	err := ix.indexFile(ctx, sourceFile, inputs)
	ix.recordOperation("index", start, err)
	return err
}

func (ix *Indexer) indexFile(ctx context.Context, sourceFile string, inputs []IndexInput) error {
	if len(inputs) == 0 {
		return nil
	}

	rows := make([]kernel.RoutingRow, len(inputs))
	var toEmbed []int
	for i, in := range inputs {
		row := buildRow(in)
		rows[i] = row
		if ix.checksums.Contains(checksumKey(row.ID, row.FileHash)) {
			continue
		}
		toEmbed = append(toEmbed, i)
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for j, idx := range toEmbed {
			texts[j] = rows[idx].EmbeddingSource()
		}

		if ix.limiter != nil && !ix.limiter.AllowN(len(texts)) {
			return fmt.Errorf("routeindex: embedder rate limit exceeded for %s (%d rows)", sourceFile, len(texts))
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			// Rollback: nothing was written to the store yet, so a failed
			// embed call leaves the index exactly as it was.
			return fmt.Errorf("embed rows for %s: %w", sourceFile, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed rows for %s: expected %d vectors, got %d", sourceFile, len(texts), len(vectors))
		}
		for j, idx := range toEmbed {
			rows[idx].Embedding = vectors[j]
		}
	}

	now := time.Now()
	for i := range rows {
		rows[i].UpdatedAt = now
	}

	fs, ok := ix.store.(*FileStore)
	var err error
	if ok {
		err = fs.UpsertWithSource(ctx, rows, sourceFile)
	} else {
		err = ix.store.Upsert(ctx, rows)
	}
	if err != nil {
		return fmt.Errorf("upsert rows for %s: %w", sourceFile, err)
	}

	for _, row := range rows {
		ix.checksums.Check(checksumKey(row.ID, row.FileHash))
	}
	ix.audit.RecordUpsert(len(rows), sourceFile)
	return nil
}

// ReindexFile replaces every row previously derived from sourceFile with
// the rows computed from inputs, deleting any row that no longer appears
// (a command removed from the file).
func (ix *Indexer) ReindexFile(ctx context.Context, sourceFile string, inputs []IndexInput) error {
	start := time.Now()
	if ix.tracer != nil {
		var span trace.Span
		ctx, span = ix.tracer.TraceReindex(ctx, sourceFile)
		defer span.End()
	}
	err := ix.reindexFile(ctx, sourceFile, inputs)
	ix.recordOperation("reindex", start, err)
	return err
}

func (ix *Indexer) reindexFile(ctx context.Context, sourceFile string, inputs []IndexInput) error {
	existing, err := ix.store.RowsBySourceFile(ctx, sourceFile)
	if err != nil {
		return fmt.Errorf("list existing rows for %s: %w", sourceFile, err)
	}

	keep := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		keep[in.Command.CanonicalName()] = true
	}

	var stale []string
	for _, row := range existing {
		if !keep[row.ID] {
			stale = append(stale, row.ID)
			ix.checksums.Remove(checksumKey(row.ID, row.FileHash))
		}
	}

	if err := ix.indexFile(ctx, sourceFile, inputs); err != nil {
		return err
	}

	if len(stale) > 0 {
		if err := ix.store.Delete(ctx, stale); err != nil {
			return fmt.Errorf("remove stale rows for %s: %w", sourceFile, err)
		}
		ix.audit.RecordDelete(stale, sourceFile)
	}
	return nil
}

// RemoveFile deletes every row derived from sourceFile (the file, or its
// owning skill, was deleted).
func (ix *Indexer) RemoveFile(ctx context.Context, sourceFile string) error {
	start := time.Now()
	err := ix.removeFile(ctx, sourceFile)
	ix.recordOperation("remove", start, err)
	return err
}

func (ix *Indexer) removeFile(ctx context.Context, sourceFile string) error {
	existing, err := ix.store.RowsBySourceFile(ctx, sourceFile)
	if err != nil {
		return fmt.Errorf("list existing rows for %s: %w", sourceFile, err)
	}
	if len(existing) == 0 {
		return nil
	}

	ids := make([]string, len(existing))
	for i, row := range existing {
		ids[i] = row.ID
		ix.checksums.Remove(checksumKey(row.ID, row.FileHash))
	}
	if err := ix.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete rows for %s: %w", sourceFile, err)
	}
	ix.audit.RecordDelete(ids, sourceFile)
	return nil
}

func buildRow(in IndexInput) kernel.RoutingRow {
	keywords := in.Command.Keywords
	if len(keywords) == 0 {
		keywords = in.Skill.RoutingKeywords
	}
	intentList := in.Skill.Intents

	description := in.Command.Description
	if description == "" {
		description = in.Command.Docstring
	}

	return kernel.RoutingRow{
		ID:          in.Command.CanonicalName(),
		ToolName:    in.Command.CanonicalName(),
		Intents:     intentList,
		Keywords:    keywords,
		Description: description,
		Category:    in.Command.Category,
		FileHash:    in.Command.FileHash,
	}
}

func checksumKey(id, hash string) string { return id + "@" + hash }
