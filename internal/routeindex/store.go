// Package routeindex implements the Routing Index (C2) and the Indexer
// (C3): a hybrid vector+keyword store with one row per live command, plus
// the batching/checksum machinery that keeps it in sync with scanner
// output.
//
// Grounded on the teacher's internal/memory/backend.Backend interface and
// its internal/memory/backend/lancedb pure-Go JSON-file implementation;
// the vector column additionally uses chromem-go (as kadirpekel-hector's
// pkg/vector/chromem.go does) rather than hand-rolled cosine similarity,
// and the keyword column's weighted-boost scoring is original code (no
// direct teacher analog — see DESIGN.md).
package routeindex

import (
	"context"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

// Boosts applied to the four weighted keyword fields, per spec.md §4.2.
const (
	BoostToolName    = 5.0
	BoostIntents     = 4.0
	BoostKeywords    = 3.0
	BoostDescription = 1.0
)

// SearchResult is the stable shape every retrieval call returns:
// {id, score, <row fields>}.
type SearchResult struct {
	ID    string
	Score float64
	Row   kernel.RoutingRow
}

// Health reports store-level diagnostics.
type Health struct {
	RowCount          int     `json:"row_count"`
	FragmentCount     int     `json:"fragment_count"`
	FragmentationRatio float64 `json:"fragmentation_ratio"`
	Recommendations   []string `json:"recommendations,omitempty"`
}

// Metrics reports cumulative query counters (query_metrics()).
type Metrics struct {
	VectorQueries  int64
	KeywordQueries int64
	Upserts        int64
	Deletes        int64
	Compactions    int64
}

// Store is the C2 Routing Index contract. Reads are lock-free; writes are
// serialized through the Indexer, which owns the single write lane.
// Compaction may block writes but never reads.
type Store interface {
	Upsert(ctx context.Context, rows []kernel.RoutingRow) error
	Delete(ctx context.Context, ids []string) error
	SearchVector(ctx context.Context, embedding []float32, k int) ([]SearchResult, error)
	SearchKeyword(ctx context.Context, query string, k int) ([]SearchResult, error)
	Health(ctx context.Context) (Health, error)
	Compact(ctx context.Context) error
	QueryMetrics() Metrics
	// RowsBySourceFile returns the live rows whose source is path, used by
	// the Indexer's reindex_file/remove_file delete-by-file step.
	RowsBySourceFile(ctx context.Context, path string) ([]kernel.RoutingRow, error)
	Close() error
}

// rowRecord is the on-disk unit: a routing row plus the source file it was
// derived from (routing rows don't carry SourceFile themselves; the
// indexer needs it to support delete-by-file).
type rowRecord struct {
	Row        kernel.RoutingRow `json:"row"`
	SourceFile string            `json:"source_file"`
}
