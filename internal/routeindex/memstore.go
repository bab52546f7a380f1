package routeindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	chromem "github.com/philippgille/chromem-go"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

const vectorCollection = "skills"

// FileStore is the default, zero-config Store implementation: rows are the
// source of truth in a JSON file (grounded on the teacher's
// internal/memory/backend/lancedb pure-Go backend), and the embedding
// column is additionally mirrored into a chromem-go collection for
// approximate nearest-neighbor search.
type FileStore struct {
	path string // <data>/skills.lance/ directory

	mu   sync.RWMutex
	rows map[string]rowRecord

	db  *chromem.DB
	col *chromem.Collection

	metrics struct {
		vectorQueries  atomic.Int64
		keywordQueries atomic.Int64
		upserts        atomic.Int64
		deletes        atomic.Int64
		compactions    atomic.Int64
	}
}

// NewFileStore opens (or creates) the routing index rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	s := &FileStore{path: dir, rows: make(map[string]rowRecord)}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}

	// chromem needs an EmbeddingFunc only for text-based queries; every
	// call here supplies a precomputed vector via QueryEmbedding, so the
	// function itself is never invoked.
	s.db = chromem.NewDB()
	col, err := s.db.GetOrCreateCollection(vectorCollection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function invoked unexpectedly; vectors must be precomputed")
	})
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	s.col = col

	for id, rec := range s.rows {
		if len(rec.Row.Embedding) == 0 {
			continue
		}
		if err := s.upsertVector(context.Background(), id, rec.Row.Embedding); err != nil {
			return nil, fmt.Errorf("rehydrate vector for %s: %w", id, err)
		}
	}

	return s, nil
}

func (s *FileStore) dataFile() string { return filepath.Join(s.path, "rows.json") }

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.dataFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records []rowRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, rec := range records {
		s.rows[rec.Row.ID] = rec
	}
	return nil
}

// save must be called with s.mu held (read or write lock is fine — it only
// reads s.rows — but callers that mutate must hold the write lock already).
func (s *FileStore) save() error {
	records := make([]rowRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Row.ID < records[j].Row.ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.dataFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.dataFile())
}

func (s *FileStore) upsertVector(ctx context.Context, id string, embedding []float32) error {
	doc := chromem.Document{ID: id, Embedding: embedding}
	return s.col.AddDocuments(ctx, []chromem.Document{doc}, 1)
}

// Upsert atomically rewrites the rows for the given ids. Invariant
// (spec.md §3): exactly one row per live command; on file hash change the
// row is rewritten wholesale, never partially.
func (s *FileStore) Upsert(ctx context.Context, rows []kernel.RoutingRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		existing := s.rows[row.ID]
		s.rows[row.ID] = rowRecord{Row: row, SourceFile: existing.SourceFile}
		if len(row.Embedding) > 0 {
			if err := s.upsertVector(ctx, row.ID, row.Embedding); err != nil {
				return fmt.Errorf("upsert vector %s: %w", row.ID, err)
			}
		}
	}
	s.metrics.upserts.Add(int64(len(rows)))
	return s.save()
}

// UpsertWithSource is like Upsert but also records the source file each row
// was derived from, used by the Indexer.
func (s *FileStore) UpsertWithSource(ctx context.Context, rows []kernel.RoutingRow, sourceFile string) error {
	s.mu.Lock()
	for i, row := range rows {
		if len(row.Embedding) > 0 {
			if err := s.upsertVector(ctx, row.ID, row.Embedding); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("upsert vector %s: %w", row.ID, err)
			}
		}
		s.rows[row.ID] = rowRecord{Row: rows[i], SourceFile: sourceFile}
	}
	s.metrics.upserts.Add(int64(len(rows)))
	err := s.save()
	s.mu.Unlock()
	return err
}

func (s *FileStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.rows, id)
		_ = s.col.Delete(ctx, nil, nil, id)
	}
	s.metrics.deletes.Add(int64(len(ids)))
	return s.save()
}

func (s *FileStore) RowsBySourceFile(ctx context.Context, path string) ([]kernel.RoutingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []kernel.RoutingRow
	for _, rec := range s.rows {
		if rec.SourceFile == path {
			out = append(out, rec.Row)
		}
	}
	return out, nil
}

func (s *FileStore) SearchVector(ctx context.Context, embedding []float32, k int) ([]SearchResult, error) {
	s.metrics.vectorQueries.Add(1)
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	n := s.col.Count()
	s.mu.RUnlock()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		rec, ok := s.rows[r.ID]
		if !ok {
			continue
		}
		out = append(out, SearchResult{ID: r.ID, Score: float64(r.Similarity), Row: rec.Row})
	}
	return out, nil
}

func (s *FileStore) SearchKeyword(ctx context.Context, query string, k int) ([]SearchResult, error) {
	s.metrics.keywordQueries.Add(1)
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	rows := make([]kernel.RoutingRow, 0, len(s.rows))
	for _, rec := range s.rows {
		rows = append(rows, rec.Row)
	}
	s.mu.RUnlock()

	scored := scoreKeyword(query, rows)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *FileStore) Health(ctx context.Context) (Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{RowCount: len(s.rows), FragmentCount: 1, FragmentationRatio: 0}
	if len(s.rows) > 5000 {
		h.Recommendations = append(h.Recommendations, "consider running compact()")
	}
	return h, nil
}

func (s *FileStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.compactions.Add(1)
	return s.save()
}

func (s *FileStore) QueryMetrics() Metrics {
	return Metrics{
		VectorQueries:  s.metrics.vectorQueries.Load(),
		KeywordQueries: s.metrics.keywordQueries.Load(),
		Upserts:        s.metrics.upserts.Load(),
		Deletes:        s.metrics.deletes.Load(),
		Compactions:    s.metrics.compactions.Load(),
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

var _ Store = (*FileStore)(nil)
