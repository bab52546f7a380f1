package routeindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/arcweave/skillkernel/pkg/kernel"
)

type fakeEmbedder struct {
	calls int
	dim   int
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)+j) / float32(f.dim)
		}
		out[i] = v
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Dimension() int { return 4 }
func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("embed backend unavailable")
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func gitInputs() []IndexInput {
	skill := kernel.Skill{Name: "git", Intents: []string{"check git status", "commit my changes"}}
	return []IndexInput{
		{Skill: skill, Command: kernel.Command{
			SkillName: "git", FunctionName: "status", Description: "Show working tree status",
			Category: "git", SourceFile: "git/scripts/main.py", FileHash: "hash1",
		}},
		{Skill: skill, Command: kernel.Command{
			SkillName: "git", FunctionName: "commit", Description: "Commit staged changes",
			Category: "git", SourceFile: "git/scripts/main.py", FileHash: "hash1",
		}},
	}
}

func TestIndexFileEmbedsAndUpserts(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	inputs := gitInputs()
	if err := ix.IndexFile(context.Background(), "git/scripts/main.py", inputs); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected 1 batched embed call, got %d", embedder.calls)
	}

	rows, err := store.RowsBySourceFile(context.Background(), "git/scripts/main.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestIndexFileSkipsUnchangedContent(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	inputs := gitInputs()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", inputs); err != nil {
		t.Fatal(err)
	}
	if err := ix.IndexFile(ctx, "git/scripts/main.py", inputs); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected embed call skipped on unchanged content, got %d calls", embedder.calls)
	}
}

func TestIndexFileReembedsOnHashChange(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	inputs := gitInputs()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", inputs); err != nil {
		t.Fatal(err)
	}

	inputs[0].Command.FileHash = "hash2"
	if err := ix.IndexFile(ctx, "git/scripts/main.py", inputs); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 2 {
		t.Fatalf("expected a second embed call after hash change, got %d", embedder.calls)
	}
}

func TestIndexFileFailedEmbedLeavesStoreUnchanged(t *testing.T) {
	store := newTestStore(t)
	ix := NewIndexer(store, failingEmbedder{})

	ctx := context.Background()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", gitInputs()); err == nil {
		t.Fatal("expected error from failing embedder")
	}

	rows, err := store.RowsBySourceFile(ctx, "git/scripts/main.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows written after failed embed, got %d", len(rows))
	}
}

func TestReindexFileRemovesDroppedCommands(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	inputs := gitInputs()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", inputs); err != nil {
		t.Fatal(err)
	}

	// commit command removed in a re-scan.
	remaining := inputs[:1]
	if err := ix.ReindexFile(ctx, "git/scripts/main.py", remaining); err != nil {
		t.Fatal(err)
	}

	rows, err := store.RowsBySourceFile(ctx, "git/scripts/main.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "git.status" {
		t.Fatalf("expected only git.status to remain, got %+v", rows)
	}
}

func TestRemoveFileDeletesAllItsRows(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", gitInputs()); err != nil {
		t.Fatal(err)
	}
	if err := ix.RemoveFile(ctx, "git/scripts/main.py"); err != nil {
		t.Fatal(err)
	}

	rows, err := store.RowsBySourceFile(ctx, "git/scripts/main.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected all rows removed, got %d", len(rows))
	}
}

func TestSearchKeywordWeightsToolNameAboveDescription(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 8}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	skill := kernel.Skill{Name: "git"}
	inputs := []IndexInput{
		{Skill: skill, Command: kernel.Command{
			SkillName: "git", FunctionName: "status", Description: "Show working tree status",
			SourceFile: "a.py", FileHash: "h1",
		}},
		{Skill: skill, Command: kernel.Command{
			SkillName: "status", FunctionName: "report", Description: "irrelevant status word buried here",
			SourceFile: "b.py", FileHash: "h2",
		}},
	}
	if err := ix.IndexFile(ctx, "a.py", inputs[:1]); err != nil {
		t.Fatal(err)
	}
	if err := ix.IndexFile(ctx, "b.py", inputs[1:]); err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchKeyword(ctx, "status", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].ID != "status.report" {
		t.Fatalf("expected tool_name match to outrank description-only match, got order %+v", results)
	}
}

func TestSearchVectorReturnsNearestByEmbedding(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{dim: 4}
	ix := NewIndexer(store, embedder)

	ctx := context.Background()
	if err := ix.IndexFile(ctx, "git/scripts/main.py", gitInputs()); err != nil {
		t.Fatal(err)
	}

	query, err := embedder.Embed(ctx, []string{"git.status. Show working tree status. intents: check git status, commit my changes"})
	if err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchVector(ctx, query[0], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
