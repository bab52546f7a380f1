package router

import (
	"context"
	"testing"

	"github.com/arcweave/skillkernel/internal/routeindex"
	"github.com/arcweave/skillkernel/pkg/kernel"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Dimension() int { return 4 }
func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func seedStore(t *testing.T) *routeindex.FileStore {
	t.Helper()
	store, err := routeindex.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rows := []kernel.RoutingRow{
		{
			ID: "git.status", ToolName: "git.status", Description: "Show working tree status",
			Intents: []string{"check git status"}, Category: "git", Embedding: []float32{1, 0, 0, 0},
		},
		{
			ID: "git.commit", ToolName: "git.commit", Description: "Commit staged changes",
			Intents: []string{"commit my changes"}, Keywords: []string{"commit"}, Category: "git",
			Embedding: []float32{0, 1, 0, 0},
		},
		{
			ID: "filesystem.read_file", ToolName: "filesystem.read_file", Description: "Read a file from disk",
			Category: "filesystem", Embedding: []float32{0, 0, 1, 0},
		},
	}
	if err := store.Upsert(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestNormalizeAppliesTypoMapAndCollapsesURLs(t *testing.T) {
	typos := map[string]string{"comitt": "commit"}
	got := Normalize("comitt my changes https://github.com/foo/bar", typos)
	if got != "commit my changes github url" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestNormalizeCollapsesNonGithubURL(t *testing.T) {
	got := Normalize("see https://example.com/docs for details", nil)
	if got != "see url for details" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestRouteHybridFindsCommitTopCandidate(t *testing.T) {
	store := seedStore(t)
	r := New(store, fakeEmbedder{})

	plan, err := r.Route(context.Background(), "commit my changes", kernel.IntentHybrid, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if plan.Candidates[0].ID != "git.commit" {
		t.Fatalf("expected git.commit top candidate, got %+v", plan.Candidates)
	}
	if plan.SelectedMode != kernel.IntentHybrid {
		t.Fatalf("expected hybrid mode retained, got %s", plan.SelectedMode)
	}
}

func TestRouteDowngradesToVectorOnlyWhenKeywordSideEmpty(t *testing.T) {
	store := seedStore(t)
	r := New(store, fakeEmbedder{})

	// A query with no keyword matches but the fake embedder always
	// returns the same vector, so vector search still returns results.
	plan, err := r.Route(context.Background(), "zzzznomatch", kernel.IntentHybrid, 10)
	if err != nil {
		t.Fatal(err)
	}
	if plan.SelectedMode != kernel.IntentSemantic {
		t.Fatalf("expected downgrade to semantic, got %s", plan.SelectedMode)
	}
}

func TestFuseRRFIsStableWhenRankingsAgree(t *testing.T) {
	list := []routeindex.SearchResult{
		{ID: "a", Row: kernel.RoutingRow{ID: "a"}},
		{ID: "b", Row: kernel.RoutingRow{ID: "b"}},
		{ID: "c", Row: kernel.RoutingRow{ID: "c"}},
	}
	fused := fuseRRF(list, list)
	for i, want := range []string{"a", "b", "c"} {
		if fused[i].ID != want {
			t.Fatalf("expected identical-ranking fusion to preserve order, got %+v", fused)
		}
	}
}

func TestConfidenceNoneWhenEmpty(t *testing.T) {
	level, score := confidenceLevel(nil, DefaultThresholds())
	if level != kernel.ConfidenceNone || score != 0 {
		t.Fatalf("expected none/0, got %s/%f", level, score)
	}
}

func TestBudgetCapsRowsPerSource(t *testing.T) {
	var results []routeindex.SearchResult
	for i := 0; i < 5; i++ {
		results = append(results, routeindex.SearchResult{
			ID: "git.cmd", Score: float64(5 - i),
			Row: kernel.RoutingRow{ID: "git.cmd"},
		})
	}
	out := budget(results, Limits{CandidateLimit: 10, MaxSources: 5, RowsPerSource: 2})
	if len(out) != 2 {
		t.Fatalf("expected rows-per-source cap of 2, got %d", len(out))
	}
}
