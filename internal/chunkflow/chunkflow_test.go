package chunkflow

import (
	"context"
	"testing"
	"time"

	"github.com/arcweave/skillkernel/internal/kernelerr"
	"github.com/arcweave/skillkernel/pkg/kernel"
)

func anySlice(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func sumSynthesize(ctx context.Context, acc []any) (any, error) {
	total := 0
	for _, v := range acc {
		total += v.(int)
	}
	return total, nil
}

func TestStartComputesBatchCountAndNeverTruncates(t *testing.T) {
	e := New()
	res, err := e.Start(anySlice(25), 10, sumSynthesize)
	if err != nil {
		t.Fatal(err)
	}
	if res.BatchCount != 3 {
		t.Fatalf("expected 3 batches for 25 items of size 10, got %d", res.BatchCount)
	}
	if len(res.Batch) != 10 {
		t.Fatalf("expected first batch of 10, got %d", len(res.Batch))
	}
}

func TestStateMachineCreatedToInProgressToSynthesized(t *testing.T) {
	e := New()
	res, err := e.Start(anySlice(3), 1, sumSynthesize)
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := e.Status(res.SessionID); status != kernel.SessionCreated {
		t.Fatalf("expected created, got %s", status)
	}

	if _, err := e.Batch(res.SessionID, 0, nil, false); err != nil {
		t.Fatal(err)
	}
	if status, _ := e.Status(res.SessionID); status != kernel.SessionInProgress {
		t.Fatalf("expected in_progress, got %s", status)
	}

	if _, err := e.Batch(res.SessionID, 1, 0, true); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Synthesize(context.Background(), res.SessionID, 1, true); err != nil {
		t.Fatal(err)
	}
	if status, _ := e.Status(res.SessionID); status != kernel.SessionSynthesized {
		t.Fatalf("expected synthesized, got %s", status)
	}
}

func TestBatchOutOfRangeIndex(t *testing.T) {
	e := New()
	res, _ := e.Start(anySlice(3), 1, nil)
	_, err := e.Batch(res.SessionID, 99, nil, false)
	kerr, ok := err.(*kernelerr.Error)
	if !ok || kerr.Kind != kernelerr.InvalidBatchIndex {
		t.Fatalf("expected invalid_batch_index, got %v", err)
	}
}

func TestBatchMissingSessionID(t *testing.T) {
	e := New()
	_, err := e.Batch("", 0, nil, false)
	kerr, ok := err.(*kernelerr.Error)
	if !ok || kerr.Kind != kernelerr.SessionRequired {
		t.Fatalf("expected session_required, got %v", err)
	}
}

func TestBatchUnknownSessionID(t *testing.T) {
	e := New()
	_, err := e.Batch("does-not-exist", 0, nil, false)
	kerr, ok := err.(*kernelerr.Error)
	if !ok || kerr.Kind != kernelerr.SessionNotFound {
		t.Fatalf("expected session_not_found, got %v", err)
	}
}

func TestBatchAfterSynthesizeIsRejected(t *testing.T) {
	e := New()
	res, _ := e.Start(anySlice(1), 1, sumSynthesize)
	if _, err := e.Batch(res.SessionID, 0, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Synthesize(context.Background(), res.SessionID, 0, true); err != nil {
		t.Fatal(err)
	}

	_, err := e.Batch(res.SessionID, 0, nil, false)
	kerr, ok := err.(*kernelerr.Error)
	if !ok || kerr.Kind != kernelerr.SessionNotFound {
		t.Fatalf("expected session_not_found for a batch call after synthesize, got %v", err)
	}
}

func TestExpiredSessionIsSweptAndReturnsSessionNotFound(t *testing.T) {
	e := New(WithTTL(20 * time.Millisecond))
	res, _ := e.Start(anySlice(2), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartSweeper(ctx, 10*time.Millisecond) // fast interval for the test

	time.Sleep(150 * time.Millisecond)

	_, err := e.Batch(res.SessionID, 0, nil, false)
	kerr, ok := err.(*kernelerr.Error)
	if !ok || kerr.Kind != kernelerr.SessionNotFound {
		t.Fatalf("expected session_not_found after TTL eviction, got %v", err)
	}
}

func TestAutoCompleteRunsFullWalkServerSide(t *testing.T) {
	e := New()
	process := func(ctx context.Context, batch []any, idx int) (any, error) {
		total := 0
		for _, v := range batch {
			total += v.(int)
		}
		return total, nil
	}

	result, err := e.AutoComplete(context.Background(), anySlice(10), 3, process, sumSynthesize)
	if err != nil {
		t.Fatal(err)
	}
	if result.(int) != 45 {
		t.Fatalf("expected sum 0..9 = 45, got %v", result)
	}
}
