// Package chunkflow implements the Chunked Workflow Engine (C8): a
// three-phase start/batch/synthesize contract over a single tool with an
// `action` parameter, backed by a TTL-evicted, one-way session state
// machine.
//
// Grounded on the teacher's internal/heartbeat package's keyed-map-plus-
// TTL-sweep shape (a background goroutine periodically evicting expired
// entries under a lock) generalized from heartbeat acks to chunked
// session payloads.
package chunkflow

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arcweave/skillkernel/internal/kernelerr"
	"github.com/arcweave/skillkernel/pkg/kernel"
)

// SynthesizeFunc runs a workflow's synthesis step over the accumulated
// per-batch results and returns the summary payload.
type SynthesizeFunc func(ctx context.Context, accumulator []any) (any, error)

// BatchFunc computes one element of the accumulator for a given batch
// (used by auto_complete's server-side full walk, since there is no
// caller to supply it between fetches).
type BatchFunc func(ctx context.Context, batch []any, batchIndex int) (any, error)

type session struct {
	id          string
	status      kernel.ChunkedSessionStatus
	payload     []any
	batchSize   int
	batchCount  int
	accumulator []any
	synthesize  SynthesizeFunc
	createdAt   time.Time
	expiresAt   time.Time
}

// Engine is the C8 process singleton.
type Engine struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	newID func() string

	stopSweep context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Engine)

func WithTTL(d time.Duration) Option { return func(e *Engine) { e.ttl = d } }
func WithIDFunc(f func() string) Option { return func(e *Engine) { e.newID = f } }

func DefaultTTL() time.Duration { return 30 * time.Minute }

func New(opts ...Option) *Engine {
	e := &Engine{
		ttl:      DefaultTTL(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartSweeper begins a background sweep that evicts expired sessions every
// interval until ctx is cancelled.
func (e *Engine) StartSweeper(ctx context.Context, sweepInterval time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	e.stopSweep = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.sweep()
			}
		}
	}()
}

func (e *Engine) Shutdown() {
	if e.stopSweep != nil {
		e.stopSweep()
	}
	e.wg.Wait()
}

func (e *Engine) sweep() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		if now.After(s.expiresAt) {
			s.status = kernel.SessionExpired
			delete(e.sessions, id)
		}
	}
}

func (e *Engine) genID() string {
	if e.newID != nil {
		return e.newID()
	}
	return fmt.Sprintf("chunk-%d", time.Now().UnixNano())
}

// StartResult is the start action's return shape.
type StartResult struct {
	SessionID  string `json:"session_id"`
	BatchCount int    `json:"batch_count"`
	Batch      []any  `json:"batch"`
}

// Start implements action="start": payload is never truncated; the first
// batch is returned immediately.
func (e *Engine) Start(payload []any, batchSize int, synthesize SynthesizeFunc) (*StartResult, error) {
	if batchSize <= 0 {
		return nil, kernelerr.New(kernelerr.InvalidArguments, "batch_size must be positive")
	}

	batchCount := int(math.Ceil(float64(len(payload)) / float64(batchSize)))
	if batchCount == 0 {
		batchCount = 1
	}

	s := &session{
		id:         e.genID(),
		status:     kernel.SessionCreated,
		payload:    payload,
		batchSize:  batchSize,
		batchCount: batchCount,
		synthesize: synthesize,
		createdAt:  time.Now(),
		expiresAt:  time.Now().Add(e.ttl),
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	firstBatch := batchSlice(payload, batchSize, 0)
	return &StartResult{SessionID: s.id, BatchCount: batchCount, Batch: firstBatch}, nil
}

// BatchResult is the batch action's return shape.
type BatchResult struct {
	SessionID  string `json:"session_id"`
	BatchIndex int    `json:"batch_index"`
	Batch      []any  `json:"batch"`
}

// Batch implements action="batch": moves created->in_progress on first
// fetch, and appends result (the caller's processing of the previous
// batch) into the accumulator before returning the requested batch.
func (e *Engine) Batch(sessionID string, batchIndex int, previousResult any, hasPreviousResult bool) (*BatchResult, error) {
	if sessionID == "" {
		return nil, kernelerr.New(kernelerr.SessionRequired, "session_id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok || s.status == kernel.SessionSynthesized || s.status == kernel.SessionExpired {
		return nil, kernelerr.New(kernelerr.SessionNotFound, fmt.Sprintf("no such session: %s", sessionID))
	}
	if batchIndex < 0 || batchIndex >= s.batchCount {
		return nil, kernelerr.New(kernelerr.InvalidBatchIndex, fmt.Sprintf("batch_index %d out of range [0,%d)", batchIndex, s.batchCount))
	}

	if s.status == kernel.SessionCreated {
		s.status = kernel.SessionInProgress
	}
	if hasPreviousResult {
		s.accumulator = append(s.accumulator, previousResult)
	}
	s.expiresAt = time.Now().Add(e.ttl)

	batch := batchSlice(s.payload, s.batchSize, batchIndex)
	return &BatchResult{SessionID: sessionID, BatchIndex: batchIndex, Batch: batch}, nil
}

// Synthesize implements action="synthesize".
func (e *Engine) Synthesize(ctx context.Context, sessionID string, finalResult any, hasFinalResult bool) (any, error) {
	if sessionID == "" {
		return nil, kernelerr.New(kernelerr.SessionRequired, "session_id is required")
	}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok || s.status == kernel.SessionSynthesized || s.status == kernel.SessionExpired {
		e.mu.Unlock()
		return nil, kernelerr.New(kernelerr.SessionNotFound, fmt.Sprintf("no such session: %s", sessionID))
	}
	if hasFinalResult {
		s.accumulator = append(s.accumulator, finalResult)
	}
	accumulator := append([]any(nil), s.accumulator...)
	synthesize := s.synthesize
	s.status = kernel.SessionSynthesized
	// Stays in the map, terminal, until the TTL sweep evicts it — the
	// state machine's synthesized -> evicted transition is time-driven,
	// not immediate.
	e.mu.Unlock()

	if synthesize == nil {
		return accumulator, nil
	}
	return synthesize(ctx, accumulator)
}

// AutoComplete runs the whole start/batch*/synthesize sequence
// server-side (Open Question resolved: always a full walk) and returns
// only the final summary, for workflows where the caller never needs to
// see intermediate chunks.
func (e *Engine) AutoComplete(ctx context.Context, payload []any, batchSize int, process BatchFunc, synthesize SynthesizeFunc) (any, error) {
	start, err := e.Start(payload, batchSize, synthesize)
	if err != nil {
		return nil, err
	}

	var lastResult any
	hasResult := false
	for i := 0; i < start.BatchCount; i++ {
		b, err := e.Batch(start.SessionID, i, lastResult, hasResult)
		if err != nil {
			return nil, err
		}
		lastResult, err = process(ctx, b.Batch, i)
		if err != nil {
			return nil, err
		}
		hasResult = true
	}

	return e.Synthesize(ctx, start.SessionID, lastResult, hasResult)
}

// Status reports a session's current state machine position, for
// diagnostics; ok is false if the session is unknown (never created, or
// already swept after expiry).
func (e *Engine) Status(sessionID string) (status kernel.ChunkedSessionStatus, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, found := e.sessions[sessionID]
	if !found {
		return "", false
	}
	return s.status, true
}

func batchSlice(payload []any, batchSize, index int) []any {
	start := index * batchSize
	if start >= len(payload) {
		return []any{}
	}
	end := start + batchSize
	if end > len(payload) {
		end = len(payload)
	}
	return payload[start:end]
}
