package observability

import (
	"context"
	"time"
)

// DispatchEvent is the structured event the kernel dispatcher emits for
// every execute_tool call (spec.md §4.6 step 5): canonical name, whether
// it was resolved from an alias, duration, and result kind
// ("ok"/"error"/"timeout-idle"/"timeout-total").
type DispatchEvent struct {
	CanonicalName string
	FromAlias     bool
	Duration      time.Duration
	ResultKind    string
}

// DispatchRecorder is the dispatcher's observability collaborator.
type DispatchRecorder interface {
	Record(DispatchEvent)
}

// NoopDispatchRecorder discards every event; it is the Dispatcher default.
type NoopDispatchRecorder struct{}

func (NoopDispatchRecorder) Record(DispatchEvent) {}

// EventRecorderDispatchAdapter routes dispatch events through the
// teacher's general-purpose EventRecorder/EventStore pipeline (kept
// ambient infra), tagging them with EventTypeToolEnd.
type EventRecorderDispatchAdapter struct {
	Recorder *EventRecorder
}

func (a EventRecorderDispatchAdapter) Record(ev DispatchEvent) {
	if a.Recorder == nil {
		return
	}
	data := map[string]interface{}{
		"canonical_name": ev.CanonicalName,
		"from_alias":     ev.FromAlias,
		"result_kind":    ev.ResultKind,
		"duration_ms":    ev.Duration.Milliseconds(),
	}
	_ = a.Recorder.Record(context.Background(), EventTypeToolEnd, ev.CanonicalName, data)
}

var (
	_ DispatchRecorder = NoopDispatchRecorder{}
	_ DispatchRecorder = EventRecorderDispatchAdapter{}
)
