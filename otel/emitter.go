package otel

import (
	"github.com/petal-labs/canvasflow/runtime"
)

// EnrichEmitter wraps an EventEmitter so that emitted events carry the
// TraceID and SpanID of the matching span. Node events prefer the node span
// and fall back to the run span; events without an active span pass through
// unchanged.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.NodeID != "" {
			if sc := tracing.ActiveSpanContext(e.RunID, e.NodeID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			if sc := tracing.ActiveRunSpanContext(e.RunID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns a runtime.EventEmitterDecorator that feeds every event
// to tracing before enriching it with the resulting span ids. Use it as
// RunOptions.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		enriched := EnrichEmitter(next, tracing)
		return func(e runtime.Event) {
			switch e.Kind {
			case runtime.EventRunStarted, runtime.EventNodeStarted, runtime.EventNodeOutput:
				// Open the span first so the event carries its ids.
				tracing.Handle(e)
				enriched(e)
			default:
				// Enrich while the span is still open, then close it.
				enriched(e)
				tracing.Handle(e)
			}
		}
	}
}
