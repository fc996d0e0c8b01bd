// Package otel provides OpenTelemetry integration for canvasflow runtime events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/canvasflow/runtime"
)

// Span attribute keys.
const (
	attrRunID       = attribute.Key("canvasflow.run_id")
	attrNodeID      = attribute.Key("canvasflow.node_id")
	attrNodeType    = attribute.Key("canvasflow.node_type")
	attrNodes       = attribute.Key("canvasflow.nodes")
	attrConnections = attribute.Key("canvasflow.connections")
	attrStatus      = attribute.Key("canvasflow.status")
	attrFailedNode  = attribute.Key("canvasflow.failed_node")
)

type runSpan struct {
	span trace.Span
	ctx  context.Context
}

type nodeKey struct {
	runID  string
	nodeID string
}

// TracingHandler turns runtime events into spans: one root span per run and
// one child span per executed node. node.output events become span events.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	runs  map[string]runSpan
	nodes map[nodeKey]trace.Span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		runs:   make(map[string]runSpan),
		nodes:  make(map[nodeKey]trace.Span),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.startRun(e)
	case runtime.EventNodeStarted:
		h.startNode(e)
	case runtime.EventNodeOutput:
		h.nodeOutput(e)
	case runtime.EventNodeFinished, runtime.EventNodeFailed:
		h.endNode(e)
	case runtime.EventRunFinished:
		h.endRun(e)
	}
}

func (h *TracingHandler) startRun(e runtime.Event) {
	attrs := []attribute.KeyValue{attrRunID.String(e.RunID)}
	if n, ok := e.Payload["nodes"].(int); ok {
		attrs = append(attrs, attrNodes.Int(n))
	}
	if n, ok := e.Payload["connections"].(int); ok {
		attrs = append(attrs, attrConnections.Int(n))
	}

	ctx, span := h.tracer.Start(context.Background(), "canvasflow.run",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runs[e.RunID] = runSpan{span: span, ctx: ctx}
	h.mu.Unlock()
}

func (h *TracingHandler) startNode(e runtime.Event) {
	h.mu.RLock()
	parent, ok := h.runs[e.RunID]
	h.mu.RUnlock()

	parentCtx := context.Background()
	if ok {
		parentCtx = parent.ctx
	}

	_, span := h.tracer.Start(parentCtx, "canvasflow.node "+e.NodeType,
		trace.WithAttributes(
			attrRunID.String(e.RunID),
			attrNodeID.String(e.NodeID),
			attrNodeType.String(e.NodeType),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodes[nodeKey{e.RunID, e.NodeID}] = span
	h.mu.Unlock()
}

func (h *TracingHandler) nodeOutput(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.nodes[nodeKey{e.RunID, e.NodeID}]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(e.Payload))
	for k, v := range e.Payload {
		if s, ok := v.(string); ok {
			attrs = append(attrs, attribute.String("canvasflow.output."+k, s))
		}
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) endNode(e runtime.Event) {
	key := nodeKey{e.RunID, e.NodeID}

	h.mu.Lock()
	span, ok := h.nodes[key]
	delete(h.nodes, key)
	h.mu.Unlock()
	if !ok {
		return
	}

	if e.Kind == runtime.EventNodeFailed {
		msg := payloadString(e, "error", "unknown error")
		span.SetStatus(codes.Error, msg)
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) endRun(e runtime.Event) {
	h.mu.Lock()
	rs, ok := h.runs[e.RunID]
	delete(h.runs, e.RunID)
	h.mu.Unlock()
	if !ok {
		return
	}

	status := payloadString(e, "status", "")
	rs.span.SetAttributes(attrStatus.String(status))
	if status == "failed" {
		if failed := payloadString(e, "failed_node", ""); failed != "" {
			rs.span.SetAttributes(attrFailedNode.String(failed))
		}
		rs.span.SetStatus(codes.Error, payloadString(e, "error", "run failed"))
	} else {
		rs.span.SetStatus(codes.Ok, "")
	}
	rs.span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the running node span, or an
// empty SpanContext.
func (h *TracingHandler) ActiveSpanContext(runID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodes[nodeKey{runID, nodeID}]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext of the run span, or an empty
// SpanContext.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	rs, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return rs.span.SpanContext()
}

func payloadString(e runtime.Event, key, fallback string) string {
	if s, ok := e.Payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
