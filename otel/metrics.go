package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/canvasflow/runtime"
)

// Metric instrument names.
const (
	MetricNodeExecutions = "canvasflow.node.executions"
	MetricNodeFailures   = "canvasflow.node.failures"
	MetricNodeDuration   = "canvasflow.node.duration"
	MetricRuns           = "canvasflow.runs"
	MetricRunDuration    = "canvasflow.run.duration"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics.
// Node instruments are keyed by node type only, so cardinality stays bounded
// by the registry.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler with instruments from meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter(MetricNodeExecutions,
		metric.WithDescription("Number of successful node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter(MetricNodeFailures,
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram(MetricNodeDuration,
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(MetricRuns,
		metric.WithDescription("Number of finished workflow runs"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Duration of workflow run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runs:           runs,
		runDuration:    runDur,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeFinished:
		attrs := metric.WithAttributes(attribute.String("node_type", e.NodeType))
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventNodeFailed:
		h.nodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("node_type", e.NodeType)))
	case runtime.EventRunFinished:
		attrs := metric.WithAttributes(attribute.String("status", payloadString(e, "status", "unknown")))
		h.runs.Add(ctx, 1, attrs)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	}
}
