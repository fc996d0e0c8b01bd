package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/canvasflow/runtime"
)

// InstrumentationName names the tracer and meter used by canvasflow.
const InstrumentationName = "github.com/petal-labs/canvasflow"

// Config selects which telemetry a Telemetry instance collects.
type Config struct {
	// OTLPEndpoint is a host:port for OTLP/HTTP trace export. Empty uses the
	// globally registered tracer provider.
	OTLPEndpoint string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool

	// Metrics enables in-process metric collection readable via WriteMetrics.
	Metrics bool
}

// Telemetry bundles the handlers wired into a run and the providers that
// back them.
type Telemetry struct {
	Tracing *TracingHandler
	Metrics *MetricsHandler

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader
}

// Setup builds tracing and, when requested, metrics for CLI runs.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	t := &Telemetry{}

	var tracer trace.Tracer
	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		tracer = t.tracerProvider.Tracer(InstrumentationName)
	} else {
		tracer = otelapi.GetTracerProvider().Tracer(InstrumentationName)
	}
	t.Tracing = NewTracingHandler(tracer)

	if cfg.Metrics {
		t.reader = sdkmetric.NewManualReader()
		t.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(t.reader))
		mh, err := NewMetricsHandler(t.meterProvider.Meter(InstrumentationName))
		if err != nil {
			return nil, fmt.Errorf("otel: create metrics: %w", err)
		}
		t.Metrics = mh
	}
	return t, nil
}

// Decorator returns the emitter decorator to pass in RunOptions.
func (t *Telemetry) Decorator() runtime.EventEmitterDecorator {
	return Decorator(t.Tracing)
}

// Handler returns the event handler to pass in RunOptions, or nil when
// metrics are disabled.
func (t *Telemetry) Handler() runtime.EventHandler {
	if t.Metrics == nil {
		return nil
	}
	return t.Metrics.Handle
}

// WriteMetrics collects the current metric values and prints one line per
// data point. It does nothing when metrics are disabled.
func (t *Telemetry) WriteMetrics(ctx context.Context, w io.Writer) error {
	if t.reader == nil {
		return nil
	}
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("otel: collect metrics: %w", err)
	}

	enc := attribute.DefaultEncoder()
	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s{%s} %d", m.Name, dp.Attributes.Encoded(enc), dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s{%s} count=%d sum=%.4f%s", m.Name, dp.Attributes.Encoded(enc), dp.Count, dp.Sum, m.Unit))
				}
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown flushes and stops the providers created by Setup.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
