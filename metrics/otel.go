package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/pithecene-io/zotel/types"
)

// OTelSink mirrors increments and observations onto OpenTelemetry
// instruments. Names outside Counters and Latency are ignored.
type OTelSink struct {
	counters map[string]metric.Int64Counter
	latency  metric.Float64Histogram
}

var counterHelp = map[string]string{
	TotalRequests:  "Requests handled by the bridge",
	IngestCount:    "Events ingested into the primary log",
	QueryCount:     "Queries served",
	ErrorCount:     "Requests that failed",
	DuplicateCount: "Events rejected as duplicates",
}

// NewOTelSink creates the instruments on meter.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	s := &OTelSink{counters: make(map[string]metric.Int64Counter, len(counterHelp))}
	for _, name := range Counters() {
		c, err := meter.Int64Counter("zotel."+name,
			metric.WithDescription(counterHelp[name]),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		s.counters[name] = c
	}

	var err error
	s.latency, err = meter.Float64Histogram("zotel.latency",
		metric.WithDescription("Request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}
	return s, nil
}

// Increment implements Sink.
func (s *OTelSink) Increment(name string) {
	if c, ok := s.counters[name]; ok {
		c.Add(context.Background(), 1)
	}
}

// Observe implements Sink.
func (s *OTelSink) Observe(name string, value float64) {
	if name == Latency {
		s.latency.Record(context.Background(), value)
	}
}

// ExporterConfig configures the OTLP metric exporter.
type ExporterConfig struct {
	// Endpoint is the OTLP gRPC collector address (e.g. localhost:4317).
	Endpoint string
	Insecure bool
	// Interval between exports (default 15s).
	Interval time.Duration
}

// NewExportingProvider builds a MeterProvider that pushes to an OTLP
// collector. Callers must Shutdown the provider to flush.
func NewExportingProvider(ctx context.Context, cfg ExporterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("zotel"),
		semconv.ServiceVersion(types.Version),
	)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.Interval),
		)),
	), nil
}

// Verify OTelSink implements Sink.
var _ Sink = (*OTelSink)(nil)
