package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/pkg/logger"
)

const meterName = "escrowdash/service"

// Metrics records submission pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	submissions metric.Int64Counter
	latency     metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.submissions, err = meter.Int64Counter("escrowdash.submissions.total",
		metric.WithDescription("Contract operations by action and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram("escrowdash.confirmation.duration",
		metric.WithDescription("Time from broadcast to final confirmation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 10, 15, 30, 45, 60, 90, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	m.inFlight, err = meter.Int64UpDownCounter("escrowdash.operations.in_flight",
		metric.WithDescription("Operations awaiting confirmation"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Metrics) RecordSubmission(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordConfirmation(ctx context.Context, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) AddInFlight(ctx context.Context, action string, delta int64) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, delta, metric.WithAttributes(attribute.String("action", action)))
}

// SetupTelemetry installs an OTLP metric exporter as the global meter
// provider. With no endpoint configured it leaves the no-op provider in place.
func SetupTelemetry(ctx context.Context, cfg *config.TelemetryConfig) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(mp)

	logger.Info(ctx, "telemetry initialized", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return mp.Shutdown, nil
}

// DefaultMeter returns the meter of the global provider.
func DefaultMeter() metric.Meter {
	return otel.Meter(meterName)
}
