package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/paymaster-oracle/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for application-level domain
// events, currently the adapter refresh loop.
type AppTelemetry struct {
	meter metric.Meter

	refreshesTotal  metric.Int64Counter
	refreshFailures metric.Int64Counter
	refreshDuration metric.Float64Histogram
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry
// instrumentation. Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a
// custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{
		meter: meter,
	}

	var err error

	t.refreshesTotal, err = meter.Int64Counter(
		"adapter.refreshes.total",
		metric.WithDescription("Total number of adapter refresh attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.refreshFailures, err = meter.Int64Counter(
		"adapter.refresh.failures.total",
		metric.WithDescription("Total number of failed adapter refreshes"),
	)
	if err != nil {
		return nil, err
	}

	t.refreshDuration, err = meter.Float64Histogram(
		"adapter.refresh.duration",
		metric.WithDescription("Duration of adapter refresh attempts"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordRefresh records one adapter refresh attempt.
func (t *AppTelemetry) RecordRefresh(ctx context.Context, adapter string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("adapter.name", adapter),
		attribute.Bool("refresh.success", success),
	)
	t.refreshesTotal.Add(ctx, 1, attrs)
	if !success {
		t.refreshFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter.name", adapter)))
	}
	t.refreshDuration.Record(ctx, duration.Seconds(), attrs)
}
