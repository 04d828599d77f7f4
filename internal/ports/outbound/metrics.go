package outbound

import (
	"context"
	"time"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the application layer to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordRefresh records one adapter refresh attempt with its outcome
	// and duration.
	RecordRefresh(ctx context.Context, adapter string, success bool, duration time.Duration)
}
