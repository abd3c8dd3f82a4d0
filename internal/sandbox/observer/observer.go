// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, backend string, failed bool, timeMs int64, memoryBytes int64, memoryMeasured bool)
	ObserveVerdict(ctx context.Context, backend string, status string)
	ObserveContainerStart(ctx context.Context, d time.Duration, ok bool)
	ObserveRejected(ctx context.Context, reason string)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveCompile(context.Context, string, bool, int64)          {}
func (Noop) ObserveRun(context.Context, string, bool, int64, int64, bool) {}
func (Noop) ObserveVerdict(context.Context, string, string)               {}
func (Noop) ObserveContainerStart(context.Context, time.Duration, bool)   {}
func (Noop) ObserveRejected(context.Context, string)                      {}
