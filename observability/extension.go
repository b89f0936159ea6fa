package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/task"
)

// meterName is the instrumentation scope name for syncforge metrics.
const meterName = "github.com/syncforge/syncforge"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.TaskSubmitted   = (*MetricsExtension)(nil)
	_ ext.TaskCompleted   = (*MetricsExtension)(nil)
	_ ext.TaskFailed      = (*MetricsExtension)(nil)
	_ ext.TaskCanceled    = (*MetricsExtension)(nil)
	_ ext.TaskOrphaned    = (*MetricsExtension)(nil)
	_ ext.ContentSaved    = (*MetricsExtension)(nil)
	_ ext.ArtifactFetched = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to automatically track submission rates,
// completion counts, failure rates, orphan reclamations, content saves,
// and downloaded artifact bytes.
type MetricsExtension struct {
	taskSubmitted metric.Int64Counter
	taskCompleted metric.Int64Counter
	taskFailed    metric.Int64Counter
	taskCanceled  metric.Int64Counter
	taskOrphaned  metric.Int64Counter
	contentSaved  metric.Int64Counter
	contentReused metric.Int64Counter
	artifactCount metric.Int64Counter
	artifactBytes metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured, all instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this variant to inject a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		taskSubmitted: counter("syncforge.task.submitted", "Tasks submitted"),
		taskCompleted: counter("syncforge.task.completed", "Tasks completed"),
		taskFailed:    counter("syncforge.task.failed", "Tasks failed"),
		taskCanceled:  counter("syncforge.task.canceled", "Tasks canceled"),
		taskOrphaned:  counter("syncforge.task.orphaned", "Tasks reclaimed from dead workers"),
		contentSaved:  counter("syncforge.content.saved", "Content units newly persisted"),
		contentReused: counter("syncforge.content.reused", "Content units rebound to existing rows"),
		artifactCount: counter("syncforge.artifact.fetched", "Artifacts fetched and verified"),
		artifactBytes: counter("syncforge.artifact.bytes", "Total bytes of fetched artifacts"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnTaskSubmitted implements ext.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(ctx context.Context, _ *task.Task) error {
	m.taskSubmitted.Add(ctx, 1)
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, _ *task.Task, _ time.Duration) error {
	m.taskCompleted.Add(ctx, 1)
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, _ *task.Task, _ error) error {
	m.taskFailed.Add(ctx, 1)
	return nil
}

// OnTaskCanceled implements ext.TaskCanceled.
func (m *MetricsExtension) OnTaskCanceled(ctx context.Context, _ *task.Task) error {
	m.taskCanceled.Add(ctx, 1)
	return nil
}

// OnTaskOrphaned implements ext.TaskOrphaned.
func (m *MetricsExtension) OnTaskOrphaned(ctx context.Context, _ *task.Task) error {
	m.taskOrphaned.Add(ctx, 1)
	return nil
}

// OnContentSaved implements ext.ContentSaved.
func (m *MetricsExtension) OnContentSaved(ctx context.Context, _ *content.Content, created bool) error {
	if created {
		m.contentSaved.Add(ctx, 1)
	} else {
		m.contentReused.Add(ctx, 1)
	}
	return nil
}

// OnArtifactFetched implements ext.ArtifactFetched.
func (m *MetricsExtension) OnArtifactFetched(ctx context.Context, _ string, size int64) error {
	m.artifactCount.Add(ctx, 1)
	m.artifactBytes.Add(ctx, size)
	return nil
}
