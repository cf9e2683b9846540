package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/conductor/internal/task"
)

// TaskRecorder feeds task manager lifecycle events into the metric
// instruments. It satisfies the manager's Recorder interface.
type TaskRecorder struct {
	metrics *Metrics
}

// NewTaskRecorder wraps the instruments for the task manager.
func NewTaskRecorder(m *Metrics) *TaskRecorder {
	return &TaskRecorder{metrics: m}
}

func (r *TaskRecorder) TaskCreated(ctx context.Context) {
	r.metrics.TasksCreated.Add(ctx, 1)
}

func (r *TaskRecorder) TaskSettled(ctx context.Context, status task.Status, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrStatus.String(string(status)))
	r.metrics.TasksSettled.Add(ctx, 1, attrs)
	r.metrics.TaskDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (r *TaskRecorder) ActiveTasks(ctx context.Context, delta int) {
	r.metrics.ActiveTasks.Add(ctx, int64(delta))
}

var _ task.Recorder = (*TaskRecorder)(nil)
