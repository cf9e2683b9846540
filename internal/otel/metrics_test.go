package otel

import (
	"context"
	"testing"
	"time"

	"github.com/basket/conductor/internal/task"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.TasksCreated == nil {
		t.Error("TasksCreated is nil")
	}
	if m.TasksSettled == nil {
		t.Error("TasksSettled is nil")
	}
	if m.TaskDuration == nil {
		t.Error("TaskDuration is nil")
	}
	if m.ActiveTasks == nil {
		t.Error("ActiveTasks is nil")
	}
}

func TestTaskRecorder_NoopInstruments(t *testing.T) {
	p, err := Init(context.Background(), Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}

	// Must not panic regardless of backend.
	rec := NewTaskRecorder(m)
	ctx := context.Background()
	rec.TaskCreated(ctx)
	rec.ActiveTasks(ctx, 1)
	rec.TaskSettled(ctx, task.StatusCompleted, 15*time.Millisecond)
	rec.TaskSettled(ctx, task.StatusFailed, time.Second)
	rec.ActiveTasks(ctx, -1)
}
