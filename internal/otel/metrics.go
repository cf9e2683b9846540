package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all conductor metric instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	TasksCreated    metric.Int64Counter
	TasksSettled    metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	ActiveTasks     metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("conductor.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCreated, err = meter.Int64Counter("conductor.task.created",
		metric.WithDescription("Tasks accepted into the queue"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksSettled, err = meter.Int64Counter("conductor.task.settled",
		metric.WithDescription("Tasks settled, by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("conductor.task.duration",
		metric.WithDescription("Task handler execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("conductor.task.active",
		metric.WithDescription("Tasks currently executing"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
