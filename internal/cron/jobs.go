package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/conductor/internal/bus"
	"github.com/basket/conductor/internal/journal"
	"github.com/basket/conductor/internal/task"
)

// PublishStats returns a job that snapshots the task manager's
// aggregate counts onto the system_stats topic.
func PublishStats(m *task.Manager, b *bus.Bus) func(context.Context) {
	return func(context.Context) {
		stats := m.Stats()
		byStatus := make(map[string]int, len(stats.ByStatus))
		for status, n := range stats.ByStatus {
			byStatus[string(status)] = n
		}
		b.Publish(bus.TopicSystemStats, bus.StatsEvent{
			Timestamp:   time.Now(),
			TotalTasks:  stats.TotalTasks,
			ByStatus:    byStatus,
			QueueDepth:  stats.QueueDepth,
			ActiveTasks: stats.ActiveTasks,
		})
	}
}

// SweepJournal returns a job that deletes journal events older than the
// retention window.
func SweepJournal(j *journal.Journal, days int, logger *slog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		deleted, err := j.RunRetention(ctx, days)
		if err != nil {
			logger.Error("cron: journal retention failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("cron: journal retention swept", "deleted", deleted, "days", days)
		}
	}
}
