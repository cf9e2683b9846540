package bus

import "time"

// Task lifecycle event topics. All share the "task_" prefix so a single
// subscription can follow a task end to end.
const (
	TopicTaskCreated    = "task_created"
	TopicTaskInProgress = "task_in_progress"
	TopicTaskCompleted  = "task_completed"
	TopicTaskFailed     = "task_failed"
	TopicTaskCancelled  = "task_cancelled"

	// TopicTaskPrefix matches every task lifecycle topic.
	TopicTaskPrefix = "task_"
)

// System topics.
const (
	TopicSystemStats = "system_stats"
)

// TaskEvent is the envelope published on every task lifecycle topic.
// Result is set only for task_completed, Error only for task_failed.
type TaskEvent struct {
	Type      string      `json:"type"`
	TaskID    string      `json:"taskId"`
	AgentID   string      `json:"agentId,omitempty"`
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// StatsEvent is the envelope published on system_stats.
type StatsEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	TotalTasks  int            `json:"totalTasks"`
	ByStatus    map[string]int `json:"byStatus"`
	QueueDepth  int            `json:"queueDepth"`
	ActiveTasks int            `json:"activeTasks"`
}
