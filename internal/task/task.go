// Package task implements the task manager: task identity, the stable
// priority queue, the concurrency-bounded scheduler, the lifecycle state
// machine, and callback delivery.
package task

import (
	"errors"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

var (
	// ErrNotFound is returned for an unknown task or agent id.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned when no agent routes or a cancel targets a
	// terminal task.
	ErrBadRequest = errors.New("bad request")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
}

func canTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskError is the structured failure recorded on a FAILED task.
type TaskError struct {
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one append-only lifecycle record. The last entry
// always matches the task's current status.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Task is a unit of routed work. Mutated exclusively by the Manager's
// transition functions; callers only ever see copies.
type Task struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agentId"`
	Status      Status                 `json:"status"`
	Priority    int                    `json:"priority"`
	Query       string                 `json:"query"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CallbackURL string                 `json:"callbackUrl,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       *TaskError             `json:"error,omitempty"`
	History     []HistoryEntry         `json:"history"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// clone returns a deep-enough copy for handing outside the manager's lock.
func (t *Task) clone() Task {
	out := *t
	out.History = append([]HistoryEntry(nil), t.History...)
	return out
}

// Projection is the minimal view returned by CreateTask.
type Projection struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Status    Status    `json:"status"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is the listing view: no raw payload, no history.
type Summary struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agentId"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Query       string     `json:"query"`
	Error       *TaskError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (t *Task) summary() Summary {
	return Summary{
		ID:          t.ID,
		AgentID:     t.AgentID,
		Status:      t.Status,
		Priority:    t.Priority,
		Query:       t.Query,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Stats is the aggregate view exposed to the API layer.
type Stats struct {
	TotalTasks    int            `json:"totalTasks"`
	ByStatus      map[Status]int `json:"byStatus"`
	QueueDepth    int            `json:"queueDepth"`
	ActiveTasks   int            `json:"activeTasks"`
	MaxConcurrent int            `json:"maxConcurrent"`
}
