package task

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/basket/conductor/internal/agent"
	"github.com/basket/conductor/internal/bus"
	"github.com/basket/conductor/internal/cache"
	"github.com/basket/conductor/internal/journal"
	"github.com/basket/conductor/internal/shared"
)

// Recorder receives task metrics. The otel package provides the real
// implementation; tests use the no-op default.
type Recorder interface {
	TaskCreated(ctx context.Context)
	TaskSettled(ctx context.Context, status Status, elapsed time.Duration)
	ActiveTasks(ctx context.Context, delta int)
}

type noopRecorder struct{}

func (noopRecorder) TaskCreated(context.Context)                        {}
func (noopRecorder) TaskSettled(context.Context, Status, time.Duration) {}
func (noopRecorder) ActiveTasks(context.Context, int)                   {}

// Config holds the manager's collaborators and tuning knobs.
type Config struct {
	// MaxConcurrent is the concurrency ceiling: the worker pool size.
	// The pool size itself bounds the number of IN_PROGRESS tasks.
	MaxConcurrent int
	// TaskTTL is the cache expiry for task projections.
	TaskTTL time.Duration
	// WebhookTimeout bounds each callback delivery attempt.
	WebhookTimeout time.Duration

	Bus      *bus.Bus
	Cache    cache.Cache
	Journal  *journal.Journal
	Recorder Recorder
	Logger   *slog.Logger

	// SharedState is exposed to agent handlers via their context.
	SharedState map[string]interface{}
}

// Manager owns all tasks for the process lifetime. Tasks are never
// deleted; terminal tasks stay queryable and only their cache entries
// expire.
type Manager struct {
	registry *agent.Registry
	cache    cache.Cache
	bus      *bus.Bus
	journal  *journal.Journal
	rec      Recorder
	logger   *slog.Logger
	cfg      Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    priorityQueue
	seq      uint64
	tasks    map[string]*Task
	cancels  map[string]context.CancelFunc
	draining bool

	once   sync.Once
	wg     sync.WaitGroup
	active atomic.Int32

	httpClient *http.Client
	state      map[string]interface{}
}

// New creates a Manager. Workers do not run until Start.
func New(registry *agent.Registry, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = 5 * time.Minute
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Noop{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		registry:   registry,
		cache:      cfg.Cache,
		bus:        cfg.Bus,
		journal:    cfg.Journal,
		rec:        cfg.Recorder,
		logger:     cfg.Logger,
		cfg:        cfg,
		tasks:      make(map[string]*Task),
		cancels:    make(map[string]context.CancelFunc),
		httpClient: &http.Client{Timeout: cfg.WebhookTimeout},
		state:      cfg.SharedState,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start launches the worker pool. Tasks enqueued before Start wait in
// the queue and are admitted in priority order once workers run.
func (m *Manager) Start(ctx context.Context) {
	m.once.Do(func() {
		go func() {
			<-ctx.Done()
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		}()
		for i := 0; i < m.cfg.MaxConcurrent; i++ {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.worker(ctx)
			}()
		}
	})
}

// Drain stops admitting queued work and waits up to timeout for
// in-flight executions and webhook deliveries to finish.
func (m *Manager) Drain(timeout time.Duration) {
	m.mu.Lock()
	m.draining = true
	m.cond.Broadcast()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("task manager drained cleanly")
	case <-time.After(timeout):
		m.logger.Warn("task manager drain timeout", "timeout", timeout)
	}
}

func (m *Manager) worker(ctx context.Context) {
	for {
		t := m.nextPending(ctx)
		if t == nil {
			return
		}
		m.execute(ctx, t)
	}
}

// nextPending blocks until a runnable task is available. Tasks cancelled
// while queued are dropped here without executing.
func (m *Manager) nextPending(ctx context.Context) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if ctx.Err() != nil || m.draining {
			return nil
		}
		for m.queue.Len() > 0 {
			item := heap.Pop(&m.queue).(*queueItem)
			if item.task.Status == StatusCancelled {
				continue
			}
			return item.task
		}
		m.cond.Wait()
	}
}

// CreateInput is a task submission.
type CreateInput struct {
	// AgentID, when set, must name a registered agent; routing is skipped.
	AgentID     string
	Query       string
	Priority    int
	Params      map[string]interface{}
	Metadata    map[string]interface{}
	CallbackURL string
}

// CreateTask resolves an agent, enqueues a new PENDING task, and returns
// immediately with a minimal projection. The caller never blocks on
// completion.
func (m *Manager) CreateTask(ctx context.Context, in CreateInput) (Projection, error) {
	agentID := in.AgentID
	if agentID != "" {
		if _, ok := m.registry.Get(agentID); !ok {
			return Projection{}, fmt.Errorf("agent %q: %w", agentID, ErrNotFound)
		}
	} else {
		capability, _ := in.Params["capability"].(string)
		id, ok := m.registry.Route(in.Query, agent.RouteParams{Capability: capability})
		if !ok {
			return Projection{}, fmt.Errorf("no agent routes query: %w", ErrBadRequest)
		}
		agentID = id
	}

	now := time.Now()
	t := &Task{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Status:      StatusPending,
		Priority:    in.Priority,
		Query:       in.Query,
		Params:      in.Params,
		Metadata:    in.Metadata,
		CallbackURL: in.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []HistoryEntry{{Status: StatusPending, Timestamp: now, Message: "Task created"}},
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	snapshot := t.clone()
	m.mu.Unlock()

	// Announce before the task becomes schedulable so task_created always
	// precedes task_in_progress on the stream.
	m.persist(ctx, snapshot)
	m.publish(bus.TopicTaskCreated, snapshot)
	m.journalAppend(ctx, snapshot, journal.EventTaskCreated, "", "")
	m.rec.TaskCreated(ctx)
	m.logger.Info("task created", "task_id", t.ID, "agent_id", agentID, "priority", t.Priority)

	m.mu.Lock()
	m.seq++
	heap.Push(&m.queue, &queueItem{task: t, seq: m.seq})
	m.cond.Signal()
	m.mu.Unlock()

	return Projection{
		ID:        t.ID,
		AgentID:   t.AgentID,
		Status:    snapshot.Status,
		Priority:  t.Priority,
		CreatedAt: t.CreatedAt,
	}, nil
}

// execute runs one task to settlement. The handler call is awaited in
// full; a cancellation observed afterwards discards the outcome.
func (m *Manager) execute(ctx context.Context, t *Task) {
	m.mu.Lock()
	if t.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	t.StartedAt = &now
	m.applyTransitionLocked(t, StatusInProgress, "Execution started")
	snapshot := t.clone()
	m.mu.Unlock()

	m.active.Add(1)
	m.rec.ActiveTasks(ctx, 1)
	defer func() {
		m.active.Add(-1)
		m.rec.ActiveTasks(ctx, -1)
	}()

	m.persist(ctx, snapshot)
	m.publish(bus.TopicTaskInProgress, snapshot)
	m.journalAppend(ctx, snapshot, journal.EventTaskInProgress, string(StatusPending), "")

	execCtx := shared.WithTraceID(ctx, shared.NewTraceID())
	execCtx = shared.WithTaskID(execCtx, t.ID)
	execCtx = shared.WithAgentID(execCtx, t.AgentID)

	// Advisory cancellation: CancelTask cancels this context, but the
	// settlement is awaited in full either way.
	execCtx, cancelExec := context.WithCancel(execCtx)
	m.mu.Lock()
	m.cancels[t.ID] = cancelExec
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, t.ID)
		m.mu.Unlock()
		cancelExec()
	}()

	m.logger.Info("task executing", "task_id", t.ID, "agent_id", t.AgentID, "trace_id", shared.TraceID(execCtx))

	reg, ok := m.registry.Get(t.AgentID)
	start := time.Now()
	var result interface{}
	var err error
	var panicked bool
	if !ok || reg.Handler == nil {
		err = fmt.Errorf("agent %s is no longer registered", t.AgentID)
	} else {
		result, err, panicked = m.invoke(execCtx, reg.Handler, snapshot)
	}
	elapsed := time.Since(start)

	m.mu.Lock()
	if t.Status == StatusCancelled {
		// Cancelled mid-flight: the settlement is not honored. Keep the
		// discarded outcome journal-visible, nothing else.
		m.mu.Unlock()
		m.logger.Debug("discarding settlement of cancelled task", "task_id", t.ID, "success", err == nil)
		detail := discardDetail(result, err)
		m.journalAppend(ctx, snapshot, journal.EventResultDiscarded, string(StatusCancelled), detail)
		return
	}

	settled := time.Now()
	t.CompletedAt = &settled
	var topic, event string
	if err != nil {
		errType := "HandlerError"
		if panicked {
			errType = "PanicError"
		}
		t.Error = &TaskError{Message: err.Error(), Type: errType, Timestamp: settled}
		m.applyTransitionLocked(t, StatusFailed, err.Error())
		topic, event = bus.TopicTaskFailed, journal.EventTaskFailed
	} else {
		t.Result = result
		m.applyTransitionLocked(t, StatusCompleted, "Execution completed")
		topic, event = bus.TopicTaskCompleted, journal.EventTaskCompleted
	}
	snapshot = t.clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.publish(topic, snapshot)
	m.journalAppend(ctx, snapshot, event, string(StatusInProgress), "")
	m.registry.UpdateHealth(snapshot.AgentID, err == nil, elapsed)
	m.rec.TaskSettled(ctx, snapshot.Status, elapsed)

	if err != nil {
		m.logger.Warn("task failed", "task_id", t.ID, "agent_id", t.AgentID, "error", err, "elapsed", elapsed)
	} else {
		m.logger.Info("task completed", "task_id", t.ID, "agent_id", t.AgentID, "elapsed", elapsed)
	}

	if snapshot.CallbackURL != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.deliverWebhook(snapshot)
		}()
	}
}

// invoke calls the handler with panic recovery. A panic settles the
// task FAILED instead of crashing the worker.
func (m *Manager) invoke(ctx context.Context, h agent.Handler, t Task) (result interface{}, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			panicked = true
		}
	}()
	hctx := &agent.HandlerContext{
		TaskID:   t.ID,
		Metadata: t.Metadata,
		Cache:    m.cache,
		State:    m.state,
	}
	result, err = h(ctx, HandlerPayload(t.Query, t.Params), hctx)
	return result, err, false
}

// HandlerPayload merges the query into the params map without mutating
// it. This is the payload shape handlers receive; the gateway builds
// the same shape when validating a submission against an agent's input
// schema. The manager itself treats params as opaque.
func HandlerPayload(query string, params map[string]interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	if _, ok := payload["query"]; !ok {
		payload["query"] = query
	}
	return payload
}

// CancelTask forces a non-terminal task to CANCELLED. An in-flight
// execution discovers this on settlement and discards its result.
func (m *Manager) CancelTask(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("cannot cancel %s task: %w", t.Status, ErrBadRequest)
	}
	from := t.Status
	now := time.Now()
	t.CompletedAt = &now
	m.applyTransitionLocked(t, StatusCancelled, "Task cancelled")
	snapshot := t.clone()
	cancelExec := m.cancels[id]
	m.mu.Unlock()

	// Nudge an in-flight handler; discarding its settlement does not
	// depend on it listening.
	if cancelExec != nil {
		cancelExec()
	}

	m.persist(ctx, snapshot)
	m.publish(bus.TopicTaskCancelled, snapshot)
	m.journalAppend(ctx, snapshot, journal.EventTaskCancelled, string(from), "")
	m.logger.Info("task cancelled", "task_id", id, "was", string(from))
	return snapshot, nil
}

// GetTask returns a copy of the task, falling back to the cache for
// projections this process no longer holds.
func (m *Manager) GetTask(ctx context.Context, id string) (Task, bool) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		snapshot := t.clone()
		m.mu.Unlock()
		return snapshot, true
	}
	m.mu.Unlock()

	data, hit, err := m.cache.Get(ctx, cacheKey(id))
	if err != nil {
		m.logger.Warn("task cache read failed", "task_id", id, "error", err)
		return Task{}, false
	}
	if !hit {
		return Task{}, false
	}
	var cached Task
	if err := json.Unmarshal(data, &cached); err != nil {
		m.logger.Warn("task cache entry corrupt", "task_id", id, "error", err)
		return Task{}, false
	}
	return cached, true
}

// Filter selects tasks for ListTasks. Zero values match everything.
type Filter struct {
	Status  Status
	AgentID string
	Limit   int
}

// ListTasks returns summaries ordered by priority descending, then
// creation time ascending, independent of insertion order.
func (m *Manager) ListTasks(f Filter) []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.tasks))
	for _, t := range m.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		out = append(out, t.summary())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Stats returns aggregate counts, the current queue depth, the live
// in-flight count, and the configured ceiling.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	byStatus := make(map[Status]int)
	for _, t := range m.tasks {
		byStatus[t.Status]++
	}
	total := len(m.tasks)
	m.mu.Unlock()

	return Stats{
		TotalTasks:    total,
		ByStatus:      byStatus,
		QueueDepth:    byStatus[StatusPending],
		ActiveTasks:   int(m.active.Load()),
		MaxConcurrent: m.cfg.MaxConcurrent,
	}
}

// applyTransitionLocked mutates status, timestamps, and history. Callers
// hold m.mu and have already validated the transition is meaningful.
func (m *Manager) applyTransitionLocked(t *Task, to Status, msg string) {
	if !canTransition(t.Status, to) {
		m.logger.Error("illegal task transition", "task_id", t.ID, "from", string(t.Status), "to", string(to))
		return
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	t.History = append(t.History, HistoryEntry{Status: to, Timestamp: t.UpdatedAt, Message: msg})
}

func cacheKey(id string) string { return "task:" + id }

// persist writes the task projection to the cache. Best-effort: a write
// failure is logged and never alters the task's outcome.
func (m *Manager) persist(ctx context.Context, t Task) {
	data, err := json.Marshal(t)
	if err != nil {
		m.logger.Warn("task projection encode failed", "task_id", t.ID, "error", err)
		return
	}
	if err := m.cache.Set(ctx, cacheKey(t.ID), data, m.cfg.TaskTTL); err != nil {
		m.logger.Warn("task cache write failed", "task_id", t.ID, "error", err)
	}
}

// publish emits a lifecycle event. Fire-and-forget: the bus never blocks.
func (m *Manager) publish(topic string, t Task) {
	if m.bus == nil {
		return
	}
	ev := bus.TaskEvent{
		Type:      topic,
		TaskID:    t.ID,
		AgentID:   t.AgentID,
		Status:    string(t.Status),
		Timestamp: time.Now(),
	}
	switch topic {
	case bus.TopicTaskCompleted:
		ev.Result = t.Result
	case bus.TopicTaskFailed:
		if t.Error != nil {
			ev.Error = t.Error.Message
		}
	}
	m.bus.Publish(topic, ev)
}

func (m *Manager) journalAppend(ctx context.Context, t Task, event, from, detail string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(ctx, t.ID, t.AgentID, event, from, string(t.Status), detail); err != nil {
		m.logger.Warn("journal append failed", "task_id", t.ID, "event", event, "error", err)
	}
}

func discardDetail(result interface{}, err error) string {
	if err != nil {
		return fmt.Sprintf(`{"discarded":"error","message":%q}`, err.Error())
	}
	data, encErr := json.Marshal(result)
	if encErr != nil {
		return `{"discarded":"result"}`
	}
	return fmt.Sprintf(`{"discarded":"result","result":%s}`, data)
}
