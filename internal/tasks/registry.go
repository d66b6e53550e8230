package tasks

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"warden/internal/events"
	"warden/internal/gamestate"
)

// RegistryConfig holds dependencies for creating a Registry.
type RegistryConfig struct {
	Provider        gamestate.Provider
	Bus             *events.Bus
	ProgressLimit   int
	MonitorInterval time.Duration
}

// record pairs the task's data with its execution context.
type record struct {
	task *Task
	ctx  *Context
}

// Registry is the authoritative task table and the rendezvous point
// between suspended contexts and the external controller. It is the
// single writer of lifecycle status; contexts only read it, apart from
// the liveness flag the registry keeps in sync on abort. Construct one
// per process and inject it wherever tasks are created.
type Registry struct {
	provider        gamestate.Provider
	bus             *events.Bus
	progressLimit   int
	monitorInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*record
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		provider:        cfg.Provider,
		bus:             cfg.Bus,
		progressLimit:   cfg.ProgressLimit,
		monitorInterval: cfg.MonitorInterval,
		tasks:           make(map[string]*record),
	}
}

// Register allocates an id, builds a Context whose checkpoint handler
// delegates into the registry's rendezvous, and stores the task record.
// The record exists before any execution begins.
func (r *Registry) Register(owner, description string) (*Task, *Context) {
	id := GenerateTaskID()

	ctx := NewContext(ContextConfig{
		TaskID:          id,
		Description:     description,
		Provider:        r.provider,
		Bus:             r.bus,
		ProgressLimit:   r.progressLimit,
		MonitorInterval: r.monitorInterval,
		Handler: func(reason string, status StatusReport) (CheckpointResult, error) {
			return r.rendezvous(id, reason, status)
		},
	})

	now := time.Now()
	task := &Task{
		ID:          id,
		Owner:       owner,
		Description: description,
		Status:      StatusRunning,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.tasks[id] = &record{task: task, ctx: ctx}
	r.mu.Unlock()

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskCreatedPayload{
		TaskID:      id,
		Owner:       owner,
		Description: description,
	}, id))

	slog.Info("task registered", "task_id", id, "owner", owner, "description", description)
	return task, ctx
}

// rendezvous parks a checkpointing task in awaiting_feedback and blocks
// until ContinueTask or AbortTask resolves it. The registry waits
// indefinitely; any timeout belongs to the controller's own decision
// process.
func (r *Registry) rendezvous(taskID, reason string, status StatusReport) (CheckpointResult, error) {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return CheckpointResult{Continue: true}, nil
	}

	// An abort that landed mid-run resolves the checkpoint immediately.
	if rec.task.Status == StatusAborted {
		abortReason := rec.task.AbortReason
		r.mu.Unlock()
		return CheckpointResult{Abort: true, Reason: abortReason}, nil
	}

	if err := validateTransition(rec.task.Status, StatusAwaitingFeedback); err != nil {
		r.mu.Unlock()
		return CheckpointResult{Continue: true}, err
	}

	pending := &PendingCheckpoint{
		Reason:  reason,
		Status:  status,
		resolve: make(chan CheckpointResult, 1),
	}
	rec.task.Status = StatusAwaitingFeedback
	rec.task.Pending = pending
	rec.task.UpdatedAt = time.Now()
	count := status.CheckpointCount
	r.mu.Unlock()

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskCheckpointPayload{
		TaskID:          taskID,
		Reason:          reason,
		CheckpointCount: count,
	}, taskID))

	slog.Info("task awaiting feedback", "task_id", taskID, "reason", reason)

	return <-pending.resolve, nil
}

// ContinueTask resolves a pending checkpoint with a continue result,
// optionally carrying new instructions. It is the only way a suspended
// task resumes.
func (r *Registry) ContinueTask(taskID, instructions string) (CheckpointResult, error) {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return CheckpointResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if rec.task.Status != StatusAwaitingFeedback || rec.task.Pending == nil {
		r.mu.Unlock()
		return CheckpointResult{}, fmt.Errorf("%w: %s is %s", ErrNotAwaitingFeedback, taskID, rec.task.Status)
	}

	pending := rec.task.Pending
	rec.task.Pending = nil
	rec.task.Status = StatusRunning
	rec.task.UpdatedAt = time.Now()
	r.mu.Unlock()

	res := CheckpointResult{Continue: true, NewInstructions: instructions}
	pending.resolve <- res

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskResumedPayload{
		TaskID:       taskID,
		Instructions: instructions,
	}, taskID))

	slog.Info("task resumed", "task_id", taskID)
	return res, nil
}

// AbortTask flips the task to aborted, resolves any pending checkpoint
// negatively, latches the context's liveness flag, and releases the
// monitoring subscription. Aborting an already-terminal task is a no-op.
func (r *Registry) AbortTask(taskID, reason string) error {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if rec.task.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}

	pending := rec.task.Pending
	rec.task.Pending = nil
	rec.task.Status = StatusAborted
	rec.task.AbortReason = reason
	rec.task.UpdatedAt = time.Now()
	ctx := rec.ctx
	r.mu.Unlock()

	ctx.abort(reason)
	if pending != nil {
		pending.resolve <- CheckpointResult{Abort: true, Reason: reason}
	}
	ctx.Cleanup()

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskAbortedPayload{
		TaskID: taskID,
		Reason: reason,
	}, taskID))

	slog.Info("task aborted", "task_id", taskID, "reason", reason)
	return nil
}

// CompleteTask records a successful outcome. Invoked by the runner once
// the task body's single invocation returns.
func (r *Registry) CompleteTask(taskID, result string) error {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := validateTransition(rec.task.Status, StatusCompleted); err != nil {
		r.mu.Unlock()
		return err
	}
	rec.task.Status = StatusCompleted
	rec.task.Result = result
	rec.task.UpdatedAt = time.Now()
	ctx := rec.ctx
	elapsed := time.Since(rec.task.StartedAt)
	r.mu.Unlock()

	ctx.Complete(result)
	ctx.Cleanup()

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskCompletedPayload{
		TaskID:  taskID,
		Result:  result,
		Elapsed: elapsed,
	}, taskID))

	slog.Info("task completed", "task_id", taskID, "elapsed", elapsed)
	return nil
}

// FailTask records a failed outcome. A pending checkpoint, were one
// somehow still open, is deliberately not resolved here: this is the
// runner-level catch, not a registry decision.
func (r *Registry) FailTask(taskID string, taskErr error) error {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := validateTransition(rec.task.Status, StatusFailed); err != nil {
		r.mu.Unlock()
		return err
	}
	rec.task.Status = StatusFailed
	var msg string
	if taskErr != nil {
		msg = taskErr.Error()
	}
	rec.task.Error = msg
	rec.task.UpdatedAt = time.Now()
	ctx := rec.ctx
	r.mu.Unlock()

	ctx.Fail(taskErr)
	ctx.Cleanup()

	r.publish(events.NewTypedEventForTask(events.SourceRegistry, events.TaskFailedPayload{
		TaskID: taskID,
		Error:  msg,
	}, taskID))

	slog.Warn("task failed", "task_id", taskID, "error", taskErr)
	return nil
}

// Status returns the point-in-time composite for one task.
func (r *Registry) Status(taskID string) (StatusReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		return StatusReport{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	report := rec.ctx.Report(rec.task.Status)
	report.Result = rec.task.Result
	report.Error = rec.task.Error
	if rec.task.Pending != nil {
		report.CheckpointReason = rec.task.Pending.Reason
	}
	return report, nil
}

// ListTasks returns the read-only projection over the table, most
// recently updated first.
func (r *Registry) ListTasks() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]TaskInfo, 0, len(r.tasks))
	order := make(map[string]time.Time, len(r.tasks))
	for _, rec := range r.tasks {
		infos = append(infos, TaskInfo{
			ID:            rec.task.ID,
			Owner:         rec.task.Owner,
			Status:        rec.task.Status,
			Description:   rec.task.Description,
			ElapsedMs:     time.Since(rec.task.StartedAt).Milliseconds(),
			NeedsFeedback: rec.task.Status == StatusAwaitingFeedback,
		})
		order[rec.task.ID] = rec.task.UpdatedAt
	}

	sort.Slice(infos, func(i, j int) bool {
		return order[infos[i].ID].After(order[infos[j].ID])
	})
	return infos
}

// Counts returns how many tasks are running and awaiting feedback.
func (r *Registry) Counts() (running, awaiting int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.tasks {
		switch rec.task.Status {
		case StatusRunning:
			running++
		case StatusAwaitingFeedback:
			awaiting++
		}
	}
	return running, awaiting
}

// Cleanup evicts terminal tasks whose last update is older than maxAge.
// Running and suspended tasks are never evicted regardless of age.
// Idempotent: reaping an already-evicted task is a no-op.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	var evicted []*record
	for id, rec := range r.tasks {
		if !rec.task.Status.Terminal() {
			continue
		}
		if now.Sub(rec.task.UpdatedAt) < maxAge {
			continue
		}
		evicted = append(evicted, rec)
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	for _, rec := range evicted {
		rec.ctx.Cleanup()
	}

	if len(evicted) > 0 {
		slog.Info("reaped finished tasks", "count", len(evicted))
	}
	return len(evicted)
}

func (r *Registry) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
