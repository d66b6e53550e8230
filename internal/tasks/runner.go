package tasks

import (
	"errors"
	"fmt"
	"log/slog"

	"warden/internal/events"
)

// Procedure is a task body. It runs exactly once on its own goroutine,
// suspends itself through the context's Checkpoint, and returns a result
// string or an error. It must poll ShouldContinue at loop boundaries.
type Procedure func(tc *Context) (string, error)

// Runner launches procedures against a registry.
type Runner struct {
	registry *Registry
}

func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Start registers a task, returns its id and initial status, then runs
// the procedure on a new goroutine. The returned report reflects the
// task before the body has done any work.
func (r *Runner) Start(owner, description string, proc Procedure) (string, StatusReport, error) {
	task, ctx := r.registry.Register(owner, description)

	initial, err := r.registry.Status(task.ID)
	if err != nil {
		return "", StatusReport{}, err
	}

	go r.invoke(task.ID, ctx, proc)
	return task.ID, initial, nil
}

// invoke drives one procedure to a terminal state. A panic in the body
// fails the task rather than the process. A terminal transition that is
// rejected means an abort won the race, which is fine.
func (r *Runner) invoke(taskID string, ctx *Context, proc Procedure) {
	if r.registry.bus != nil {
		r.registry.bus.Publish(events.NewTypedEventForTask(events.SourceTask, events.TaskStartedPayload{
			TaskID: taskID,
		}, taskID))
	}

	defer func() {
		if p := recover(); p != nil {
			if err := r.registry.FailTask(taskID, fmt.Errorf("panic: %v", p)); err != nil {
				r.logSettleError(taskID, err)
			}
		}
	}()

	result, err := proc(ctx)
	if err != nil {
		if ferr := r.registry.FailTask(taskID, err); ferr != nil {
			r.logSettleError(taskID, ferr)
		}
		return
	}

	if cerr := r.registry.CompleteTask(taskID, result); cerr != nil {
		r.logSettleError(taskID, cerr)
	}
}

func (r *Runner) logSettleError(taskID string, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		slog.Debug("task already settled", "task_id", taskID, "error", err)
		return
	}
	slog.Warn("could not settle task", "task_id", taskID, "error", err)
}
