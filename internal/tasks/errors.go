package tasks

import "errors"

var (
	// ErrTaskNotFound is returned when an operation references an
	// unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotAwaitingFeedback is returned when a resume is requested for
	// a task that holds no pending checkpoint.
	ErrNotAwaitingFeedback = errors.New("task is not awaiting feedback")

	// ErrInvalidTransition is returned when a lifecycle transition is
	// not allowed from the task's current status.
	ErrInvalidTransition = errors.New("invalid task status transition")
)
