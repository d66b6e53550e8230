// Package tasks implements checkpoint-based supervision of long-running
// scripted procedures: a task body runs until it suspends itself at a
// checkpoint, an external controller resumes or aborts it through the
// registry, and world-state diffs summarize what changed in between.
package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/diff"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingFeedback Status = "awaiting_feedback"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusAborted          Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusRunning: {
		StatusAwaitingFeedback: {},
		StatusCompleted:        {},
		StatusFailed:           {},
		StatusAborted:          {},
	},
	StatusAwaitingFeedback: {
		StatusRunning: {},
		StatusAborted: {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusAborted:   {},
}

func validateTransition(from, to Status) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source status %q", ErrInvalidTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckpointResult is what a suspended checkpoint resolves to.
type CheckpointResult struct {
	Continue        bool   `json:"continue"`
	Abort           bool   `json:"abort,omitempty"`
	Reason          string `json:"reason,omitempty"`
	NewInstructions string `json:"new_instructions,omitempty"`
}

// PendingCheckpoint is the single-use rendezvous record stored on a task
// while it is suspended. The resolver channel is buffered so the resuming
// caller never blocks, and the registry clears the record under its lock
// before resolving, so a checkpoint can only ever be resolved once.
type PendingCheckpoint struct {
	Reason string       `json:"reason"`
	Status StatusReport `json:"status"`

	resolve chan CheckpointResult
}

// ProgressReport is one entry in a task's bounded progress history.
type ProgressReport struct {
	Ts          time.Time `json:"ts"`
	Action      string    `json:"action,omitempty"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	DiffSummary []string  `json:"diff_summary,omitempty"`
}

// Task is the registry's record of one supervised procedure.
type Task struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner,omitempty"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	AbortReason string    `json:"abort_reason,omitempty"`

	// Pending is present only while the task is awaiting feedback.
	Pending *PendingCheckpoint `json:"pending,omitempty"`
}

// StatusReport is a point-in-time composite view of a task, the minimum
// information the controller boundary needs to render feedback.
type StatusReport struct {
	TaskID              string           `json:"task_id"`
	Description         string           `json:"description"`
	Status              Status           `json:"status"`
	ElapsedMs           int64            `json:"elapsed_ms"`
	CheckpointCount     int              `json:"checkpoint_count"`
	CheckpointReason    string           `json:"checkpoint_reason,omitempty"`
	DiffFromStart       diff.Diff        `json:"diff_from_start"`
	DiffSinceCheckpoint diff.Diff        `json:"diff_since_checkpoint"`
	RecentProgress      []ProgressReport `json:"recent_progress,omitempty"`
	WorldState          string           `json:"world_state,omitempty"`
	Result              string           `json:"result,omitempty"`
	Error               string           `json:"error,omitempty"`
}

// TaskInfo is the read-only list projection. It never exposes resolver
// handles or snapshots.
type TaskInfo struct {
	ID            string `json:"id"`
	Owner         string `json:"owner,omitempty"`
	Status        Status `json:"status"`
	Description   string `json:"description"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	NeedsFeedback bool   `json:"needs_feedback"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
