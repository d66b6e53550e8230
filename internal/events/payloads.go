package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

type WorldUpdatedPayload struct {
	Tick int64 `json:"tick"`
}

func (WorldUpdatedPayload) EventType() EventType { return EventWorldUpdated }

type TaskCreatedPayload struct {
	TaskID      string `json:"task_id"`
	Owner       string `json:"owner,omitempty"`
	Description string `json:"description"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStartedPayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskProgressPayload struct {
	TaskID  string   `json:"task_id"`
	Action  string   `json:"action,omitempty"`
	Status  string   `json:"status"`
	Detail  string   `json:"detail,omitempty"`
	Summary []string `json:"summary,omitempty"`
}

func (TaskProgressPayload) EventType() EventType { return EventTaskProgress }

type TaskLogPayload struct {
	TaskID string `json:"task_id"`
	Level  string `json:"level"`
	Line   string `json:"line"`
}

func (TaskLogPayload) EventType() EventType { return EventTaskLog }

type TaskCheckpointPayload struct {
	TaskID          string `json:"task_id"`
	Reason          string `json:"reason"`
	CheckpointCount int    `json:"checkpoint_count"`
}

func (TaskCheckpointPayload) EventType() EventType { return EventTaskCheckpoint }

type TaskResumedPayload struct {
	TaskID       string `json:"task_id"`
	Instructions string `json:"instructions,omitempty"`
}

func (TaskResumedPayload) EventType() EventType { return EventTaskResumed }

type TaskCompletedPayload struct {
	TaskID  string        `json:"task_id"`
	Result  string        `json:"result,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskAbortedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (TaskAbortedPayload) EventType() EventType { return EventTaskAborted }

// NewTypedEvent creates an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTypedEventForTask creates an event from a typed payload, tagged with
// the owning task's id so per-task consumers can filter on it.
func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload map back into a typed payload.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
