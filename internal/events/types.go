package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// World boundary
	EventWorldUpdated EventType = "world.updated"

	// Task lifecycle
	EventTaskCreated    EventType = "task.created"
	EventTaskStarted    EventType = "task.started"
	EventTaskProgress   EventType = "task.progress"
	EventTaskLog        EventType = "task.log"
	EventTaskCheckpoint EventType = "task.checkpoint"
	EventTaskResumed    EventType = "task.resumed"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"
	EventTaskAborted    EventType = "task.aborted"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceWorld     EventSource = "world"
	SourceTask      EventSource = "task"
	SourceRegistry  EventSource = "registry"
	SourceScheduler EventSource = "scheduler"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// eventIDCounter is used to generate sequential event IDs.
var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}
