// Package events provides the in-memory event bus connecting the task
// engine to its consumers: the external controller boundary, the event
// log, and the heartbeat/status surfaces.
package events

import (
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("event bus is closed")

// Subscriber is a function that receives events.
type Subscriber func(Event)

type subscription struct {
	id         int
	eventTypes []EventType
	handler    Subscriber
}

// Bus is an in-memory event bus. Events are dispatched from a single
// goroutine; handlers run on their own goroutines and must synchronize
// their own state.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	eventChan   chan Event
	ringBuffer  *RingBuffer
	closed      bool
	done        chan struct{}
}

// NewBus creates a new event bus with the given channel buffer size.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		subscribers: make(map[int]*subscription),
		eventChan:   make(chan Event, bufferSize),
		ringBuffer:  NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.eventChan:
			b.ringBuffer.Add(event)
			b.notifySubscribers(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) notifySubscribers(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if b.matches(sub, event) {
			go sub.handler(event)
		}
	}
}

func (b *Bus) matches(sub *subscription, event Event) bool {
	if len(sub.eventTypes) == 0 {
		return true
	}
	for _, t := range sub.eventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Publish sends an event to the bus. Publishing never blocks: if the
// buffer is full the event is dropped rather than stalling the engine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	select {
	case b.eventChan <- event:
	default:
	}
}

// Subscribe registers a handler for specific event types (none = all).
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	b.subscribers[id] = &subscription{
		id:         id,
		eventTypes: eventTypes,
		handler:    handler,
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// History returns recent events from the ring buffer.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// HistoryForTask returns recent events tagged with the given task id.
func (b *Bus) HistoryForTask(taskID string, limit int) []Event {
	all := b.ringBuffer.Get(b.ringBuffer.size)
	var out []Event
	for _, e := range all {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Close shuts down the event bus.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	close(b.done)
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}
