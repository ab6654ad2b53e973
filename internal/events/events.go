// Package events provides the one-way event stream connecting automation
// chains to their consumers. Chains publish; the presentation layer only
// listens and never drives chain logic from what it sees.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridlink-labs/gridlink/internal/constants"
)

// EventType defines the types of events that can be emitted.
type EventType string

const (
	EventProgress    EventType = "progress"
	EventLog         EventType = "log"
	EventStateChange EventType = "state_change"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent reports progress of one chain step. Percent is -1 when
// the step has no meaningful percentage (command execution, metadata
// writes); 0-100 during file transfers.
type ProgressEvent struct {
	BaseEvent
	JobID    string
	Chain    string // "create", "submit", "sync", "complete", "delete"
	Step     string
	Message  string
	Percent  float64
	Terminal bool // last event of this chain invocation
}

// LogEvent carries a log line attributed to a chain.
type LogEvent struct {
	BaseEvent
	JobID   string
	Chain   string
	Message string
	Err     error
}

// StateChangeEvent reports a job status transition.
type StateChangeEvent struct {
	BaseEvent
	JobID     string
	JobName   string
	OldStatus string
	NewStatus string
	Chain     string
}

// ErrorEvent reports a chain-step failure.
type ErrorEvent struct {
	BaseEvent
	JobID string
	Chain string
	Step  string
	Err   error
}

// CompleteEvent marks the end of a chain invocation.
type CompleteEvent struct {
	BaseEvent
	JobID    string
	Chain    string
	Err      error // nil on success
	Duration time.Duration
}

// EventBus manages event subscriptions and publishing. Publishing never
// blocks; events to a full subscriber buffer are dropped and counted.
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with the given buffer size per
// subscriber channel.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// DroppedEventCount returns the number of events dropped because a
// subscriber buffer was full.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishProgress is a convenience method for publishing progress events.
func (eb *EventBus) PublishProgress(jobID, chain, step, message string, percent float64) {
	eb.Publish(&ProgressEvent{
		BaseEvent: BaseEvent{EventType: EventProgress, Time: time.Now()},
		JobID:     jobID,
		Chain:     chain,
		Step:      step,
		Message:   message,
		Percent:   percent,
	})
}

// PublishStateChange is a convenience method for publishing job status
// transitions.
func (eb *EventBus) PublishStateChange(jobID, jobName, oldStatus, newStatus, chain string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent: BaseEvent{EventType: EventStateChange, Time: time.Now()},
		JobID:     jobID,
		JobName:   jobName,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Chain:     chain,
	})
}

// PublishError is a convenience method for publishing chain-step failures.
func (eb *EventBus) PublishError(jobID, chain, step string, err error) {
	eb.Publish(&ErrorEvent{
		BaseEvent: BaseEvent{EventType: EventError, Time: time.Now()},
		JobID:     jobID,
		Chain:     chain,
		Step:      step,
		Err:       err,
	})
}

// PublishComplete is a convenience method for marking the end of a chain
// invocation.
func (eb *EventBus) PublishComplete(jobID, chain string, err error, d time.Duration) {
	eb.Publish(&CompleteEvent{
		BaseEvent: BaseEvent{EventType: EventComplete, Time: time.Now()},
		JobID:     jobID,
		Chain:     chain,
		Err:       err,
		Duration:  d,
	})
}
