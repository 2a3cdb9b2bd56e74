// Package events provides the event bus connecting the upload engine and the
// transport pipeline to whatever surface displays them.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the types of events that can be emitted.
type EventType string

const (
	EventUploadStateChange EventType = "upload_state_change"
	EventUploadProgress    EventType = "upload_progress"
	EventUploadCompleted   EventType = "upload_completed"
	EventUploadFailed      EventType = "upload_failed"
	EventUploadAborted     EventType = "upload_aborted"
	EventNotification      EventType = "notification"
)

const (
	defaultBuffer = 256
	maxBuffer     = 4096
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

// UploadEvent describes one upload's lifecycle and progress.
type UploadEvent struct {
	BaseEvent
	UploadID string // Unique upload ID
	Name     string // Display name (filename)
	Size     int64  // Plaintext size in bytes
	State    string // Orchestrator state
	Progress int    // 0 to 100
	Err      error  // Set for failed uploads
}

// NotificationEvent is a user-facing notification ("toast"). Title and
// Message are translation keys; rendering them is the subscriber's concern.
type NotificationEvent struct {
	BaseEvent
	Severity string // "error", "warn", "info", "success"
	Title    string
	Message  string
	Lifetime time.Duration
}

// Bus manages event subscriptions and publishing. Publishing never blocks:
// events to full subscriber buffers are dropped and counted.
type Bus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if bufferSize > maxBuffer {
		bufferSize = maxBuffer
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.droppedEvents.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.droppedEvents.Add(1)
		}
	}
}

// PublishUpload is a convenience method for publishing upload events.
func (b *Bus) PublishUpload(eventType EventType, uploadID, name string, size int64, state string, progress int, err error) {
	b.Publish(&UploadEvent{
		BaseEvent: BaseEvent{EventType: eventType, Time: time.Now()},
		UploadID:  uploadID,
		Name:      name,
		Size:      size,
		State:     state,
		Progress:  progress,
		Err:       err,
	})
}

// Close shuts down the event bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// DroppedEventCount returns the number of events dropped to full buffers.
func (b *Bus) DroppedEventCount() int64 {
	return b.droppedEvents.Load()
}
