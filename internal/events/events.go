// Package events defines the upload engine's event vocabulary and the bus
// that carries it. The engine pushes events at arbitrary rates with no
// backpressure; the bus buffers per subscriber and drops on overflow.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferryhq/ferry/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventItemStatus   EventType = "item_status"   // Item lifecycle transition
	EventItemProgress EventType = "progress"      // Aggregate byte counters for an item
	EventFileProgress EventType = "file_progress" // Byte counters for one file inside a folder item
	EventFileList     EventType = "file_list"     // Enumerated files of a folder item
	EventCompleted    EventType = "completed"     // Whole upload run finished
	EventErrorBanner  EventType = "error_banner"  // User-facing error outside any one item
	EventNotice       EventType = "notice"        // Informational message
	EventQueueChanged EventType = "queue_changed" // Queue store mutated (add/remove/clear)
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ItemStatusEvent reports a lifecycle transition for a queued item.
// Message and WorkerLabel are pointers: a set pointer carries a new value,
// nil clears the stored one. The engine always states both fields in full,
// so a transition to "uploading" wipes any stale failure message.
type ItemStatusEvent struct {
	BaseEvent
	ItemID      string
	Path        string
	Kind        string
	Status      string
	Message     *string
	WorkerLabel *string
}

// ItemProgressEvent carries aggregate byte counters for an item.
// For folder items the counters cover every file in the folder.
type ItemProgressEvent struct {
	BaseEvent
	ItemID     string
	Path       string
	BytesSent  int64
	TotalBytes int64
}

// FileProgressEvent carries byte counters for a single file inside a
// folder item.
type FileProgressEvent struct {
	BaseEvent
	ItemID      string
	FilePath    string
	BytesSent   int64
	TotalBytes  int64
	WorkerLabel string
}

// FileEntry describes one file of a folder item at enumeration time.
type FileEntry struct {
	FilePath   string
	TotalBytes int64
}

// FileListEvent announces the enumerated files of a folder item before
// its upload begins.
type FileListEvent struct {
	BaseEvent
	ItemID string
	Files  []FileEntry
}

// Summary totals an upload run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// CompletedEvent signals that the engine finished processing the whole run.
type CompletedEvent struct {
	BaseEvent
	Summary Summary
}

// ErrorBannerEvent reports a failure not attributable to a single item
// (credential pool exhausted, destination unreachable, ...).
type ErrorBannerEvent struct {
	BaseEvent
	Message     string
	Stage       string
	WorkerLabel string
}

// NoticeEvent carries an informational message for display.
type NoticeEvent struct {
	BaseEvent
	Message string
}

// QueueChangedEvent signals that the queue store mutated and any derived
// per-item state should be garbage collected against the remaining ids.
type QueueChangedEvent struct {
	BaseEvent
	RemainingIDs []string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
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

// SubscribeAll creates a subscription to all events
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

// Publish sends an event to all subscribers. Never blocks: a subscriber
// whose buffer is full loses the event and the drop counter advances.
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

// Unsubscribe removes a subscription channel from a specific event type.
// This prevents memory leaks from abandoned subscriptions.
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

// UnsubscribeAll removes a subscription channel from all event types.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// Close shuts down the event bus and closes all channels
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

// DroppedEventCount returns the total number of events dropped due to
// full subscriber buffers.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishItemStatus is a convenience method for publishing item status events.
func (eb *EventBus) PublishItemStatus(itemID, path, kind, status string, message, workerLabel *string) {
	eb.Publish(&ItemStatusEvent{
		BaseEvent:   BaseEvent{EventType: EventItemStatus, Time: time.Now()},
		ItemID:      itemID,
		Path:        path,
		Kind:        kind,
		Status:      status,
		Message:     message,
		WorkerLabel: workerLabel,
	})
}

// PublishItemProgress is a convenience method for publishing aggregate
// progress events.
func (eb *EventBus) PublishItemProgress(itemID, path string, bytesSent, totalBytes int64) {
	eb.Publish(&ItemProgressEvent{
		BaseEvent:  BaseEvent{EventType: EventItemProgress, Time: time.Now()},
		ItemID:     itemID,
		Path:       path,
		BytesSent:  bytesSent,
		TotalBytes: totalBytes,
	})
}

// PublishFileProgress is a convenience method for publishing per-file
// progress events.
func (eb *EventBus) PublishFileProgress(itemID, filePath string, bytesSent, totalBytes int64, workerLabel string) {
	eb.Publish(&FileProgressEvent{
		BaseEvent:   BaseEvent{EventType: EventFileProgress, Time: time.Now()},
		ItemID:      itemID,
		FilePath:    filePath,
		BytesSent:   bytesSent,
		TotalBytes:  totalBytes,
		WorkerLabel: workerLabel,
	})
}

// PublishNotice is a convenience method for publishing notices.
func (eb *EventBus) PublishNotice(message string) {
	eb.Publish(&NoticeEvent{
		BaseEvent: BaseEvent{EventType: EventNotice, Time: time.Now()},
		Message:   message,
	})
}
