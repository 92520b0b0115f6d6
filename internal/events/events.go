// Package events carries coordinator state changes and notifications to
// rendering surfaces without coupling them to the coordinator.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/models"
)

// EventType names a kind of event.
type EventType string

const (
	EventStateChange  EventType = "state_change"
	EventProgress     EventType = "progress"
	EventNotification EventType = "notification"
	EventConfirm      EventType = "confirm"
)

// Event is implemented by every published event.
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

func stamp(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// StateChangeEvent carries the coordinator state after a transition.
type StateChangeEvent struct {
	BaseEvent
	Reason   string // e.g. "parse_chunk", "upload_progress", "reset"
	Snapshot models.Snapshot
}

// ProgressEvent carries raw byte progress of the parse or the upload.
type ProgressEvent struct {
	BaseEvent
	Stage        string // "parse" or "upload"
	BytesCurrent int64
	BytesTotal   int64
	Percent      float64
}

// NotificationEvent mirrors a notification being shown or dismissed.
type NotificationEvent struct {
	BaseEvent
	ID        string
	Content   string
	Severity  string
	Dismissed bool
}

// ConfirmEvent records the outcome of an overwrite confirmation prompt.
type ConfirmEvent struct {
	BaseEvent
	FileName string
	Accepted bool
}

type subscription struct {
	ch    chan Event
	types []EventType // empty matches every type
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// EventBus fans events out to buffered subscriber channels. Publishing never
// blocks: an event that does not fit a subscriber's buffer is dropped for
// that subscriber and counted.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
	dropped    atomic.Int64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{bufferSize: min(bufferSize, constants.EventBusMaxBuffer)}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. After Close it returns a closed channel.
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &subscription{ch: make(chan Event, eb.bufferSize), types: types}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

// Unsubscribe stops delivery to ch and closes it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.subs = slices.DeleteFunc(eb.subs, func(s *subscription) bool {
		if (<-chan Event)(s.ch) != ch {
			return false
		}
		close(s.ch)
		return true
	})
}

// Publish delivers event to every matching subscriber.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, s := range eb.subs {
		if !s.wants(event.Type()) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, s := range eb.subs {
		close(s.ch)
	}
	eb.subs = nil
}

// Dropped returns how many deliveries were skipped on full buffers.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

func (eb *EventBus) PublishStateChange(reason string, snap models.Snapshot) {
	eb.Publish(&StateChangeEvent{BaseEvent: stamp(EventStateChange), Reason: reason, Snapshot: snap})
}

func (eb *EventBus) PublishProgress(stage string, current, total int64, percent float64) {
	eb.Publish(&ProgressEvent{
		BaseEvent:    stamp(EventProgress),
		Stage:        stage,
		BytesCurrent: current,
		BytesTotal:   total,
		Percent:      percent,
	})
}

func (eb *EventBus) PublishNotification(id, content, severity string, dismissed bool) {
	eb.Publish(&NotificationEvent{
		BaseEvent: stamp(EventNotification),
		ID:        id,
		Content:   content,
		Severity:  severity,
		Dismissed: dismissed,
	})
}

func (eb *EventBus) PublishConfirm(fileName string, accepted bool) {
	eb.Publish(&ConfirmEvent{BaseEvent: stamp(EventConfirm), FileName: fileName, Accepted: accepted})
}
