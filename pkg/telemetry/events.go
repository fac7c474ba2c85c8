package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a history change notification.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// ItemIDs are the affected history items, if any.
	ItemIDs []string `json:"item_ids,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for history events.
const (
	EventTypeItemSaved        = "history.item_saved"
	EventTypeItemDeleted      = "history.item_deleted"
	EventTypeCleared          = "history.cleared"
	EventTypeTrimmed          = "history.trimmed"
	EventTypeConnectionFailed = "history.connection_failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans history events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closeOnce   sync.Once
	closed      bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// SubscribeType registers a subscriber for a single event type.
func (ep *EventPublisher) SubscribeType(eventType string, subscriber EventSubscriber) {
	ep.Subscribe(subscriber, func(e Event) bool {
		return e.Type == eventType
	})
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverLocked(event)
	return nil
}

// PublishItemSaved publishes an item saved event.
func (ep *EventPublisher) PublishItemSaved(id string) error {
	return ep.Publish(Event{
		Type:    EventTypeItemSaved,
		ItemIDs: []string{id},
		Message: fmt.Sprintf("History item %s saved", id),
		Level:   EventLevelInfo,
	})
}

// PublishItemDeleted publishes an item deleted event.
func (ep *EventPublisher) PublishItemDeleted(id string) error {
	return ep.Publish(Event{
		Type:    EventTypeItemDeleted,
		ItemIDs: []string{id},
		Message: fmt.Sprintf("History item %s deleted", id),
		Level:   EventLevelInfo,
	})
}

// PublishCleared publishes a history cleared event.
func (ep *EventPublisher) PublishCleared() error {
	return ep.Publish(Event{
		Type:    EventTypeCleared,
		Message: "History cleared",
		Level:   EventLevelWarning,
	})
}

// PublishTrimmed publishes a trim event listing the removed items.
func (ep *EventPublisher) PublishTrimmed(maxCount int, removed []string) error {
	return ep.Publish(Event{
		Type:    EventTypeTrimmed,
		ItemIDs: removed,
		Message: fmt.Sprintf("History trimmed to %d items (%d removed)", maxCount, len(removed)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"max_count": maxCount,
			"removed":   len(removed),
		},
	})
}

// PublishConnectionFailed publishes a database open failure.
func (ep *EventPublisher) PublishConnectionFailed(reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeConnectionFailed,
		Message: fmt.Sprintf("History database unavailable: %s", reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// processEvents delivers buffered events until the buffer is closed.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for event := range ep.buffer {
		ep.mu.RLock()
		ep.deliverLocked(event)
		ep.mu.RUnlock()
	}
}

// deliverLocked calls matching subscribers. Callers hold ep.mu for reading.
func (ep *EventPublisher) deliverLocked(event Event) {
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Close stops accepting events and waits for buffered events to be delivered.
func (ep *EventPublisher) Close() error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	ep.closeOnce.Do(func() {
		ep.mu.Lock()
		ep.closed = true
		close(ep.buffer)
		ep.mu.Unlock()
		ep.wg.Wait()
	})
	return nil
}
