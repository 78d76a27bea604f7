package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one observable occurrence in the engine's lifecycle.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// RunID is the associated deployment run, if any.
	RunID string `json:"run_id,omitempty"`

	// StepID is the associated step, if any.
	StepID string `json:"step_id,omitempty"`

	// ResourceID is the associated remote resource, if any.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Level is the severity (info, warning, error).
	Level string `json:"level"`
}

// Event type constants.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunSucceeded    = "run.succeeded"
	EventTypeRunRolledBack   = "run.rolled_back"
	EventTypeStepStarted     = "step.started"
	EventTypeStepSucceeded   = "step.succeeded"
	EventTypeStepFailed      = "step.failed"
	EventTypeStepRetrying    = "step.retrying"
	EventTypeRollbackStarted = "rollback.started"
	EventTypeRollbackPartial = "rollback.partial"
	EventTypeBreakerChanged  = "breaker.state_changed"
	EventTypeSecretFallback  = "secret.fallback"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles published events. Subscribers run on the
// publisher's dispatch goroutine and must not block.
type EventSubscriber func(event Event)

// EventPublisher fans events out to subscribers through a bounded buffer.
// Publishing never blocks the engine: when the buffer is full the event is
// dropped, since losing an observability event is cheaper than stalling a
// deployment.
type EventPublisher struct {
	cfg    EventsConfig
	buffer chan Event
	done   chan struct{}

	mu          sync.RWMutex
	subscribers []EventSubscriber
	closeOnce   sync.Once
}

// NewEventPublisher creates an event publisher; a disabled config yields a
// no-op instance.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled {
		return ep
	}

	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.dispatch()
	return ep
}

// Subscribe registers a subscriber for all subsequent events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish emits an event, assigning its ID and timestamp.
func (ep *EventPublisher) Publish(event Event) {
	if ep.buffer == nil {
		return
	}

	event.ID = uuid.New().String()
	event.Timestamp = time.Now()

	select {
	case ep.buffer <- event:
	default:
		// Buffer full; drop rather than block the engine.
	}
}

// dispatch delivers buffered events to subscribers until Close.
func (ep *EventPublisher) dispatch() {
	for {
		select {
		case event := <-ep.buffer:
			ep.mu.RLock()
			subs := ep.subscribers
			ep.mu.RUnlock()
			for _, sub := range subs {
				sub(event)
			}
		case <-ep.done:
			return
		}
	}
}

// Close stops event delivery. Events published after Close are dropped.
func (ep *EventPublisher) Close() {
	if ep.done == nil {
		return
	}
	ep.closeOnce.Do(func() { close(ep.done) })
}
