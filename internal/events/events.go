// Package events provides the in-process pub/sub bus connecting the
// enrichment pipeline, the rule manager, and the status surface.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of event on the bus.
type EventType string

// Event types emitted by scanner components.
const (
	// DayChanged fires on trading-day rollover; per-ticker session state and
	// the change-detector cache must be cleared before the next cycle.
	DayChanged EventType = "DAY_CHANGED"

	// SessionChanged fires on regular-session transitions. A "closed"
	// transition triggers the last-close snapshot.
	SessionChanged EventType = "SESSION_CHANGED"

	// RulesChanged fires when the user-rule table was edited; the rule
	// network fully reloads.
	RulesChanged EventType = "RULES_CHANGED"

	// SlotChanged fires when the wall clock enters a new RVOL slot.
	SlotChanged EventType = "SLOT_CHANGED"

	// CycleCompleted fires after every enrichment cycle with its stats.
	CycleCompleted EventType = "CYCLE_COMPLETED"

	// SystemStatusChanged fires from the status monitor on health samples.
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
)

// Event is one bus message.
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Handler consumes one event. Handlers run on the emitter's goroutine and
// must not block; hand off to a buffered channel for slow work.
type Handler func(*Event)

// Bus is a process-local publish/subscribe dispatcher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit dispatches an event to every subscriber of its type. A panicking
// handler is logged and does not take down the emitter or other handlers.
func (b *Bus) Emit(eventType EventType, module string, data any) {
	event := &Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// SubscriberCount returns how many handlers are registered for a type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
