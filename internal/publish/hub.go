// Package publish turns each cycle's match sets into per-channel delta
// events and fans them out to in-process subscribers and the shared store's
// delta channels.
package publish

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/metrics"
)

// subscriberBuffer is each subscriber's event queue. A consumer that falls
// this far behind starts losing events rather than stalling the publisher.
const subscriberBuffer = 100

// Subscription is one attached delta consumer. Events arrive on Events()
// until Close is called; slow consumers have events dropped, never block
// the publisher.
type Subscription struct {
	ID       uuid.UUID
	channels map[string]bool // empty means all channels

	ch  chan *domain.DeltaEvent
	hub *Hub

	closeOnce sync.Once
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan *domain.DeltaEvent {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.detach(s.ID)
	})
}

// wants reports whether the subscription listens on the given channel.
func (s *Subscription) wants(channel string) bool {
	return len(s.channels) == 0 || s.channels[channel]
}

// Hub tracks subscriptions and fans events out with non-blocking sends.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		subs:    make(map[uuid.UUID]*Subscription),
		metrics: m,
		log:     log.With().Str("component", "delta_hub").Logger(),
	}
}

// attach registers a subscription and queues its initial events. Called by
// the publisher under its own state lock so initial snapshots and the
// following deltas stay ordered.
func (h *Hub) attach(channels []string, initial []*domain.DeltaEvent) *Subscription {
	sub := &Subscription{
		ID: uuid.New(),
		// Initial snapshots must all fit ahead of the live buffer.
		ch:  make(chan *domain.DeltaEvent, subscriberBuffer+len(initial)),
		hub: h,
	}
	if len(channels) > 0 {
		sub.channels = make(map[string]bool, len(channels))
		for _, c := range channels {
			sub.channels[c] = true
		}
	}
	for _, event := range initial {
		sub.ch <- event
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.Subscribers.Set(float64(count))
	h.log.Debug().
		Str("subscriber_id", sub.ID.String()).
		Int("channels", len(channels)).
		Int("total", count).
		Msg("Subscriber attached")
	return sub
}

func (h *Hub) detach(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.Subscribers.Set(float64(count))
	h.log.Debug().
		Str("subscriber_id", id.String()).
		Int("total", count).
		Msg("Subscriber detached")
}

// broadcast delivers one event to every interested subscriber. Sends are
// non-blocking: a full buffer drops the event and counts it.
func (h *Hub) broadcast(event *domain.DeltaEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(event.Channel) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.metrics.DroppedEvents.Inc()
			h.log.Warn().
				Str("subscriber_id", sub.ID.String()).
				Str("channel", event.Channel).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of attached subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll detaches every subscription, closing their channels. Used at
// shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
	h.metrics.Subscribers.Set(0)
}
