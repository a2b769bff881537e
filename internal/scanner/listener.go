package scanner

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/store"
)

// SessionListener translates the upstream ingester's day-changed and
// session-changed pub/sub messages into bus events. It is the single
// authority for session transitions; the pipeline never infers them from
// snapshot timestamps.
type SessionListener struct {
	store *store.Store
	bus   *events.Bus
	log   zerolog.Logger
}

// NewSessionListener creates a listener bound to the shared store's
// session channels.
func NewSessionListener(st *store.Store, bus *events.Bus, log zerolog.Logger) *SessionListener {
	return &SessionListener{
		store: st,
		bus:   bus,
		log:   log.With().Str("component", "session_listener").Logger(),
	}
}

// Run consumes session messages until the context is cancelled.
func (l *SessionListener) Run(ctx context.Context) {
	pubsub := l.store.SubscribeSessionEvents(ctx)
	defer pubsub.Close()

	l.log.Info().
		Str("day_channel", l.store.DayChannel()).
		Str("session_channel", l.store.SessionChannel()).
		Msg("Session listener started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Session listener stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				l.log.Warn().Msg("Session subscription closed")
				return
			}
			l.handle(msg)
		}
	}
}

func (l *SessionListener) handle(msg *redis.Message) {
	switch msg.Channel {
	case l.store.DayChannel():
		l.handleDayChanged(msg.Payload)
	case l.store.SessionChannel():
		l.handleSessionChanged(msg.Payload)
	default:
		l.log.Debug().Str("channel", msg.Channel).Msg("Ignoring message on unknown channel")
	}
}

// handleDayChanged accepts either a JSON body with previous/current day
// keys or a bare day string.
func (l *SessionListener) handleDayChanged(payload string) {
	data := events.DayChangedData{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		data.CurrentDay = strings.TrimSpace(payload)
	}

	l.log.Info().
		Str("previous_day", data.PreviousDay).
		Str("current_day", data.CurrentDay).
		Msg("Day changed")
	l.bus.Emit(events.DayChanged, "session_listener", &data)
}

// handleSessionChanged accepts either a JSON body with status/day keys or
// a bare status string ("open" / "closed").
func (l *SessionListener) handleSessionChanged(payload string) {
	data := events.SessionChangedData{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		data.Status = strings.TrimSpace(payload)
	}
	data.Status = strings.ToLower(data.Status)

	switch data.Status {
	case events.SessionOpen, events.SessionClosed:
	default:
		l.log.Warn().Str("payload", payload).Msg("Unrecognized session status, ignoring")
		return
	}

	l.log.Info().
		Str("status", data.Status).
		Str("day", data.Day).
		Msg("Session changed")
	l.bus.Emit(events.SessionChanged, "session_listener", &data)
}
