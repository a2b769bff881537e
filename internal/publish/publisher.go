package publish

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/metrics"
)

// DeltaMirror publishes each event to the shared store's delta channels so
// out-of-process consumers see the same stream. *store.Store satisfies it.
type DeltaMirror interface {
	PublishDelta(ctx context.Context, event *domain.DeltaEvent) error
}

// Publisher diffs each cycle's match sets against the previous cycle and
// emits per-channel added/removed/updated events. It keeps the authoritative
// current match set per channel, which also seeds the synthetic initial
// event new subscribers receive.
type Publisher struct {
	hub     *Hub
	mirror  DeltaMirror // optional
	metrics *metrics.Metrics
	log     zerolog.Logger

	// mu guards prev and orders subscriber attachment against cycles, so an
	// initial snapshot is never interleaved with the deltas that follow it.
	mu   sync.Mutex
	prev map[string][]string // channel -> sorted matched symbols
}

// NewPublisher creates a publisher fanning out through hub. mirror may be
// nil to disable the store echo.
func NewPublisher(hub *Hub, mirror DeltaMirror, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		hub:     hub,
		mirror:  mirror,
		metrics: m,
		log:     log.With().Str("component", "delta_publisher").Logger(),
		prev:    make(map[string][]string),
	}
}

// PublishCycle emits one delta event per channel whose membership moved:
// added holds symbols matching now but not last cycle, removed the reverse,
// and updated the still-matching symbols whose enriched bytes changed this
// cycle. Channels with nothing to say emit nothing. System channels are
// emitted first in lexical order, then user channels by user and scan id.
func (p *Publisher) PublishCycle(ctx context.Context, matches map[string][]*domain.Ticker, changed map[string]bool, timestamp int64) {
	current := make(map[string][]string, len(matches))
	for ruleID, tickers := range matches {
		if len(tickers) == 0 {
			continue
		}
		symbols := make([]string, 0, len(tickers))
		for _, t := range tickers {
			symbols = append(symbols, t.Symbol)
		}
		sort.Strings(symbols)
		current[channelFor(ruleID)] = symbols
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	events := 0
	for _, channel := range p.touchedChannels(current) {
		event := diffChannel(channel, p.prev[channel], current[channel], changed)
		if event == nil {
			continue
		}
		event.Timestamp = timestamp
		p.emit(ctx, event)
		events++
	}

	// The new match sets become the baseline for the next cycle; channels
	// that matched nothing are forgotten entirely.
	p.prev = current

	if events > 0 {
		p.log.Debug().
			Int("events", events).
			Int("channels", len(current)).
			Msg("Cycle deltas published")
	}
}

// Subscribe attaches a consumer. With no channels given it receives every
// channel. Each requested channel yields a synthetic initial event carrying
// the full current match set before any incremental deltas.
func (p *Publisher) Subscribe(channels []string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UnixMilli()
	wanted := channels
	if len(wanted) == 0 {
		wanted = p.activeChannelsLocked()
	}

	initial := make([]*domain.DeltaEvent, 0, len(wanted))
	for _, channel := range wanted {
		initial = append(initial, &domain.DeltaEvent{
			Channel:   channel,
			Type:      domain.DeltaTypeInitial,
			Added:     append([]string{}, p.prev[channel]...),
			Removed:   []string{},
			Updated:   []string{},
			Timestamp: now,
		})
	}

	return p.hub.attach(channels, initial)
}

// CurrentMatches returns the symbols currently matching a channel.
func (p *Publisher) CurrentMatches(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.prev[channel]...)
}

// ActiveChannels returns every channel with at least one current match, in
// emission order.
func (p *Publisher) ActiveChannels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeChannelsLocked()
}

// SubscriberCount returns the number of attached subscribers.
func (p *Publisher) SubscriberCount() int {
	return p.hub.SubscriberCount()
}

// Close detaches every subscriber. Used at shutdown.
func (p *Publisher) Close() {
	p.hub.CloseAll()
}

func (p *Publisher) activeChannelsLocked() []string {
	channels := make([]string, 0, len(p.prev))
	for channel := range p.prev {
		channels = append(channels, channel)
	}
	return orderChannels(channels)
}

// touchedChannels returns the union of previous and current channel names
// in emission order.
func (p *Publisher) touchedChannels(current map[string][]string) []string {
	channels := make([]string, 0, len(current)+len(p.prev))
	seen := make(map[string]bool, len(current)+len(p.prev))
	for channel := range current {
		channels = append(channels, channel)
		seen[channel] = true
	}
	for channel := range p.prev {
		if !seen[channel] {
			channels = append(channels, channel)
		}
	}
	return orderChannels(channels)
}

func (p *Publisher) emit(ctx context.Context, event *domain.DeltaEvent) {
	p.hub.broadcast(event)
	p.metrics.DeltaEventsTotal.WithLabelValues(channelOwner(event.Channel)).Inc()

	if p.mirror == nil {
		return
	}
	if err := p.mirror.PublishDelta(ctx, event); err != nil {
		p.log.Warn().
			Err(err).
			Str("channel", event.Channel).
			Msg("Delta mirror publish failed")
	}
}

// diffChannel computes one channel's delta event, or nil when membership
// and bytes are unchanged.
func diffChannel(channel string, prev, current []string, changed map[string]bool) *domain.DeltaEvent {
	prevSet := make(map[string]bool, len(prev))
	for _, s := range prev {
		prevSet[s] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, s := range current {
		currentSet[s] = true
	}

	added := []string{}
	updated := []string{}
	for _, s := range current {
		switch {
		case !prevSet[s]:
			added = append(added, s)
		case changed[s]:
			updated = append(updated, s)
		}
	}
	removed := []string{}
	for _, s := range prev {
		if !currentSet[s] {
			removed = append(removed, s)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(updated) == 0 {
		return nil
	}
	return &domain.DeltaEvent{
		Channel: channel,
		Type:    domain.DeltaTypeDelta,
		Added:   added,
		Removed: removed,
		Updated: updated,
	}
}

// channelFor maps a rule id onto its delta channel: bare category name for
// system rules, the full id for user rules.
func channelFor(ruleID string) string {
	return strings.TrimPrefix(ruleID, "category:")
}

func channelOwner(channel string) string {
	if strings.HasPrefix(channel, "user:") {
		return "user"
	}
	return "system"
}

// orderChannels sorts in place: system channels lexically first, then user
// channels by user id and numeric scan id.
func orderChannels(channels []string) []string {
	sort.Slice(channels, func(i, j int) bool {
		ui, iUser := parseUserChannel(channels[i])
		uj, jUser := parseUserChannel(channels[j])
		if iUser != jUser {
			return jUser
		}
		if !iUser {
			return channels[i] < channels[j]
		}
		if ui.user != uj.user {
			return ui.user < uj.user
		}
		if ui.scan != uj.scan {
			return ui.scan < uj.scan
		}
		return channels[i] < channels[j]
	})
	return channels
}

type userChannel struct {
	user string
	scan int64
}

func parseUserChannel(channel string) (userChannel, bool) {
	if !strings.HasPrefix(channel, "user:") {
		return userChannel{}, false
	}
	parts := strings.Split(channel, ":")
	if len(parts) == 4 && parts[2] == "scan" {
		if n, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			return userChannel{user: parts[1], scan: n}, true
		}
	}
	return userChannel{user: channel, scan: math.MaxInt64}, true
}
