package rete

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/metrics"
	"github.com/tapescan/tapescan/internal/rules"
	"github.com/tapescan/tapescan/internal/store"
)

// UserRuleSource supplies enabled user-rule rows for network builds.
// *rules.Repository satisfies it.
type UserRuleSource interface {
	ListEnabled() ([]rules.UserRuleRow, error)
	CountEnabled() (int, error)
}

// ManagerConfig holds the manager's collaborators. Store is optional; when
// nil the rules-changed listener is disabled (tests drive Reload directly).
type ManagerConfig struct {
	Source  UserRuleSource
	Store   *store.Store
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Manager owns the live network. Reloads compile a detached network from
// the built-in categories plus the enabled user rules and swap it in
// atomically; evaluation always sees either the old network or the new one,
// never a half-built graph. A failed reload keeps the previous network.
type Manager struct {
	source  UserRuleSource
	store   *store.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger

	// reloadMu serializes builds, mu guards the swap.
	reloadMu sync.Mutex
	mu       sync.RWMutex
	network  *Network

	statusMu    sync.Mutex
	loadedRows  int
	reloads     int64
	lastReload  time.Time
	lastError   string
	lastErrorAt time.Time
	lastSource  string
}

// ManagerStatus is the reload state surfaced by the status endpoint.
type ManagerStatus struct {
	Network     Stats     `json:"network"`
	Reloads     int64     `json:"reloads"`
	LastReload  time.Time `json:"last_reload"`
	LastSource  string    `json:"last_source,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// NewManager creates a manager with an empty network. Call Load before
// serving evaluations.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		source:  cfg.Source,
		store:   cfg.Store,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		log:     cfg.Log.With().Str("component", "rule_manager").Logger(),
		network: NewNetwork(),
	}
}

// Load performs the initial build. Unlike later reloads there is no previous
// network worth keeping, so the caller should treat an error as fatal.
func (m *Manager) Load() error {
	return m.Reload("startup")
}

// Reload compiles a fresh network and swaps it in. On build failure the
// previous network stays live and the error is recorded for the status
// surface.
func (m *Manager) Reload(source string) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	network, rows, err := m.build()
	if err != nil {
		m.metrics.ReloadErrors.Inc()
		m.recordFailure(source, err)
		m.log.Error().Err(err).Str("source", source).Msg("Rule reload failed, keeping previous network")
		return err
	}

	m.mu.Lock()
	m.network = network
	m.mu.Unlock()

	m.recordSuccess(source, rows)

	stats := network.Stats()
	m.metrics.ReloadsTotal.WithLabelValues(source).Inc()
	m.metrics.RuleCount.WithLabelValues("system").Set(float64(stats.SystemRules))
	m.metrics.RuleCount.WithLabelValues("user").Set(float64(stats.UserRules))

	if m.bus != nil {
		m.bus.Emit(events.RulesChanged, "rule_manager", &events.RulesChangedData{Source: source})
	}

	m.log.Info().
		Str("source", source).
		Int("system_rules", stats.SystemRules).
		Int("user_rules", stats.UserRules).
		Int("alpha_nodes", stats.AlphaNodes).
		Dur("duration_ms", time.Since(start)).
		Msg("Rule network reloaded")
	return nil
}

// build compiles the detached network: all built-in categories, then every
// enabled user rule that compiles to at least one condition. Returns the
// number of user rows read, which the safety check later compares against
// the database count.
func (m *Manager) build() (*Network, int, error) {
	network := NewNetwork()

	for _, rule := range rules.SystemRules() {
		if err := network.AddRule(rule); err != nil {
			return nil, 0, fmt.Errorf("failed to load system rule %s: %w", rule.ID, err)
		}
	}

	userRows, err := m.source.ListEnabled()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load user rules: %w", err)
	}

	for _, rule := range rules.CompileUserRules(userRows, m.log) {
		if err := network.AddRule(rule); err != nil {
			// Duplicate ids cannot come from the table's primary key, so
			// this only guards against a miscompiled batch.
			m.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("Skipping rule")
		}
	}

	return network, len(userRows), nil
}

// Network returns the live network. Callers must treat it as read-only.
func (m *Manager) Network() *Network {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.network
}

// EvaluateBatch evaluates one cycle's tickers against the live network.
// Satisfies the pipeline's evaluator contract.
func (m *Manager) EvaluateBatch(tickers []*domain.Ticker) map[string][]*domain.Ticker {
	start := time.Now()
	matches := m.Network().EvaluateBatch(tickers)
	m.metrics.EvalDuration.Observe(time.Since(start).Seconds())

	total := 0
	for _, list := range matches {
		total += len(list)
	}
	m.metrics.MatchedTotal.Set(float64(total))
	return matches
}

// RunListener consumes rules-changed notifications until the context is
// cancelled, triggering a full reload per message. Reload failures are
// already logged and recorded; the listener keeps running.
func (m *Manager) RunListener(ctx context.Context) {
	if m.store == nil {
		m.log.Debug().Msg("No store configured, rule change listener disabled")
		return
	}

	pubsub := m.store.SubscribeRulesChanged(ctx)
	defer pubsub.Close()

	m.log.Info().Msg("Rule change listener started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Rule change listener stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				m.log.Warn().Msg("Rule change subscription closed")
				return
			}
			m.log.Debug().Str("payload", msg.Payload).Msg("Rules changed notification")
			_ = m.Reload("pubsub")
		}
	}
}

// SafetyCheck reloads when the enabled-rule count in storage has drifted
// from the count loaded at the last successful build. This catches missed
// pub/sub notifications.
func (m *Manager) SafetyCheck() error {
	stored, err := m.source.CountEnabled()
	if err != nil {
		return fmt.Errorf("failed to count enabled rules: %w", err)
	}

	m.statusMu.Lock()
	loaded := m.loadedRows
	m.statusMu.Unlock()

	if stored == loaded {
		return nil
	}

	m.log.Warn().
		Int("stored", stored).
		Int("loaded", loaded).
		Msg("Rule count drift detected, reloading")
	return m.Reload("safety")
}

// Status reports network stats and reload history.
func (m *Manager) Status() ManagerStatus {
	stats := m.Network().Stats()

	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return ManagerStatus{
		Network:     stats,
		Reloads:     m.reloads,
		LastReload:  m.lastReload,
		LastSource:  m.lastSource,
		LastError:   m.lastError,
		LastErrorAt: m.lastErrorAt,
	}
}

func (m *Manager) recordSuccess(source string, rows int) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.loadedRows = rows
	m.reloads++
	m.lastReload = time.Now()
	m.lastSource = source
	m.lastError = ""
}

func (m *Manager) recordFailure(source string, err error) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.lastSource = source
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
}
