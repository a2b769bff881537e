package server

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/scanner"
)

// durationWindow caps how many recent cycle durations feed the quantiles.
const durationWindow = 256

// CyclePercentiles summarizes recent cycle durations in milliseconds.
type CyclePercentiles struct {
	Samples int     `json:"samples"`
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

// StatusMonitor samples the pipeline on an interval and emits system-status
// events. It also accumulates cycle durations for the status endpoint.
type StatusMonitor struct {
	bus      *events.Bus
	pipeline *scanner.Pipeline
	log      zerolog.Logger

	mu        sync.Mutex
	durations []float64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStatusMonitor creates a status monitor and hooks it to cycle events.
func NewStatusMonitor(bus *events.Bus, pipeline *scanner.Pipeline, log zerolog.Logger) *StatusMonitor {
	m := &StatusMonitor{
		bus:      bus,
		pipeline: pipeline,
		log:      log.With().Str("component", "status_monitor").Logger(),
		stop:     make(chan struct{}),
	}
	if bus != nil {
		bus.Subscribe(events.CycleCompleted, m.onCycleCompleted)
	}
	return m
}

func (m *StatusMonitor) onCycleCompleted(e *events.Event) {
	data, ok := e.Data.(*events.CycleCompletedData)
	if !ok {
		return
	}

	m.mu.Lock()
	m.durations = append(m.durations, data.DurationMs)
	if len(m.durations) > durationWindow {
		m.durations = m.durations[len(m.durations)-durationWindow:]
	}
	m.mu.Unlock()
}

// Percentiles computes cycle-duration quantiles over the recent window.
func (m *StatusMonitor) Percentiles() CyclePercentiles {
	m.mu.Lock()
	samples := make([]float64, len(m.durations))
	copy(samples, m.durations)
	m.mu.Unlock()

	if len(samples) == 0 {
		return CyclePercentiles{}
	}

	sort.Float64s(samples)
	return CyclePercentiles{
		Samples: len(samples),
		P50:     stat.Quantile(0.50, stat.Empirical, samples, nil),
		P95:     stat.Quantile(0.95, stat.Empirical, samples, nil),
		P99:     stat.Quantile(0.99, stat.Empirical, samples, nil),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go m.monitor(interval)
}

// Stop ends the monitoring loop.
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// monitor runs the periodic monitoring loop
func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do initial check
	m.checkStatus()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatus()
		}
	}
}

// checkStatus emits one system-status sample.
func (m *StatusMonitor) checkStatus() {
	if m.bus == nil {
		return
	}

	status := "idle"
	if m.pipeline != nil {
		cycle := m.pipeline.Status()
		if cycle.LastTimestamp > 0 {
			status = "scanning"
		}

		percentiles := m.Percentiles()
		m.log.Debug().
			Str("status", status).
			Int("tracked_tickers", cycle.TrackedTickers).
			Float64("p95_ms", percentiles.P95).
			Msg("Status sample")
	}

	m.bus.Emit(events.SystemStatusChanged, "status_monitor", &events.SystemStatusChangedData{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
