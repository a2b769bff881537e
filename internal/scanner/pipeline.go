package scanner

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/metrics"
	"github.com/tapescan/tapescan/internal/store"
)

// RuleEvaluator evaluates one cycle's enriched tickers against the active
// rule network and returns rule_id -> matched tickers.
type RuleEvaluator interface {
	EvaluateBatch(tickers []*domain.Ticker) map[string][]*domain.Ticker
}

// DeltaSink receives each cycle's match sets for fan-out to subscribers.
// changed holds the symbols whose enriched bytes differed this cycle.
type DeltaSink interface {
	PublishCycle(ctx context.Context, matches map[string][]*domain.Ticker, changed map[string]bool, timestamp int64)
}

// PipelineConfig holds the enrichment pipeline's collaborators.
type PipelineConfig struct {
	Store     *store.Store
	State     *StateManager
	Detector  *ChangeDetector
	Clock     *SessionClock
	Evaluator RuleEvaluator    // optional
	Sink      DeltaSink        // optional
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Interval  time.Duration
}

// Pipeline drives the enrichment loop: read the raw snapshot, update
// per-ticker session state, enrich, diff against the last written bytes,
// write the sparse delta, then hand the batch to the rule evaluator.
type Pipeline struct {
	store     *store.Store
	state     *StateManager
	detector  *ChangeDetector
	clock     *SessionClock
	evaluator RuleEvaluator
	sink      DeltaSink
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       zerolog.Logger
	interval  time.Duration

	// pendingReset is set by the day-changed handler and consumed at the
	// start of the next processed cycle.
	pendingReset atomic.Bool

	mu            sync.Mutex
	lastTimestamp int64
	currentDay    string
	currentSlot   int
}

// NewPipeline creates the pipeline and registers its bus handlers.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		store:       cfg.Store,
		state:       cfg.State,
		detector:    cfg.Detector,
		clock:       cfg.Clock,
		evaluator:   cfg.Evaluator,
		sink:        cfg.Sink,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		log:         cfg.Log.With().Str("component", "pipeline").Logger(),
		interval:    cfg.Interval,
		currentSlot: -1,
	}
	if p.interval <= 0 {
		p.interval = time.Second
	}

	p.bus.Subscribe(events.DayChanged, p.onDayChanged)
	p.bus.Subscribe(events.SessionChanged, p.onSessionChanged)

	return p
}

// Run loops RunCycle until the context is cancelled. Cycle errors are
// logged at their source and retried on the next tick.
func (p *Pipeline) Run(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("Enrichment loop started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Enrichment loop stopped")
			return
		case <-ticker.C:
			_ = p.RunCycle(ctx)
		}
	}
}

// RunCycle executes one enrichment cycle. The returned error means the
// cycle was aborted before completing; the snapshot stays unconsumed so the
// next cycle retries it.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	start := time.Now()

	snap, err := p.store.ReadSnapshot(ctx)
	if err != nil {
		p.metrics.StoreErrors.WithLabelValues("read_snapshot").Inc()
		p.log.Warn().Err(err).Msg("Snapshot read failed")
		return err
	}
	if snap == nil {
		p.metrics.CyclesSkipped.Inc()
		return nil
	}
	if snap.Timestamp == p.lastProcessedTimestamp() {
		p.metrics.CyclesSkipped.Inc()
		p.log.Debug().Int64("timestamp", snap.Timestamp).Msg("Snapshot unchanged, skipping cycle")
		return nil
	}

	now := p.clock.Now()
	day := p.clock.DayKey(now)

	if p.pendingReset.CompareAndSwap(true, false) {
		p.state.Clear()
		p.detector.Clear()
		p.log.Info().Str("day", day).Msg("Session state cleared for new trading day")
	}

	p.noteSlot(now, day)

	symbols := make([]string, 0, len(snap.Tickers))
	skipped := 0
	for i := range snap.Tickers {
		if snap.Tickers[i].Symbol == "" {
			skipped++
			continue
		}
		symbols = append(symbols, snap.Tickers[i].Symbol)
	}
	if skipped > 0 {
		p.metrics.MalformedEntries.Add(float64(skipped))
		p.log.Warn().Int("skipped", skipped).Msg("Snapshot entries without symbol skipped")
	}

	slot, inSession := p.clock.SlotIndex(now)
	refs := p.fetchReferences(ctx, symbols, slot, inSession)

	tickers := make([]*domain.Ticker, 0, len(symbols))
	rvolValues := make(map[string]string)
	for i := range snap.Tickers {
		raw := &snap.Tickers[i]
		if raw.Symbol == "" {
			continue
		}

		price := raw.LastTrade
		if price == nil {
			price = raw.Close
		}

		derived := p.state.Update(raw.Symbol, price, raw.DayVolume, raw.Trades, now)
		t := buildTicker(raw, derived, refs)
		tickers = append(tickers, t)

		if t.RVOL != nil {
			rvolValues[raw.Symbol] = strconv.FormatFloat(*t.RVOL, 'f', -1, 64)
		}
	}

	result := p.detector.Detect(tickers)

	meta := domain.SnapshotMeta{
		Timestamp: snap.Timestamp,
		Count:     result.Total,
		Changed:   result.ChangedCount,
		Version:   domain.EnrichedFormatVersion,
	}
	if err := p.store.WriteEnrichedDelta(ctx, result.Changed, result.Removed, meta); err != nil {
		p.metrics.StoreErrors.WithLabelValues("write_enriched").Inc()
		p.log.Warn().Err(err).Int("changed", result.ChangedCount).Msg("Enriched delta write failed")
		return err
	}
	p.detector.Commit(result)
	p.setProcessed(snap.Timestamp, day)

	if err := p.store.WriteSlotRVOL(ctx, rvolValues); err != nil {
		p.metrics.StoreErrors.WithLabelValues("write_rvol_slot").Inc()
		p.log.Warn().Err(err).Msg("Slot RVOL write failed")
	}

	var matches map[string][]*domain.Ticker
	if p.evaluator != nil {
		matches = p.evaluator.EvaluateBatch(tickers)
	}
	if p.sink != nil {
		changed := make(map[string]bool, len(result.Changed))
		for symbol := range result.Changed {
			changed[symbol] = true
		}
		p.sink.PublishCycle(ctx, matches, changed, snap.Timestamp)
	}

	elapsed := time.Since(start)
	p.metrics.CyclesTotal.Inc()
	p.metrics.CycleDuration.Observe(elapsed.Seconds())
	p.metrics.TickersScanned.Set(float64(result.Total))
	p.metrics.TickersChanged.Set(float64(result.ChangedCount))

	p.bus.Emit(events.CycleCompleted, "pipeline", &events.CycleCompletedData{
		SnapshotTimestamp: snap.Timestamp,
		Tickers:           result.Total,
		Changed:           result.ChangedCount,
		Removed:           len(result.Removed),
		Skipped:           skipped,
		DurationMs:        elapsed.Seconds() * 1000,
	})

	p.log.Debug().
		Int64("timestamp", snap.Timestamp).
		Int("tickers", result.Total).
		Int("changed", result.ChangedCount).
		Int("removed", len(result.Removed)).
		Dur("elapsed", elapsed).
		Msg("Cycle completed")

	return nil
}

// fetchReferences loads the per-cycle reference caches. A failed fetch is
// logged and leaves that cache empty, so the dependent fields come out
// unset this cycle and recover on the next.
func (p *Pipeline) fetchReferences(ctx context.Context, symbols []string, slot int, inSession bool) *referenceData {
	refs := emptyReferenceData()
	if len(symbols) == 0 {
		return refs
	}

	if atr, err := p.store.FetchATRBatch(ctx, symbols); err != nil {
		p.metrics.StoreErrors.WithLabelValues("fetch_atr").Inc()
		p.log.Warn().Err(err).Msg("ATR fetch failed")
	} else {
		refs.atr = atr
	}

	if inSession {
		if avg, err := p.store.FetchSlotAverages(ctx, slot, symbols); err != nil {
			p.metrics.StoreErrors.WithLabelValues("fetch_slot_avg").Inc()
			p.log.Warn().Err(err).Msg("Slot average fetch failed")
		} else {
			refs.slotAvg = avg
		}
	}

	if stats, err := p.store.FetchTradeStats(ctx, symbols); err != nil {
		p.metrics.StoreErrors.WithLabelValues("fetch_trade_stats").Inc()
		p.log.Warn().Err(err).Msg("Trade stats fetch failed")
	} else {
		refs.tradeStats = stats
	}

	if vwap, err := p.store.FetchVWAPBatch(ctx, symbols); err != nil {
		p.metrics.StoreErrors.WithLabelValues("fetch_vwap").Inc()
		p.log.Warn().Err(err).Msg("VWAP fetch failed")
	} else {
		refs.vwap = vwap
	}

	return refs
}

// noteSlot emits a SlotChanged event when the clock enters a new RVOL slot.
func (p *Pipeline) noteSlot(now time.Time, day string) {
	slot, ok := p.clock.SlotIndex(now)
	if !ok {
		return
	}

	p.mu.Lock()
	changed := slot != p.currentSlot
	p.currentSlot = slot
	p.mu.Unlock()

	if changed {
		p.log.Info().Int("slot", slot).Msg("Entered new RVOL slot")
		p.bus.Emit(events.SlotChanged, "pipeline", &events.SlotChangedData{Slot: slot, Day: day})
	}
}

func (p *Pipeline) onDayChanged(e *events.Event) {
	p.pendingReset.Store(true)
	if data, ok := e.Data.(*events.DayChangedData); ok {
		p.log.Info().
			Str("previous_day", data.PreviousDay).
			Str("current_day", data.CurrentDay).
			Msg("Day change received, state reset pending")
	}
}

// onSessionChanged freezes the enriched hash into the last-close hash when
// the regular session ends.
func (p *Pipeline) onSessionChanged(e *events.Event) {
	data, ok := e.Data.(*events.SessionChangedData)
	if !ok || data.Status != events.SessionClosed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.store.CopyEnrichedToLastClose(ctx); err != nil {
		p.metrics.StoreErrors.WithLabelValues("last_close_copy").Inc()
		p.log.Error().Err(err).Msg("Last-close snapshot failed")
		return
	}
	p.log.Info().Str("day", data.Day).Msg("Enriched hash copied to last close")
}

func (p *Pipeline) lastProcessedTimestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTimestamp
}

func (p *Pipeline) setProcessed(timestamp int64, day string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTimestamp = timestamp
	p.currentDay = day
}

// CycleStatus is a point-in-time view of the loop for the status surface.
type CycleStatus struct {
	LastTimestamp  int64  `json:"last_timestamp"`
	CurrentDay     string `json:"current_day"`
	CurrentSlot    int    `json:"current_slot"`
	TrackedTickers int    `json:"tracked_tickers"`
	CacheSize      int    `json:"cache_size"`
}

// Status reports the pipeline's current position.
func (p *Pipeline) Status() CycleStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return CycleStatus{
		LastTimestamp:  p.lastTimestamp,
		CurrentDay:     p.currentDay,
		CurrentSlot:    p.currentSlot,
		TrackedTickers: p.state.Count(),
		CacheSize:      p.detector.Size(),
	}
}
