package scanner

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ringMinutes sizes the per-minute observation ring. The widest rolling
// window is 60 minutes, so one extra slot keeps the current minute and the
// minute exactly one hour back alive at the same time.
const ringMinutes = 61

// minuteSample holds the last observation coalesced into one minute bucket.
type minuteSample struct {
	minute   int64 // absolute minute index; 0 means empty
	price    float64
	hasPrice bool
	cumVol   float64
	hasVol   bool
}

// WindowValues are the rolling windows computed on read. A nil entry means
// the earlier sample is missing, never zero.
type WindowValues struct {
	Vol1, Vol5, Vol10, Vol15, Vol30        *float64
	Chg1, Chg5, Chg10, Chg15, Chg30, Chg60 *float64
}

// TickerState is the per-symbol session state backing indicator
// calculations. All access is serialized by the StateManager.
type TickerState struct {
	symbol string
	ring   [ringMinutes]minuteSample

	intradayHigh float64
	hasHigh      bool
	intradayLow  float64
	hasLow       bool

	trades    int64
	hasTrades bool
}

func newTickerState(symbol string) *TickerState {
	return &TickerState{symbol: symbol}
}

func (s *TickerState) slotFor(minute int64) *minuteSample {
	slot := &s.ring[minute%ringMinutes]
	if slot.minute != minute {
		*slot = minuteSample{minute: minute}
	}
	return slot
}

func (s *TickerState) sample(minute int64) *minuteSample {
	slot := &s.ring[minute%ringMinutes]
	if slot.minute != minute {
		return nil
	}
	return slot
}

// observePrice updates intraday extremes and coalesces the price into the
// current minute bucket (latest observation wins).
func (s *TickerState) observePrice(price float64, t time.Time) {
	slot := s.slotFor(MinuteBucket(t))
	slot.price = price
	slot.hasPrice = true

	if !s.hasHigh || price > s.intradayHigh {
		s.intradayHigh = price
		s.hasHigh = true
	}
	if !s.hasLow || price < s.intradayLow {
		s.intradayLow = price
		s.hasLow = true
	}
}

// observeVolume stores the latest cumulative session volume for the current
// minute bucket.
func (s *TickerState) observeVolume(cumVolume float64, t time.Time) {
	slot := s.slotFor(MinuteBucket(t))
	slot.cumVol = cumVolume
	slot.hasVol = true
}

// observeTradeCount sets the cumulative session trade count.
func (s *TickerState) observeTradeCount(count int64) {
	s.trades = count
	s.hasTrades = true
}

// windows computes the rolling volume and change windows at now. Values are
// cum(t) - cum(t-W) and percent change against the price W minutes back.
func (s *TickerState) windows(now time.Time) WindowValues {
	m := MinuteBucket(now)
	var w WindowValues

	if cur := s.sample(m); cur != nil && cur.hasVol {
		w.Vol1 = s.volumeWindow(m, 1, cur.cumVol)
		w.Vol5 = s.volumeWindow(m, 5, cur.cumVol)
		w.Vol10 = s.volumeWindow(m, 10, cur.cumVol)
		w.Vol15 = s.volumeWindow(m, 15, cur.cumVol)
		w.Vol30 = s.volumeWindow(m, 30, cur.cumVol)
	}
	if cur := s.sample(m); cur != nil && cur.hasPrice {
		w.Chg1 = s.changeWindow(m, 1, cur.price)
		w.Chg5 = s.changeWindow(m, 5, cur.price)
		w.Chg10 = s.changeWindow(m, 10, cur.price)
		w.Chg15 = s.changeWindow(m, 15, cur.price)
		w.Chg30 = s.changeWindow(m, 30, cur.price)
		w.Chg60 = s.changeWindow(m, 60, cur.price)
	}
	return w
}

func (s *TickerState) volumeWindow(minute int64, width int, current float64) *float64 {
	prev := s.sample(minute - int64(width))
	if prev == nil || !prev.hasVol {
		return nil
	}
	diff := current - prev.cumVol
	return &diff
}

func (s *TickerState) changeWindow(minute int64, width int, current float64) *float64 {
	prev := s.sample(minute - int64(width))
	if prev == nil || !prev.hasPrice || prev.price == 0 {
		return nil
	}
	pct := (current - prev.price) / prev.price * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return nil
	}
	return &pct
}

// Derived is the state-backed slice of an enriched ticker: extremes, the
// cumulative trade count, and the rolling windows.
type Derived struct {
	IntradayHigh *float64
	IntradayLow  *float64
	TradesToday  *int64
	Windows      WindowValues
}

// StateManager owns every TickerState. The enrichment pipeline is the sole
// writer; the snapshot job reads concurrently through Export.
type StateManager struct {
	mu     sync.RWMutex
	states map[string]*TickerState
}

// NewStateManager creates an empty state manager.
func NewStateManager() *StateManager {
	return &StateManager{states: make(map[string]*TickerState)}
}

// Update feeds one cycle's observations for a symbol and returns the derived
// values computed from the updated state. Nil observations leave the
// corresponding state untouched.
func (m *StateManager) Update(symbol string, price, cumVolume *float64, trades *int64, now time.Time) Derived {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[symbol]
	if !ok {
		state = newTickerState(symbol)
		m.states[symbol] = state
	}

	if price != nil {
		state.observePrice(*price, now)
	}
	if cumVolume != nil {
		state.observeVolume(*cumVolume, now)
	}
	if trades != nil {
		state.observeTradeCount(*trades)
	}

	d := Derived{Windows: state.windows(now)}
	if state.hasHigh {
		high := state.intradayHigh
		d.IntradayHigh = &high
	}
	if state.hasLow {
		low := state.intradayLow
		d.IntradayLow = &low
	}
	if state.hasTrades {
		t := state.trades
		d.TradesToday = &t
	}
	return d
}

// Count returns the number of tracked symbols.
func (m *StateManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Clear drops all per-symbol state. Called on trading-day rollover.
func (m *StateManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*TickerState)
}

// sampleExport is one ring entry in the persisted form.
type sampleExport struct {
	Minute int64    `msgpack:"m"`
	Price  *float64 `msgpack:"p,omitempty"`
	CumVol *float64 `msgpack:"v,omitempty"`
}

type stateExport struct {
	Symbol       string         `msgpack:"symbol"`
	IntradayHigh *float64       `msgpack:"high,omitempty"`
	IntradayLow  *float64       `msgpack:"low,omitempty"`
	Trades       *int64         `msgpack:"trades,omitempty"`
	Samples      []sampleExport `msgpack:"samples"`
}

type managerExport struct {
	DayKey  string        `msgpack:"day_key"`
	SavedAt int64         `msgpack:"saved_at"`
	States  []stateExport `msgpack:"states"`
}

// Export serializes all ticker state for crash recovery. The day key travels
// with the blob so a restore never resurrects a previous session.
func (m *StateManager) Export(dayKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := managerExport{
		DayKey:  dayKey,
		SavedAt: time.Now().UnixMilli(),
		States:  make([]stateExport, 0, len(m.states)),
	}

	symbols := make([]string, 0, len(m.states))
	for symbol := range m.states {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		state := m.states[symbol]
		exp := stateExport{Symbol: symbol}
		if state.hasHigh {
			high := state.intradayHigh
			exp.IntradayHigh = &high
		}
		if state.hasLow {
			low := state.intradayLow
			exp.IntradayLow = &low
		}
		if state.hasTrades {
			t := state.trades
			exp.Trades = &t
		}

		for i := range state.ring {
			slot := &state.ring[i]
			if slot.minute == 0 {
				continue
			}
			se := sampleExport{Minute: slot.minute}
			if slot.hasPrice {
				p := slot.price
				se.Price = &p
			}
			if slot.hasVol {
				v := slot.cumVol
				se.CumVol = &v
			}
			exp.Samples = append(exp.Samples, se)
		}
		sort.Slice(exp.Samples, func(a, b int) bool { return exp.Samples[a].Minute < exp.Samples[b].Minute })

		out.States = append(out.States, exp)
	}

	blob, err := msgpack.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state export: %w", err)
	}
	return blob, nil
}

// Restore replaces all state from a previous Export. Returns the blob's day
// key; the caller decides whether it is still current.
func (m *StateManager) Restore(blob []byte) (string, error) {
	var in managerExport
	if err := msgpack.Unmarshal(blob, &in); err != nil {
		return "", fmt.Errorf("failed to decode state export: %w", err)
	}

	states := make(map[string]*TickerState, len(in.States))
	for _, exp := range in.States {
		state := newTickerState(exp.Symbol)
		if exp.IntradayHigh != nil {
			state.intradayHigh = *exp.IntradayHigh
			state.hasHigh = true
		}
		if exp.IntradayLow != nil {
			state.intradayLow = *exp.IntradayLow
			state.hasLow = true
		}
		if exp.Trades != nil {
			state.trades = *exp.Trades
			state.hasTrades = true
		}
		// Samples arrive oldest first, so ring collisions resolve to the
		// newest minute.
		for _, se := range exp.Samples {
			slot := state.slotFor(se.Minute)
			if se.Price != nil {
				slot.price = *se.Price
				slot.hasPrice = true
			}
			if se.CumVol != nil {
				slot.cumVol = *se.CumVol
				slot.hasVol = true
			}
		}
		states[exp.Symbol] = state
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = states
	return in.DayKey, nil
}
