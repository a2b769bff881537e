package scanner

import (
	"bytes"
	"sort"

	"github.com/tapescan/tapescan/internal/domain"
)

// ChangeDetector dedups enriched tickers at the byte level. It keeps the
// canonical serialization of every symbol from the last committed cycle and
// reports only symbols whose bytes differ.
type ChangeDetector struct {
	prev map[string][]byte
}

// NewChangeDetector creates an empty detector.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{prev: make(map[string][]byte)}
}

// DetectResult is one cycle's sparse delta.
type DetectResult struct {
	Changed      map[string][]byte // symbol -> new canonical bytes
	Removed      []string          // symbols that vanished from the snapshot
	Total        int               // tickers examined
	ChangedCount int
}

// Detect serializes every ticker and diffs it against the committed cache.
// It never mutates the cache; call Commit once the delta has been written to
// the shared store, so a failed write is re-detected and retried next cycle.
func (d *ChangeDetector) Detect(tickers []*domain.Ticker) DetectResult {
	result := DetectResult{
		Changed: make(map[string][]byte),
		Total:   len(tickers),
	}

	current := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		current[t.Symbol] = true
		body := t.CanonicalJSON()
		if prev, ok := d.prev[t.Symbol]; ok && bytes.Equal(prev, body) {
			continue
		}
		result.Changed[t.Symbol] = body
	}
	result.ChangedCount = len(result.Changed)

	for symbol := range d.prev {
		if !current[symbol] {
			result.Removed = append(result.Removed, symbol)
		}
	}
	sort.Strings(result.Removed)

	return result
}

// Commit applies a detect result to the cache: changed bytes replace the
// previous entries and vanished symbols are pruned.
func (d *ChangeDetector) Commit(result DetectResult) {
	for symbol, body := range result.Changed {
		d.prev[symbol] = body
	}
	for _, symbol := range result.Removed {
		delete(d.prev, symbol)
	}
}

// Size returns the number of cached symbols.
func (d *ChangeDetector) Size() int {
	return len(d.prev)
}

// Clear wipes the cache. The next cycle re-writes every ticker.
func (d *ChangeDetector) Clear() {
	d.prev = make(map[string][]byte)
}
