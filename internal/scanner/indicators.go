package scanner

import (
	"math"

	"github.com/tapescan/tapescan/internal/domain"
)

// tradeAnomalyThreshold is the Z-score at which a trade count is flagged.
const tradeAnomalyThreshold = 3.0

// Indicator calculators are stateless functions over the raw snapshot, the
// per-symbol state, and external reference caches. Any divide-by-zero,
// missing reference datum, or non-finite intermediate yields nil for the
// affected field and never fails the cycle.

// ComputeRVOL relates the current cumulative volume to the historical
// average cumulative volume at the same intraday slot. Either term missing
// or zero yields nil.
func ComputeRVOL(cumVolume, slotAverage *float64) *float64 {
	if cumVolume == nil || slotAverage == nil {
		return nil
	}
	if *cumVolume <= 0 || *slotAverage <= 0 {
		return nil
	}
	return finite(*cumVolume / *slotAverage)
}

// ComputeATRPercent re-evaluates ATR as a percentage of the live price.
func ComputeATRPercent(atr, price *float64) *float64 {
	if atr == nil || price == nil || *price == 0 {
		return nil
	}
	return finite(*atr / *price * 100)
}

// ComputeTradesZScore measures how unusual today's trade count is against
// the cached 5-day baseline. The anomaly flag is set at z >= 3.
func ComputeTradesZScore(trades *int64, stats *domain.TradeStats) (*float64, *bool) {
	if trades == nil || stats == nil || stats.Stddev5D <= 0 {
		return nil, nil
	}
	z := finite((float64(*trades) - stats.Mean5D) / stats.Stddev5D)
	if z == nil {
		return nil, nil
	}
	anomaly := *z >= tradeAnomalyThreshold
	return z, &anomaly
}

// SelectVWAP prefers the snapshot-provided VWAP, falling back to the
// externally maintained value.
func SelectVWAP(fromSnapshot, external *float64) *float64 {
	if fromSnapshot != nil {
		return fromSnapshot
	}
	return external
}

// PercentChange returns (current - base) / base * 100, nil-safe.
func PercentChange(current, base *float64) *float64 {
	if current == nil || base == nil || *base == 0 {
		return nil
	}
	return finite((*current - *base) / *base * 100)
}

// PercentOf returns value / base * 100, nil-safe.
func PercentOf(value, base *float64) *float64 {
	if value == nil || base == nil || *base == 0 {
		return nil
	}
	return finite(*value / *base * 100)
}

// Sub returns a - b, nil-safe.
func Sub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	return finite(*a - *b)
}

// SpreadPercent relates the bid/ask spread to the midpoint.
func SpreadPercent(bid, ask *float64) *float64 {
	if bid == nil || ask == nil {
		return nil
	}
	mid := (*bid + *ask) / 2
	if mid == 0 {
		return nil
	}
	return finite((*ask - *bid) / mid * 100)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
