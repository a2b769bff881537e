// Package domain holds the core scanner types: the enriched ticker record,
// the rule model, and the wire contracts shared with external subscribers.
package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// EnrichedFormatVersion is carried in the __meta__ field of the enriched
// hash. Bump it whenever the canonical ticker serialization changes shape.
const EnrichedFormatVersion = 1

// Ticker is one enriched market record. Every field except Symbol is
// optional-by-presence: nil means the value is unknown this cycle, and rules
// treat it as non-matching unless the condition is an explicit null-test.
type Ticker struct {
	Symbol string

	// Quote
	Price         *float64
	Bid           *float64
	Ask           *float64
	Spread        *float64
	SpreadPercent *float64

	// Session bars
	Open      *float64
	High      *float64
	Low       *float64
	PrevClose *float64
	DayVolume *float64

	// Derived change
	ChangePercent  *float64
	ChangeFromOpen *float64
	GapPercent     *float64

	// Volume windows
	VolumeToday *float64
	Vol1Min     *float64
	Vol5Min     *float64
	Vol10Min    *float64
	Vol15Min    *float64
	Vol30Min    *float64

	// Price change windows
	Chg1Min  *float64
	Chg5Min  *float64
	Chg10Min *float64
	Chg15Min *float64
	Chg30Min *float64
	Chg60Min *float64

	// Extremes
	IntradayHigh          *float64
	IntradayLow           *float64
	PriceFromIntradayHigh *float64
	PriceFromIntradayLow  *float64
	High52W               *float64
	Low52W                *float64

	// Volatility / flow
	RVOL        *float64
	ATR         *float64
	ATRPercent  *float64
	VWAP        *float64
	PriceVsVWAP *float64

	// Activity
	TradesToday    *int64
	AvgTrades5D    *float64
	TradesZScore   *float64
	IsTradeAnomaly *bool

	// Reference
	Sector            *string
	Industry          *string
	Exchange          *string
	MarketCap         *float64
	FreeFloat         *float64
	SharesOutstanding *float64
	IsETF             *bool
}

// fieldSpec binds a canonical field name to a typed accessor. The accessor
// returns the dereferenced value and whether it is present. Accessors keep
// the evaluator off reflection.
type fieldSpec struct {
	name string
	get  func(*Ticker) (any, bool)
}

func f64Field(name string, get func(*Ticker) *float64) fieldSpec {
	return fieldSpec{name: name, get: func(t *Ticker) (any, bool) {
		if v := get(t); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func i64Field(name string, get func(*Ticker) *int64) fieldSpec {
	return fieldSpec{name: name, get: func(t *Ticker) (any, bool) {
		if v := get(t); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func strField(name string, get func(*Ticker) *string) fieldSpec {
	return fieldSpec{name: name, get: func(t *Ticker) (any, bool) {
		if v := get(t); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

func boolField(name string, get func(*Ticker) *bool) fieldSpec {
	return fieldSpec{name: name, get: func(t *Ticker) (any, bool) {
		if v := get(t); v != nil {
			return *v, true
		}
		return nil, false
	}}
}

// tickerFields is the canonical field order. It is the serialization
// contract with external subscribers: never reorder, only append.
var tickerFields = []fieldSpec{
	{name: "symbol", get: func(t *Ticker) (any, bool) { return t.Symbol, t.Symbol != "" }},

	f64Field("price", func(t *Ticker) *float64 { return t.Price }),
	f64Field("bid", func(t *Ticker) *float64 { return t.Bid }),
	f64Field("ask", func(t *Ticker) *float64 { return t.Ask }),
	f64Field("spread", func(t *Ticker) *float64 { return t.Spread }),
	f64Field("spread_percent", func(t *Ticker) *float64 { return t.SpreadPercent }),

	f64Field("open", func(t *Ticker) *float64 { return t.Open }),
	f64Field("high", func(t *Ticker) *float64 { return t.High }),
	f64Field("low", func(t *Ticker) *float64 { return t.Low }),
	f64Field("prev_close", func(t *Ticker) *float64 { return t.PrevClose }),
	f64Field("day_volume", func(t *Ticker) *float64 { return t.DayVolume }),

	f64Field("change_percent", func(t *Ticker) *float64 { return t.ChangePercent }),
	f64Field("change_from_open", func(t *Ticker) *float64 { return t.ChangeFromOpen }),
	f64Field("gap_percent", func(t *Ticker) *float64 { return t.GapPercent }),

	f64Field("volume_today", func(t *Ticker) *float64 { return t.VolumeToday }),
	f64Field("vol_1min", func(t *Ticker) *float64 { return t.Vol1Min }),
	f64Field("vol_5min", func(t *Ticker) *float64 { return t.Vol5Min }),
	f64Field("vol_10min", func(t *Ticker) *float64 { return t.Vol10Min }),
	f64Field("vol_15min", func(t *Ticker) *float64 { return t.Vol15Min }),
	f64Field("vol_30min", func(t *Ticker) *float64 { return t.Vol30Min }),

	f64Field("chg_1min", func(t *Ticker) *float64 { return t.Chg1Min }),
	f64Field("chg_5min", func(t *Ticker) *float64 { return t.Chg5Min }),
	f64Field("chg_10min", func(t *Ticker) *float64 { return t.Chg10Min }),
	f64Field("chg_15min", func(t *Ticker) *float64 { return t.Chg15Min }),
	f64Field("chg_30min", func(t *Ticker) *float64 { return t.Chg30Min }),
	f64Field("chg_60min", func(t *Ticker) *float64 { return t.Chg60Min }),

	f64Field("intraday_high", func(t *Ticker) *float64 { return t.IntradayHigh }),
	f64Field("intraday_low", func(t *Ticker) *float64 { return t.IntradayLow }),
	f64Field("price_from_intraday_high", func(t *Ticker) *float64 { return t.PriceFromIntradayHigh }),
	f64Field("price_from_intraday_low", func(t *Ticker) *float64 { return t.PriceFromIntradayLow }),
	f64Field("high_52w", func(t *Ticker) *float64 { return t.High52W }),
	f64Field("low_52w", func(t *Ticker) *float64 { return t.Low52W }),

	f64Field("rvol", func(t *Ticker) *float64 { return t.RVOL }),
	f64Field("atr", func(t *Ticker) *float64 { return t.ATR }),
	f64Field("atr_percent", func(t *Ticker) *float64 { return t.ATRPercent }),
	f64Field("vwap", func(t *Ticker) *float64 { return t.VWAP }),
	f64Field("price_vs_vwap", func(t *Ticker) *float64 { return t.PriceVsVWAP }),

	i64Field("trades_today", func(t *Ticker) *int64 { return t.TradesToday }),
	f64Field("avg_trades_5d", func(t *Ticker) *float64 { return t.AvgTrades5D }),
	f64Field("trades_z_score", func(t *Ticker) *float64 { return t.TradesZScore }),
	boolField("is_trade_anomaly", func(t *Ticker) *bool { return t.IsTradeAnomaly }),

	strField("sector", func(t *Ticker) *string { return t.Sector }),
	strField("industry", func(t *Ticker) *string { return t.Industry }),
	strField("exchange", func(t *Ticker) *string { return t.Exchange }),
	f64Field("market_cap", func(t *Ticker) *float64 { return t.MarketCap }),
	f64Field("free_float", func(t *Ticker) *float64 { return t.FreeFloat }),
	f64Field("shares_outstanding", func(t *Ticker) *float64 { return t.SharesOutstanding }),
	boolField("is_etf", func(t *Ticker) *bool { return t.IsETF }),
}

// fieldIndex maps field name to accessor for evaluator lookups.
var fieldIndex = buildFieldIndex()

func buildFieldIndex() map[string]func(*Ticker) (any, bool) {
	idx := make(map[string]func(*Ticker) (any, bool), len(tickerFields))
	for _, f := range tickerFields {
		idx[f.name] = f.get
	}
	return idx
}

// FieldNames returns the canonical field order.
func FieldNames() []string {
	names := make([]string, len(tickerFields))
	for i, f := range tickerFields {
		names[i] = f.name
	}
	return names
}

// NumericFieldNames returns the names of all float- and int-valued fields,
// in canonical order. This is the whitelist user-scan parameters are checked
// against.
func NumericFieldNames() []string {
	probe := fullyPopulatedProbe()
	var names []string
	for _, f := range tickerFields {
		v, ok := f.get(probe)
		if !ok {
			continue
		}
		switch v.(type) {
		case float64, int64:
			names = append(names, f.name)
		}
	}
	return names
}

func fullyPopulatedProbe() *Ticker {
	f := 1.0
	i := int64(1)
	s := "x"
	b := true
	return &Ticker{
		Symbol: "PROBE",
		Price:  &f, Bid: &f, Ask: &f, Spread: &f, SpreadPercent: &f,
		Open: &f, High: &f, Low: &f, PrevClose: &f, DayVolume: &f,
		ChangePercent: &f, ChangeFromOpen: &f, GapPercent: &f,
		VolumeToday: &f, Vol1Min: &f, Vol5Min: &f, Vol10Min: &f, Vol15Min: &f, Vol30Min: &f,
		Chg1Min: &f, Chg5Min: &f, Chg10Min: &f, Chg15Min: &f, Chg30Min: &f, Chg60Min: &f,
		IntradayHigh: &f, IntradayLow: &f, PriceFromIntradayHigh: &f, PriceFromIntradayLow: &f,
		High52W: &f, Low52W: &f,
		RVOL: &f, ATR: &f, ATRPercent: &f, VWAP: &f, PriceVsVWAP: &f,
		TradesToday: &i, AvgTrades5D: &f, TradesZScore: &f, IsTradeAnomaly: &b,
		Sector: &s, Industry: &s, Exchange: &s,
		MarketCap: &f, FreeFloat: &f, SharesOutstanding: &f, IsETF: &b,
	}
}

// Field returns the value of a ticker attribute by its canonical name.
// ok is false when the name is unknown or the value is absent.
func (t *Ticker) Field(name string) (any, bool) {
	get, known := fieldIndex[name]
	if !known {
		return nil, false
	}
	return get(t)
}

// KnownField reports whether name is a canonical ticker field.
func KnownField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// CanonicalJSON serializes the ticker into its stable byte form: fields in
// canonical order, absent fields omitted, floats in shortest round-trip
// decimal notation. The change detector compares these bytes across cycles,
// so the encoding must be deterministic for identical values.
func (t *Ticker) CanonicalJSON() []byte {
	var b bytes.Buffer
	b.Grow(512)
	b.WriteByte('{')
	first := true
	for _, f := range tickerFields {
		v, ok := f.get(t)
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('"')
		b.WriteString(f.name)
		b.WriteString(`":`)
		writeCanonicalValue(&b, v)
	}
	b.WriteByte('}')
	return b.Bytes()
}

func writeCanonicalValue(b *bytes.Buffer, v any) {
	switch x := v.(type) {
	case float64:
		b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		// encoding/json handles escaping; strings here are symbols and
		// reference labels, never floats.
		enc, _ := json.Marshal(x)
		b.Write(enc)
	default:
		enc, _ := json.Marshal(x)
		b.Write(enc)
	}
}

// Pointer helpers for building tickers.

func Float64(v float64) *float64 { return &v }
func Int64(v int64) *int64       { return &v }
func String(v string) *string    { return &v }
func Bool(v bool) *bool          { return &v }
