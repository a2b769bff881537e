package domain

// RawTicker is one entry of the upstream snapshot: a standard quote/trade
// record plus session bar aggregates. All values are optional; the enricher
// tolerates any subset.
type RawTicker struct {
	Symbol            string   `json:"symbol"`
	LastTrade         *float64 `json:"last_trade,omitempty"`
	Bid               *float64 `json:"bid,omitempty"`
	Ask               *float64 `json:"ask,omitempty"`
	Open              *float64 `json:"open,omitempty"`
	High              *float64 `json:"high,omitempty"`
	Low               *float64 `json:"low,omitempty"`
	Close             *float64 `json:"close,omitempty"` // latest day close
	PrevClose         *float64 `json:"prev_close,omitempty"`
	DayVolume         *float64 `json:"day_volume,omitempty"` // cumulative session volume
	Trades            *int64   `json:"trades,omitempty"`     // cumulative session trade count
	VWAP              *float64 `json:"vwap,omitempty"`
	High52W           *float64 `json:"high_52w,omitempty"`
	Low52W            *float64 `json:"low_52w,omitempty"`
	Sector            *string  `json:"sector,omitempty"`
	Industry          *string  `json:"industry,omitempty"`
	Exchange          *string  `json:"exchange,omitempty"`
	MarketCap         *float64 `json:"market_cap,omitempty"`
	FreeFloat         *float64 `json:"free_float,omitempty"`
	SharesOutstanding *float64 `json:"shares_outstanding,omitempty"`
	IsETF             *bool    `json:"is_etf,omitempty"`
}

// RawSnapshot is the upstream ingester's output read from the shared store.
type RawSnapshot struct {
	Timestamp int64       `json:"timestamp"` // epoch milliseconds
	Tickers   []RawTicker `json:"tickers"`
}

// SnapshotMeta is the __meta__ field written alongside every enriched-hash
// update.
type SnapshotMeta struct {
	Timestamp int64 `json:"timestamp"` // epoch milliseconds of the source snapshot
	Count     int   `json:"count"`     // tickers in the snapshot
	Changed   int   `json:"changed"`   // tickers whose bytes changed this cycle
	Version   int   `json:"version"`   // canonical serialization version
}

// DeltaEvent is one per-channel update pushed to subscribers. Type is
// "initial" for the synthetic full-state event a new subscriber receives,
// "delta" for incremental updates.
type DeltaEvent struct {
	Channel   string   `json:"channel"`
	Type      string   `json:"type"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Updated   []string `json:"updated"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// Delta event types.
const (
	DeltaTypeInitial = "initial"
	DeltaTypeDelta   = "delta"
)

// TradeStats is the cached 5-day trade-count baseline for one symbol.
type TradeStats struct {
	Mean5D   float64 `json:"mean_5d"`
	Stddev5D float64 `json:"stddev_5d"`
}
