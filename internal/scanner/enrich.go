package scanner

import "github.com/tapescan/tapescan/internal/domain"

// referenceData carries one cycle's batch-fetched reference caches. A
// missing entry leaves the dependent indicator fields unset.
type referenceData struct {
	atr        map[string]float64
	slotAvg    map[string]float64
	tradeStats map[string]domain.TradeStats
	vwap       map[string]float64
}

func emptyReferenceData() *referenceData {
	return &referenceData{
		atr:        map[string]float64{},
		slotAvg:    map[string]float64{},
		tradeStats: map[string]domain.TradeStats{},
		vwap:       map[string]float64{},
	}
}

// buildTicker merges the raw snapshot entry, the state-derived values, and
// the reference caches into one enriched ticker.
func buildTicker(raw *domain.RawTicker, derived Derived, refs *referenceData) *domain.Ticker {
	price := raw.LastTrade
	if price == nil {
		price = raw.Close
	}

	t := &domain.Ticker{
		Symbol: raw.Symbol,

		Price:         price,
		Bid:           raw.Bid,
		Ask:           raw.Ask,
		Spread:        Sub(raw.Ask, raw.Bid),
		SpreadPercent: SpreadPercent(raw.Bid, raw.Ask),

		Open:      raw.Open,
		High:      raw.High,
		Low:       raw.Low,
		PrevClose: raw.PrevClose,
		DayVolume: raw.DayVolume,

		ChangePercent:  PercentChange(price, raw.PrevClose),
		ChangeFromOpen: PercentChange(price, raw.Open),
		GapPercent:     PercentChange(raw.Open, raw.PrevClose),

		VolumeToday: raw.DayVolume,
		Vol1Min:     derived.Windows.Vol1,
		Vol5Min:     derived.Windows.Vol5,
		Vol10Min:    derived.Windows.Vol10,
		Vol15Min:    derived.Windows.Vol15,
		Vol30Min:    derived.Windows.Vol30,

		Chg1Min:  derived.Windows.Chg1,
		Chg5Min:  derived.Windows.Chg5,
		Chg10Min: derived.Windows.Chg10,
		Chg15Min: derived.Windows.Chg15,
		Chg30Min: derived.Windows.Chg30,
		Chg60Min: derived.Windows.Chg60,

		IntradayHigh:          derived.IntradayHigh,
		IntradayLow:           derived.IntradayLow,
		PriceFromIntradayHigh: PercentChange(price, derived.IntradayHigh),
		PriceFromIntradayLow:  PercentChange(price, derived.IntradayLow),
		High52W:               raw.High52W,
		Low52W:                raw.Low52W,

		TradesToday: derived.TradesToday,

		Sector:            raw.Sector,
		Industry:          raw.Industry,
		Exchange:          raw.Exchange,
		MarketCap:         raw.MarketCap,
		FreeFloat:         raw.FreeFloat,
		SharesOutstanding: raw.SharesOutstanding,
		IsETF:             raw.IsETF,
	}

	t.RVOL = ComputeRVOL(raw.DayVolume, refFloat(refs.slotAvg, raw.Symbol))

	atr := refFloat(refs.atr, raw.Symbol)
	t.ATR = atr
	t.ATRPercent = ComputeATRPercent(atr, price)

	vwap := SelectVWAP(raw.VWAP, refFloat(refs.vwap, raw.Symbol))
	t.VWAP = vwap
	t.PriceVsVWAP = PercentChange(price, vwap)

	if stats, ok := refs.tradeStats[raw.Symbol]; ok {
		mean := stats.Mean5D
		t.AvgTrades5D = &mean
		t.TradesZScore, t.IsTradeAnomaly = ComputeTradesZScore(derived.TradesToday, &stats)
	}

	return t
}

func refFloat(m map[string]float64, symbol string) *float64 {
	if v, ok := m[symbol]; ok {
		return &v
	}
	return nil
}
