package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONFieldOrder(t *testing.T) {
	tk := &Ticker{
		Symbol:        "AAPL",
		Price:         Float64(190.55),
		GapPercent:    Float64(2.5),
		ChangePercent: Float64(1.25),
		VolumeToday:   Float64(1500000),
		Sector:        String("Technology"),
	}

	got := string(tk.CanonicalJSON())

	// Declaration order, not alphabetical and not insertion order.
	wantOrder := []string{`"symbol"`, `"price"`, `"change_percent"`, `"gap_percent"`, `"volume_today"`, `"sector"`}
	last := -1
	for _, field := range wantOrder {
		idx := strings.Index(got, field)
		require.GreaterOrEqual(t, idx, 0, "field %s missing from %s", field, got)
		assert.Greater(t, idx, last, "field %s out of order in %s", field, got)
		last = idx
	}
}

func TestCanonicalJSONOmitsAbsentFields(t *testing.T) {
	tk := &Ticker{Symbol: "XYZ", Price: Float64(10)}

	got := string(tk.CanonicalJSON())

	assert.Contains(t, got, `"symbol":"XYZ"`)
	assert.Contains(t, got, `"price":10`)
	assert.NotContains(t, got, "rvol")
	assert.NotContains(t, got, "null")
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	build := func() *Ticker {
		return &Ticker{
			Symbol:        "BBB",
			Price:         Float64(12.00),
			ChangePercent: Float64(3.2),
			RVOL:          Float64(1.8),
			VolumeToday:   Float64(500000),
			TradesToday:   Int64(4200),
			IsETF:         Bool(false),
		}
	}

	a := build().CanonicalJSON()
	b := build().CanonicalJSON()
	assert.Equal(t, a, b)
}

func TestCanonicalJSONNumericFormatting(t *testing.T) {
	tk := &Ticker{
		Symbol: "NUM",
		Price:  Float64(11.5),
		RVOL:   Float64(2.0),
		ATR:    Float64(0.25),
	}

	got := string(tk.CanonicalJSON())

	// Shortest round-trip form: no trailing zeros, no exponent notation.
	assert.Contains(t, got, `"price":11.5`)
	assert.Contains(t, got, `"rvol":2,`)
	assert.Contains(t, got, `"atr":0.25`)
}

func TestCanonicalJSONIsValidJSON(t *testing.T) {
	tk := fullyPopulatedProbe()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(tk.CanonicalJSON(), &decoded))
	assert.Equal(t, "PROBE", decoded["symbol"])
	assert.Len(t, decoded, len(tickerFields))
}

func TestFieldAccessorCoversEveryField(t *testing.T) {
	probe := fullyPopulatedProbe()

	for _, name := range FieldNames() {
		v, ok := probe.Field(name)
		assert.True(t, ok, "field %s not readable", name)
		assert.NotNil(t, v, "field %s returned nil", name)
	}
}

func TestFieldAbsentAndUnknown(t *testing.T) {
	tk := &Ticker{Symbol: "EMPTY"}

	_, ok := tk.Field("rvol")
	assert.False(t, ok)

	_, ok = tk.Field("no_such_field")
	assert.False(t, ok)

	v, ok := tk.Field("symbol")
	assert.True(t, ok)
	assert.Equal(t, "EMPTY", v)
}

func TestNumericFieldNames(t *testing.T) {
	names := NumericFieldNames()

	assert.Contains(t, names, "price")
	assert.Contains(t, names, "rvol")
	assert.Contains(t, names, "trades_today")
	assert.Contains(t, names, "market_cap")
	assert.NotContains(t, names, "symbol")
	assert.NotContains(t, names, "sector")
	assert.NotContains(t, names, "is_etf")
}
