package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapescan/tapescan/internal/domain"
)

func TestComputeRVOL(t *testing.T) {
	assert.Nil(t, ComputeRVOL(nil, domain.Float64(50000)))
	assert.Nil(t, ComputeRVOL(domain.Float64(150000), nil))
	assert.Nil(t, ComputeRVOL(domain.Float64(0), domain.Float64(50000)))
	assert.Nil(t, ComputeRVOL(domain.Float64(150000), domain.Float64(0)))

	rvol := ComputeRVOL(domain.Float64(150000), domain.Float64(50000))
	require.NotNil(t, rvol)
	assert.InDelta(t, 3.0, *rvol, 1e-9)
}

func TestComputeATRPercent(t *testing.T) {
	assert.Nil(t, ComputeATRPercent(nil, domain.Float64(20)))
	assert.Nil(t, ComputeATRPercent(domain.Float64(0.5), nil))
	assert.Nil(t, ComputeATRPercent(domain.Float64(0.5), domain.Float64(0)))

	pct := ComputeATRPercent(domain.Float64(0.5), domain.Float64(20))
	require.NotNil(t, pct)
	assert.InDelta(t, 2.5, *pct, 1e-9)
}

func TestComputeTradesZScore(t *testing.T) {
	stats := &domain.TradeStats{Mean5D: 2000, Stddev5D: 1000}

	z, anomaly := ComputeTradesZScore(nil, stats)
	assert.Nil(t, z)
	assert.Nil(t, anomaly)

	z, anomaly = ComputeTradesZScore(domain.Int64(8000), nil)
	assert.Nil(t, z)
	assert.Nil(t, anomaly)

	// Degenerate baseline: no spread, no score.
	z, anomaly = ComputeTradesZScore(domain.Int64(8000), &domain.TradeStats{Mean5D: 2000})
	assert.Nil(t, z)
	assert.Nil(t, anomaly)

	z, anomaly = ComputeTradesZScore(domain.Int64(8000), stats)
	require.NotNil(t, z)
	assert.InDelta(t, 6.0, *z, 1e-9)
	require.NotNil(t, anomaly)
	assert.True(t, *anomaly)

	z, anomaly = ComputeTradesZScore(domain.Int64(4500), stats)
	require.NotNil(t, z)
	assert.InDelta(t, 2.5, *z, 1e-9)
	require.NotNil(t, anomaly)
	assert.False(t, *anomaly)

	// The flag trips at exactly three sigmas.
	z, anomaly = ComputeTradesZScore(domain.Int64(5000), stats)
	require.NotNil(t, z)
	assert.InDelta(t, 3.0, *z, 1e-9)
	require.NotNil(t, anomaly)
	assert.True(t, *anomaly)
}

func TestSelectVWAP(t *testing.T) {
	snapshot := domain.Float64(19.9)
	external := domain.Float64(19.5)

	assert.Equal(t, snapshot, SelectVWAP(snapshot, external))
	assert.Equal(t, external, SelectVWAP(nil, external))
	assert.Nil(t, SelectVWAP(nil, nil))
}

func TestPercentChange(t *testing.T) {
	assert.Nil(t, PercentChange(nil, domain.Float64(10)))
	assert.Nil(t, PercentChange(domain.Float64(11), nil))
	assert.Nil(t, PercentChange(domain.Float64(11), domain.Float64(0)))

	pct := PercentChange(domain.Float64(11), domain.Float64(10))
	require.NotNil(t, pct)
	assert.InDelta(t, 10.0, *pct, 1e-9)

	pct = PercentChange(domain.Float64(9), domain.Float64(10))
	require.NotNil(t, pct)
	assert.InDelta(t, -10.0, *pct, 1e-9)
}

func TestPercentOf(t *testing.T) {
	assert.Nil(t, PercentOf(nil, domain.Float64(200)))
	assert.Nil(t, PercentOf(domain.Float64(50), domain.Float64(0)))

	pct := PercentOf(domain.Float64(50), domain.Float64(200))
	require.NotNil(t, pct)
	assert.InDelta(t, 25.0, *pct, 1e-9)
}

func TestSub(t *testing.T) {
	assert.Nil(t, Sub(nil, domain.Float64(1)))
	assert.Nil(t, Sub(domain.Float64(1), nil))

	d := Sub(domain.Float64(11.02), domain.Float64(10.98))
	require.NotNil(t, d)
	assert.InDelta(t, 0.04, *d, 1e-9)
}

func TestSpreadPercent(t *testing.T) {
	assert.Nil(t, SpreadPercent(nil, domain.Float64(11.02)))
	assert.Nil(t, SpreadPercent(domain.Float64(10.98), nil))
	assert.Nil(t, SpreadPercent(domain.Float64(-1), domain.Float64(1)), "zero midpoint")

	pct := SpreadPercent(domain.Float64(10.98), domain.Float64(11.02))
	require.NotNil(t, pct)
	assert.InDelta(t, 0.04/11.0*100, *pct, 1e-9)
}
