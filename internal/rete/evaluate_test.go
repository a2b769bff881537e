package rete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/rules"
)

func TestEvaluateConditionOperators(t *testing.T) {
	ticker := &domain.Ticker{
		Symbol:        "AAA",
		Price:         domain.Float64(10),
		ChangePercent: domain.Float64(-2.5),
		TradesToday:   domain.Int64(420),
		Sector:        domain.String("Technology"),
		IsETF:         domain.Bool(false),
	}

	tests := []struct {
		name  string
		cond  domain.Condition
		match bool
	}{
		{"gt true", domain.NewCondition("price", domain.OpGT, 5.0), true},
		{"gt false on equal", domain.NewCondition("price", domain.OpGT, 10.0), false},
		{"gte true on equal", domain.NewCondition("price", domain.OpGTE, 10.0), true},
		{"lt true", domain.NewCondition("change_percent", domain.OpLT, 0.0), true},
		{"lte false", domain.NewCondition("price", domain.OpLTE, 9.99), false},

		{"eq float", domain.NewCondition("price", domain.OpEQ, 10.0), true},
		{"eq int field", domain.NewCondition("trades_today", domain.OpEQ, 420.0), true},
		{"eq string", domain.NewCondition("sector", domain.OpEQ, "Technology"), true},
		{"eq bool", domain.NewCondition("is_etf", domain.OpEQ, false), true},
		{"eq type mismatch", domain.NewCondition("sector", domain.OpEQ, 10.0), false},
		{"neq", domain.NewCondition("sector", domain.OpNEQ, "Energy"), true},

		{"between inclusive low", domain.NewCondition("price", domain.OpBetween, []float64{10, 20}), true},
		{"between inclusive high", domain.NewCondition("price", domain.OpBetween, []float64{5, 10}), true},
		{"between outside", domain.NewCondition("price", domain.OpBetween, []float64{11, 20}), false},
		{"between json decoded", domain.NewCondition("price", domain.OpBetween, []any{5.0, 15.0}), true},

		{"in hit", domain.NewCondition("sector", domain.OpIn, []string{"Energy", "Technology"}), true},
		{"in miss", domain.NewCondition("sector", domain.OpIn, []string{"Energy"}), false},
		{"not_in", domain.NewCondition("sector", domain.OpNotIn, []string{"Energy"}), true},

		{"string ordering", domain.NewCondition("sector", domain.OpGT, "Energy"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, EvaluateCondition(tt.cond, ticker))
		})
	}
}

func TestEvaluateConditionAbsentValues(t *testing.T) {
	// Only symbol and price are set; everything else is absent.
	ticker := &domain.Ticker{Symbol: "AAA", Price: domain.Float64(10)}

	tests := []struct {
		name  string
		cond  domain.Condition
		match bool
	}{
		{"gt absent", domain.NewCondition("rvol", domain.OpGT, 1.0), false},
		{"eq absent", domain.NewCondition("rvol", domain.OpEQ, 1.0), false},
		{"neq absent", domain.NewCondition("rvol", domain.OpNEQ, 1.0), false},
		{"between absent", domain.NewCondition("rvol", domain.OpBetween, []float64{0, 9}), false},
		{"in absent", domain.NewCondition("sector", domain.OpIn, []string{"Energy"}), false},
		{"not_in absent", domain.NewCondition("sector", domain.OpNotIn, []string{"Energy"}), false},

		{"is_none on absent", domain.NewCondition("rvol", domain.OpIsNone, nil), true},
		{"is_none on present", domain.NewCondition("price", domain.OpIsNone, nil), false},
		{"not_none on absent", domain.NewCondition("rvol", domain.OpNotNone, nil), false},
		{"not_none on present", domain.NewCondition("price", domain.OpNotNone, nil), true},

		{"unknown field", domain.NewCondition("nope", domain.OpGT, 1.0), false},
		{"unknown field is_none", domain.NewCondition("nope", domain.OpIsNone, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, EvaluateCondition(tt.cond, ticker))
		})
	}
}

func systemNetwork(t *testing.T) *Network {
	t.Helper()
	n := NewNetwork()
	for _, rule := range rules.SystemRules() {
		require.NoError(t, n.AddRule(rule))
	}
	return n
}

func TestEvaluateTickerMomentum(t *testing.T) {
	n := systemNetwork(t)

	ticker := &domain.Ticker{
		Symbol:                "BBB",
		Price:                 domain.Float64(12.40),
		ChangePercent:         domain.Float64(4.2),
		RVOL:                  domain.Float64(3.1),
		VolumeToday:           domain.Float64(800000),
		PriceVsVWAP:           domain.Float64(0.8),
		PriceFromIntradayHigh: domain.Float64(-0.5),
	}

	matched := n.EvaluateTicker(ticker)

	assert.True(t, matched[domain.SystemRuleID("momentum_up")])
	assert.True(t, matched[domain.SystemRuleID("high_volume")])
	// Change is below the winners threshold and no gap or z-score is set.
	assert.False(t, matched[domain.SystemRuleID("winners")])
	assert.False(t, matched[domain.SystemRuleID("gappers_up")])
	assert.False(t, matched[domain.SystemRuleID("anomalies")])
	assert.Len(t, matched, 2)
}

func TestEvaluateBatchGroupsAndSorts(t *testing.T) {
	n := systemNetwork(t)

	winner := func(symbol string, change float64) *domain.Ticker {
		return &domain.Ticker{
			Symbol:        symbol,
			ChangePercent: domain.Float64(change),
			RVOL:          domain.Float64(1.8),
		}
	}

	batch := n.EvaluateBatch([]*domain.Ticker{
		winner("LOW", 5.5),
		winner("TOP", 9.0),
		winner("MID", 7.2),
		{Symbol: "FLAT", ChangePercent: domain.Float64(0.1)},
	})

	list := batch[domain.SystemRuleID("winners")]
	require.Len(t, list, 3)
	// winners sorts by change_percent descending.
	assert.Equal(t, "TOP", list[0].Symbol)
	assert.Equal(t, "MID", list[1].Symbol)
	assert.Equal(t, "LOW", list[2].Symbol)

	_, hasLosers := batch[domain.SystemRuleID("losers")]
	assert.False(t, hasLosers, "rules without matches have no entry")
}

func TestMatchingRulesByOwner(t *testing.T) {
	n := systemNetwork(t)
	require.NoError(t, n.AddRule(userRule(1, "u1", domain.NewCondition("rvol", domain.OpGTE, 3.0))))
	require.NoError(t, n.AddRule(userRule(2, "u2", domain.NewCondition("rvol", domain.OpGTE, 100.0))))

	ticker := &domain.Ticker{
		Symbol:        "CCC",
		ChangePercent: domain.Float64(6.0),
		RVOL:          domain.Float64(3.2),
	}

	byOwner := n.MatchingRulesByOwner(ticker)

	assert.ElementsMatch(t, []string{
		domain.SystemRuleID("winners"),
		domain.SystemRuleID("high_volume"),
	}, byOwner["system"])
	assert.Equal(t, []string{"user:u1:scan:1"}, byOwner["user:u1"])
	_, hasU2 := byOwner["user:u2"]
	assert.False(t, hasU2)
}

func TestBatchPartitionHelpers(t *testing.T) {
	n := systemNetwork(t)
	require.NoError(t, n.AddRule(userRule(1, "u1", domain.NewCondition("rvol", domain.OpGTE, 3.0))))
	require.NoError(t, n.AddRule(userRule(5, "u2", domain.NewCondition("rvol", domain.OpGTE, 3.0))))

	batch := n.EvaluateBatch([]*domain.Ticker{{
		Symbol: "DDD",
		RVOL:   domain.Float64(4.0),
	}})

	system := n.SystemMatches(batch)
	assert.Contains(t, system, domain.SystemRuleID("high_volume"))
	assert.NotContains(t, system, "user:u1:scan:1")

	u1 := n.UserMatches(batch, "u1")
	require.Len(t, u1, 1)
	assert.Contains(t, u1, "user:u1:scan:1")
}
