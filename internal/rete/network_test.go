package rete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/rules"
)

func userRule(id int64, userID string, conditions ...domain.Condition) *domain.ScanRule {
	return &domain.ScanRule{
		ID:         domain.UserRuleID(userID, id),
		OwnerType:  domain.OwnerUser,
		OwnerID:    userID,
		Name:       "test rule",
		Conditions: conditions,
		Enabled:    true,
	}
}

func TestAddRuleSharesAlphaNodes(t *testing.T) {
	n := NewNetwork()

	// Both rules test price > 5; the condition must map to one alpha node.
	require.NoError(t, n.AddRule(userRule(1, "u1",
		domain.NewCondition("price", domain.OpGT, 5.0),
		domain.NewCondition("rvol", domain.OpGTE, 2.0),
	)))
	require.NoError(t, n.AddRule(userRule(2, "u2",
		domain.NewCondition("price", domain.OpGT, 5.0),
		domain.NewCondition("volume_today", domain.OpGTE, 100000.0),
	)))

	stats := n.Stats()
	assert.Equal(t, 3, stats.AlphaNodes)
	assert.Equal(t, 2, stats.BetaNodes)
	assert.Equal(t, 2, stats.Terminals)
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 2, stats.UserRules)
	assert.Equal(t, 0, stats.SystemRules)
}

func TestAddRuleRejectsDuplicatesAndEmpty(t *testing.T) {
	n := NewNetwork()
	rule := userRule(1, "u1", domain.NewCondition("price", domain.OpGT, 1.0))

	require.NoError(t, n.AddRule(rule))
	assert.Error(t, n.AddRule(rule))
	assert.Error(t, n.AddRule(userRule(2, "u1")))
	assert.Equal(t, 1, n.Stats().TotalRules)
}

func TestRemoveRulePrunesOrphanedAlphas(t *testing.T) {
	n := NewNetwork()
	require.NoError(t, n.AddRule(userRule(1, "u1",
		domain.NewCondition("price", domain.OpGT, 5.0),
	)))
	before := n.Stats()

	require.NoError(t, n.AddRule(userRule(2, "u1",
		domain.NewCondition("price", domain.OpGT, 5.0),
		domain.NewCondition("rvol", domain.OpGTE, 3.0),
	)))
	assert.Equal(t, 2, n.Stats().AlphaNodes)

	// Removing the second rule must drop the rvol alpha but keep the shared
	// price alpha, restoring the exact pre-add census.
	assert.True(t, n.RemoveRule(domain.UserRuleID("u1", 2)))
	assert.Equal(t, before, n.Stats())
	assert.False(t, n.HasRule(domain.UserRuleID("u1", 2)))
	assert.True(t, n.HasRule(domain.UserRuleID("u1", 1)))

	// The surviving rule still evaluates correctly.
	matched := n.EvaluateTicker(&domain.Ticker{Symbol: "AAA", Price: domain.Float64(6)})
	assert.True(t, matched[domain.UserRuleID("u1", 1)])
}

func TestRemoveRuleUnknownID(t *testing.T) {
	n := NewNetwork()
	assert.False(t, n.RemoveRule("user:u1:scan:99"))
}

func TestSystemRuleNetworkCensus(t *testing.T) {
	n := NewNetwork()
	for _, rule := range rules.SystemRules() {
		require.NoError(t, n.AddRule(rule))
	}

	stats := n.Stats()
	assert.Equal(t, 10, stats.TotalRules)
	assert.Equal(t, 10, stats.SystemRules)
	assert.Equal(t, 0, stats.UserRules)
	assert.Equal(t, 10, stats.BetaNodes)
	assert.Equal(t, 10, stats.Terminals)

	// The ten categories carry 24 condition instances but only 17 distinct
	// canonical keys (rvol >= 1.5 and volume_today > 0 are each shared by
	// four rules, volume_today >= 100000 by two).
	assert.Equal(t, 17, stats.AlphaNodes)
}

func TestCountersStayConsistentAcrossMutations(t *testing.T) {
	n := NewNetwork()
	for _, rule := range rules.SystemRules() {
		require.NoError(t, n.AddRule(rule))
	}
	require.NoError(t, n.AddRule(userRule(1, "u1", domain.NewCondition("rvol", domain.OpGTE, 1.5))))
	require.NoError(t, n.AddRule(userRule(2, "u2", domain.NewCondition("price", domain.OpLT, 1.0))))

	stats := n.Stats()
	assert.Equal(t, stats.SystemRules+stats.UserRules, stats.TotalRules)
	assert.Equal(t, stats.TotalRules, stats.BetaNodes)
	assert.Equal(t, stats.TotalRules, stats.Terminals)

	n.RemoveRule(domain.UserRuleID("u1", 1))
	stats = n.Stats()
	assert.Equal(t, 11, stats.TotalRules)
	assert.Equal(t, 1, stats.UserRules)
	// The u1 rule shared rvol >= 1.5 with four system rules, so its removal
	// must not drop that alpha.
	matched := n.EvaluateTicker(&domain.Ticker{
		Symbol:        "HV",
		RVOL:          domain.Float64(2.5),
		ChangePercent: domain.Float64(0.2),
	})
	assert.True(t, matched[domain.SystemRuleID("high_volume")])
}

func TestRulesSortedByID(t *testing.T) {
	n := NewNetwork()
	require.NoError(t, n.AddRule(userRule(2, "b", domain.NewCondition("price", domain.OpGT, 1.0))))
	require.NoError(t, n.AddRule(userRule(1, "a", domain.NewCondition("price", domain.OpGT, 2.0))))

	list := n.Rules()
	require.Len(t, list, 2)
	assert.Equal(t, "user:a:scan:1", list[0].ID)
	assert.Equal(t, "user:b:scan:2", list[1].ID)
}
