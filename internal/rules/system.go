package rules

import "github.com/tapescan/tapescan/internal/domain"

// SystemRules returns the built-in category rules. The set is fixed; every
// category publishes to a delta channel named after it.
func SystemRules() []*domain.ScanRule {
	return []*domain.ScanRule{
		systemRule("gappers_up", "Gappers Up",
			[]domain.Condition{
				domain.NewCondition("gap_percent", domain.OpGTE, 2.0),
				domain.NewCondition("volume_today", domain.OpGT, 0.0),
			},
			"gap_percent", true),

		systemRule("gappers_down", "Gappers Down",
			[]domain.Condition{
				domain.NewCondition("gap_percent", domain.OpLTE, -2.0),
				domain.NewCondition("volume_today", domain.OpGT, 0.0),
			},
			"gap_percent", false),

		systemRule("momentum_up", "Momentum Up",
			[]domain.Condition{
				domain.NewCondition("price_from_intraday_high", domain.OpGTE, -1.0),
				domain.NewCondition("change_percent", domain.OpGTE, 1.0),
				domain.NewCondition("price_vs_vwap", domain.OpGT, 0.0),
				domain.NewCondition("rvol", domain.OpGTE, 1.5),
				domain.NewCondition("volume_today", domain.OpGTE, 100000.0),
			},
			"change_percent", true),

		systemRule("momentum_down", "Momentum Down",
			[]domain.Condition{
				domain.NewCondition("price_from_intraday_low", domain.OpLTE, 1.0),
				domain.NewCondition("change_percent", domain.OpLTE, -1.0),
				domain.NewCondition("price_vs_vwap", domain.OpLT, 0.0),
				domain.NewCondition("rvol", domain.OpGTE, 1.5),
				domain.NewCondition("volume_today", domain.OpGTE, 100000.0),
			},
			"change_percent", false),

		systemRule("winners", "Winners",
			[]domain.Condition{
				domain.NewCondition("change_percent", domain.OpGTE, 5.0),
				domain.NewCondition("rvol", domain.OpGTE, 1.5),
			},
			"change_percent", true),

		systemRule("losers", "Losers",
			[]domain.Condition{
				domain.NewCondition("change_percent", domain.OpLTE, -5.0),
				domain.NewCondition("rvol", domain.OpGTE, 1.5),
			},
			"change_percent", false),

		systemRule("high_volume", "High Volume",
			[]domain.Condition{
				domain.NewCondition("rvol", domain.OpGTE, 2.0),
			},
			"volume_today", true),

		systemRule("anomalies", "Trade Anomalies",
			[]domain.Condition{
				domain.NewCondition("trades_z_score", domain.OpGTE, 3.0),
			},
			"trades_z_score", true),

		systemRule("new_highs", "New Highs",
			[]domain.Condition{
				domain.NewCondition("price_from_intraday_high", domain.OpGTE, -0.1),
				domain.NewCondition("volume_today", domain.OpGT, 0.0),
			},
			"price_from_intraday_high", true),

		systemRule("new_lows", "New Lows",
			[]domain.Condition{
				domain.NewCondition("price_from_intraday_low", domain.OpLTE, 0.1),
				domain.NewCondition("volume_today", domain.OpGT, 0.0),
			},
			"price_from_intraday_low", false),
	}
}

// SystemCategories returns the category channel names in definition order.
func SystemCategories() []string {
	rules := SystemRules()
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Channel()
	}
	return out
}

func systemRule(category, name string, conditions []domain.Condition, sortField string, sortDesc bool) *domain.ScanRule {
	return &domain.ScanRule{
		ID:             domain.SystemRuleID(category),
		OwnerType:      domain.OwnerSystem,
		Name:           name,
		Conditions:     conditions,
		Enabled:        true,
		SortField:      sortField,
		SortDescending: sortDesc,
	}
}
