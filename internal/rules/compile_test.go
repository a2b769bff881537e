package rules

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/domain"
)

func compileOne(t *testing.T, row *UserRuleRow) *domain.ScanRule {
	t.Helper()
	rule, err := CompileUserRule(row, zerolog.Nop())
	require.NoError(t, err)
	return rule
}

func TestCompileUserRuleBounds(t *testing.T) {
	row := &UserRuleRow{
		ID:         7,
		UserID:     "u1",
		Name:       "cheap movers",
		Enabled:    true,
		Parameters: `{"min_price": 5, "max_price": 10, "min_rvol": 2}`,
		Priority:   3,
	}

	rule := compileOne(t, row)

	assert.Equal(t, "user:u1:scan:7", rule.ID)
	assert.Equal(t, domain.OwnerUser, rule.OwnerType)
	assert.Equal(t, "u1", rule.OwnerID)
	assert.Equal(t, 3, rule.Priority)
	require.Len(t, rule.Conditions, 2)

	// Both bounds fold into a single between; the lone min becomes gte.
	assert.Equal(t, "price:between:10,5", rule.Conditions[0].CanonicalKey())
	assert.Equal(t, "rvol:gte:2", rule.Conditions[1].CanonicalKey())
}

func TestCompileUserRuleConditionOrderIsDeterministic(t *testing.T) {
	a := compileOne(t, &UserRuleRow{ID: 1, UserID: "u", Parameters: `{"min_rvol": 2, "min_price": 5}`})
	b := compileOne(t, &UserRuleRow{ID: 1, UserID: "u", Parameters: `{"min_price": 5, "min_rvol": 2}`})

	require.Len(t, a.Conditions, 2)
	require.Len(t, b.Conditions, 2)
	for i := range a.Conditions {
		assert.Equal(t, a.Conditions[i].CanonicalKey(), b.Conditions[i].CanonicalKey())
	}
}

func TestCompileUserRuleLists(t *testing.T) {
	row := &UserRuleRow{
		ID:     2,
		UserID: "u1",
		Parameters: `{
			"sectors": ["Technology"],
			"exchanges": ["XNAS", "XNYS"],
			"industries": []
		}`,
	}

	rule := compileOne(t, row)
	require.Len(t, rule.Conditions, 2)

	assert.Equal(t, "sector:eq:Technology", rule.Conditions[0].CanonicalKey())
	assert.Equal(t, "exchange:in:XNAS,XNYS", rule.Conditions[1].CanonicalKey())
}

func TestCompileSecurityType(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		wantKey string
		wantLen int
	}{
		{"etf", `{"security_type": "etf", "min_price": 1}`, "is_etf:eq:true", 2},
		{"stock", `{"security_type": ["stock"], "min_price": 1}`, "is_etf:eq:false", 2},
		{"both constrains nothing", `{"security_type": ["etf", "stock"], "min_price": 1}`, "", 1},
		{"unknown constrains nothing", `{"security_type": "warrant", "min_price": 1}`, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := compileOne(t, &UserRuleRow{ID: 3, UserID: "u", Parameters: tt.params})
			require.Len(t, rule.Conditions, tt.wantLen)
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantKey, rule.Conditions[tt.wantLen-1].CanonicalKey())
			}
		})
	}
}

func TestCompileNumericStringsAccepted(t *testing.T) {
	rule := compileOne(t, &UserRuleRow{ID: 4, UserID: "u", Parameters: `{"min_rvol": "2.5"}`})
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, "rvol:gte:2.5", rule.Conditions[0].CanonicalKey())
}

func TestCompileIgnoresUnknownKeys(t *testing.T) {
	rule := compileOne(t, &UserRuleRow{
		ID:         5,
		UserID:     "u",
		Parameters: `{"min_price": 5, "watchlist_only": true, "min_bogus_field": 1}`,
	})
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, "price:gte:5", rule.Conditions[0].CanonicalKey())
}

func TestCompileRejectsEmptyAndMalformed(t *testing.T) {
	_, err := CompileUserRule(&UserRuleRow{ID: 6, UserID: "u", Parameters: `{}`}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoConditions)

	_, err = CompileUserRule(&UserRuleRow{ID: 6, UserID: "u", Parameters: `{"only_unknown": 1}`}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoConditions)

	_, err = CompileUserRule(&UserRuleRow{ID: 6, UserID: "u", Parameters: `not json`}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCompileUserRulesSkipsInvalidRows(t *testing.T) {
	rows := []UserRuleRow{
		{ID: 1, UserID: "a", Parameters: `{"min_rvol": 2}`},
		{ID: 2, UserID: "a", Parameters: `broken`},
		{ID: 3, UserID: "b", Parameters: `{"max_price": 20}`},
	}

	compiled := CompileUserRules(rows, zerolog.Nop())
	require.Len(t, compiled, 2)
	assert.Equal(t, "user:a:scan:1", compiled[0].ID)
	assert.Equal(t, "user:b:scan:3", compiled[1].ID)
}

func TestSystemRules(t *testing.T) {
	sys := SystemRules()
	require.Len(t, sys, 10)

	seen := make(map[string]bool)
	for _, r := range sys {
		assert.Equal(t, domain.OwnerSystem, r.OwnerType)
		assert.True(t, r.Enabled)
		assert.NotEmpty(t, r.SortField)
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true

		require.NotEmpty(t, r.Conditions)
		for _, c := range r.Conditions {
			assert.True(t, c.Op.Valid(), "rule %s has invalid operator %s", r.ID, c.Op)
			assert.True(t, domain.KnownField(c.Field), "rule %s references unknown field %s", r.ID, c.Field)
		}
	}

	assert.True(t, seen["category:gappers_up"])
	assert.True(t, seen["category:new_lows"])

	categories := SystemCategories()
	require.Len(t, categories, 10)
	assert.Equal(t, "gappers_up", categories[0])
}

func TestSystemRulesShareConditionKeys(t *testing.T) {
	// rvol >= 1.5 appears in four categories and must canonicalize
	// identically in each, so the network can share one alpha node.
	keys := make(map[string]int)
	for _, r := range SystemRules() {
		for _, c := range r.Conditions {
			keys[c.CanonicalKey()]++
		}
	}

	assert.Equal(t, 4, keys["rvol:gte:1.5"])
	assert.Equal(t, 4, keys["volume_today:gt:0"])
	assert.Len(t, keys, 17)
}
