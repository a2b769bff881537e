package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want string
	}{
		{
			name: "float stringified without trailing zeros",
			cond: NewCondition("rvol", OpGTE, 1.50),
			want: "rvol:gte:1.5",
		},
		{
			name: "integer-valued float",
			cond: NewCondition("volume_today", OpGT, 0.0),
			want: "volume_today:gt:0",
		},
		{
			name: "between bounds sorted",
			cond: NewCondition("price", OpBetween, []float64{10, 5}),
			want: "price:between:10,5",
		},
		{
			name: "list sorted",
			cond: NewCondition("sector", OpIn, []string{"Technology", "Energy"}),
			want: "sector:in:Energy,Technology",
		},
		{
			name: "null test has empty operand",
			cond: NewCondition("rvol", OpIsNone, nil),
			want: "rvol:is_none:",
		},
		{
			name: "bool operand",
			cond: NewCondition("is_etf", OpEQ, false),
			want: "is_etf:eq:false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.CanonicalKey())
		})
	}
}

func TestConditionCanonicalKeySharing(t *testing.T) {
	// Same semantics, different construction order.
	a := NewCondition("sector", OpIn, []string{"Energy", "Utilities"})
	b := NewCondition("sector", OpIn, []string{"Utilities", "Energy"})
	assert.Equal(t, a.CanonicalKey(), b.CanonicalKey())

	// Different operand, different key.
	c := NewCondition("sector", OpIn, []string{"Energy"})
	assert.NotEqual(t, a.CanonicalKey(), c.CanonicalKey())
}

func TestConditionCanonicalKeyLazy(t *testing.T) {
	// Conditions decoded from storage skip NewCondition.
	c := Condition{Field: "rvol", Op: OpGTE, Value: 2.0}
	assert.Equal(t, "rvol:gte:2", c.CanonicalKey())
	assert.Equal(t, NewCondition("rvol", OpGTE, 2.0).CanonicalKey(), c.CanonicalKey())
}

func TestOperatorValid(t *testing.T) {
	for _, op := range []Operator{OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ, OpBetween, OpIn, OpNotIn, OpIsNone, OpNotNone} {
		assert.True(t, op.Valid(), "operator %s", op)
	}
	assert.False(t, Operator("contains").Valid())
	assert.False(t, Operator("").Valid())
}

func TestRuleIDsAndChannels(t *testing.T) {
	sys := ScanRule{ID: SystemRuleID("gappers_up"), OwnerType: OwnerSystem, Name: "Gappers Up"}
	assert.Equal(t, "category:gappers_up", sys.ID)
	assert.Equal(t, "gappers_up", sys.Channel())
	assert.Equal(t, "system", sys.OwnerKey())

	usr := ScanRule{ID: UserRuleID("42", 7), OwnerType: OwnerUser, OwnerID: "42"}
	assert.Equal(t, "user:42:scan:7", usr.ID)
	assert.Equal(t, "user:42:scan:7", usr.Channel())
	assert.Equal(t, "user:42", usr.OwnerKey())
}
