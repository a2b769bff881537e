package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpGT      Operator = "gt"
	OpGTE     Operator = "gte"
	OpLT      Operator = "lt"
	OpLTE     Operator = "lte"
	OpEQ      Operator = "eq"
	OpNEQ     Operator = "neq"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
	OpNotIn   Operator = "not_in"
	OpIsNone  Operator = "is_none"
	OpNotNone Operator = "not_none"
)

var validOperators = map[Operator]bool{
	OpGT: true, OpGTE: true, OpLT: true, OpLTE: true,
	OpEQ: true, OpNEQ: true, OpBetween: true,
	OpIn: true, OpNotIn: true, OpIsNone: true, OpNotNone: true,
}

// Valid reports whether op is a recognized operator.
func (op Operator) Valid() bool { return validOperators[op] }

// OwnerType distinguishes built-in category rules from user scans.
type OwnerType string

const (
	OwnerSystem OwnerType = "system"
	OwnerUser   OwnerType = "user"
)

// Condition is one (field, operator, value) predicate. Value holds:
//   - float64 for numeric comparisons
//   - string or bool for equality tests
//   - []float64{lo, hi} for between
//   - []string or []float64 for in / not_in
//   - nil for is_none / not_none
//
// The canonical key is computed once at construction and identifies
// semantically identical conditions across rules.
type Condition struct {
	Field string
	Op    Operator
	Value any

	key string
}

// NewCondition builds a condition and precomputes its canonical key.
func NewCondition(field string, op Operator, value any) Condition {
	c := Condition{Field: field, Op: op, Value: value}
	c.key = field + ":" + strings.ToLower(string(op)) + ":" + normalizeValue(value)
	return c
}

// CanonicalKey returns `field:op:normalized_value`. Two conditions with the
// same key are semantically identical and share an alpha node.
func (c Condition) CanonicalKey() string {
	if c.key == "" {
		// Zero-value conditions (e.g. decoded from storage) compute lazily.
		return c.Field + ":" + strings.ToLower(string(c.Op)) + ":" + normalizeValue(c.Value)
	}
	return c.key
}

// normalizeValue produces the deterministic string form of a condition
// operand: floats in shortest decimal form, list contents sorted.
func normalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case []string:
		parts := make([]string, len(x))
		copy(parts, x)
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = normalizeValue(e)
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ScanRule is an owner-tagged AND of conditions with a stable id and a sort
// key for presentation.
type ScanRule struct {
	ID             string
	OwnerType      OwnerType
	OwnerID        string // user id for user rules, empty for system rules
	Name           string
	Conditions     []Condition
	Enabled        bool
	Priority       int
	SortField      string
	SortDescending bool
}

// SystemRuleID builds the id for a built-in category rule.
func SystemRuleID(category string) string { return "category:" + category }

// UserRuleID builds the id for a user scan rule.
func UserRuleID(userID string, scanID int64) string {
	return fmt.Sprintf("user:%s:scan:%d", userID, scanID)
}

// Channel returns the delta channel this rule publishes to: the bare
// category name for system rules, the full rule id for user rules.
func (r *ScanRule) Channel() string {
	if r.OwnerType == OwnerSystem {
		return strings.TrimPrefix(r.ID, "category:")
	}
	return r.ID
}

// OwnerKey returns the partition key used by match-by-owner queries:
// "system" for system rules, "user:<uid>" for user rules.
func (r *ScanRule) OwnerKey() string {
	if r.OwnerType == OwnerSystem {
		return string(OwnerSystem)
	}
	return "user:" + r.OwnerID
}
