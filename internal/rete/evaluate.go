package rete

import (
	"sort"

	"github.com/tapescan/tapescan/internal/domain"
)

// EvaluateTicker runs one ticker through the network and returns the set of
// matched rule ids. Each distinct condition is tested once regardless of how
// many rules share it.
func (n *Network) EvaluateTicker(t *domain.Ticker) map[string]bool {
	alphaResults := make(map[int]bool, len(n.alphas))
	n.evaluateAlphas(t, alphaResults)

	matches := make(map[string]bool)
	for _, beta := range n.betas {
		if n.betaFires(beta, alphaResults) {
			matches[beta.RuleID] = true
		}
	}
	return matches
}

// EvaluateBatch evaluates every ticker and groups matches by rule id. Each
// rule's match list is ordered by its sort field, absent values last, with
// the symbol as a deterministic tie-break. Rules that matched nothing have
// no entry.
func (n *Network) EvaluateBatch(tickers []*domain.Ticker) map[string][]*domain.Ticker {
	out := make(map[string][]*domain.Ticker)
	alphaResults := make(map[int]bool, len(n.alphas))

	for _, t := range tickers {
		clear(alphaResults)
		n.evaluateAlphas(t, alphaResults)
		for _, beta := range n.betas {
			if n.betaFires(beta, alphaResults) {
				out[beta.RuleID] = append(out[beta.RuleID], t)
			}
		}
	}

	for ruleID, list := range out {
		if rule, ok := n.Rule(ruleID); ok && rule.SortField != "" {
			sortMatches(list, rule.SortField, rule.SortDescending)
		}
	}
	return out
}

// MatchingRulesByOwner evaluates one ticker and partitions the matched rule
// ids by owner key: "system" for built-in categories, "user:<uid>" per user.
func (n *Network) MatchingRulesByOwner(t *domain.Ticker) map[string][]string {
	out := make(map[string][]string)
	for ruleID := range n.EvaluateTicker(t) {
		rule, ok := n.Rule(ruleID)
		if !ok {
			continue
		}
		key := rule.OwnerKey()
		out[key] = append(out[key], ruleID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// SystemMatches filters a batch result down to system-owned rules.
func (n *Network) SystemMatches(batch map[string][]*domain.Ticker) map[string][]*domain.Ticker {
	out := make(map[string][]*domain.Ticker)
	for ruleID, list := range batch {
		if rule, ok := n.Rule(ruleID); ok && rule.OwnerType == domain.OwnerSystem {
			out[ruleID] = list
		}
	}
	return out
}

// UserMatches filters a batch result down to one user's rules.
func (n *Network) UserMatches(batch map[string][]*domain.Ticker, userID string) map[string][]*domain.Ticker {
	out := make(map[string][]*domain.Ticker)
	for ruleID, list := range batch {
		if rule, ok := n.Rule(ruleID); ok && rule.OwnerType == domain.OwnerUser && rule.OwnerID == userID {
			out[ruleID] = list
		}
	}
	return out
}

func (n *Network) evaluateAlphas(t *domain.Ticker, results map[int]bool) {
	for id, alpha := range n.alphas {
		results[id] = EvaluateCondition(alpha.Condition, t)
	}
}

func (n *Network) betaFires(beta *BetaNode, alphaResults map[int]bool) bool {
	for _, parentID := range beta.Parents {
		if !alphaResults[parentID] {
			return false
		}
	}
	return true
}

// EvaluateCondition tests one condition against a ticker. An absent field
// value never matches, except for the explicit null-tests: is_none matches
// absence, not_none matches presence.
func EvaluateCondition(c domain.Condition, t *domain.Ticker) bool {
	value, present := t.Field(c.Field)

	switch c.Op {
	case domain.OpIsNone:
		return !present
	case domain.OpNotNone:
		return present
	}
	if !present {
		return false
	}

	switch c.Op {
	case domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE:
		return compareOrdered(value, c.Value, c.Op)
	case domain.OpEQ:
		return valuesEqual(value, c.Value)
	case domain.OpNEQ:
		return !valuesEqual(value, c.Value)
	case domain.OpBetween:
		v, ok := toFloat(value)
		if !ok {
			return false
		}
		lo, hi, ok := betweenBounds(c.Value)
		return ok && v >= lo && v <= hi
	case domain.OpIn:
		return listContains(c.Value, value)
	case domain.OpNotIn:
		return !listContains(c.Value, value)
	default:
		return false
	}
}

// compareOrdered handles gt/gte/lt/lte for numbers and, for string-valued
// fields, lexicographic order. Mixed or unordered types never match.
func compareOrdered(value, operand any, op domain.Operator) bool {
	if v, ok := toFloat(value); ok {
		w, ok := toFloat(operand)
		if !ok {
			return false
		}
		switch op {
		case domain.OpGT:
			return v > w
		case domain.OpGTE:
			return v >= w
		case domain.OpLT:
			return v < w
		case domain.OpLTE:
			return v <= w
		}
		return false
	}

	vs, ok := value.(string)
	if !ok {
		return false
	}
	ws, ok := operand.(string)
	if !ok {
		return false
	}
	switch op {
	case domain.OpGT:
		return vs > ws
	case domain.OpGTE:
		return vs >= ws
	case domain.OpLT:
		return vs < ws
	case domain.OpLTE:
		return vs <= ws
	}
	return false
}

func valuesEqual(value, operand any) bool {
	if v, ok := toFloat(value); ok {
		if w, ok := toFloat(operand); ok {
			return v == w
		}
		return false
	}
	switch v := value.(type) {
	case string:
		w, ok := operand.(string)
		return ok && v == w
	case bool:
		w, ok := operand.(bool)
		return ok && v == w
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// betweenBounds extracts the [lo, hi] pair of a between operand, accepting
// the typed []float64 form and the []any form produced by JSON decoding.
func betweenBounds(operand any) (lo, hi float64, ok bool) {
	switch bounds := operand.(type) {
	case []float64:
		if len(bounds) != 2 {
			return 0, 0, false
		}
		return bounds[0], bounds[1], true
	case []any:
		if len(bounds) != 2 {
			return 0, 0, false
		}
		lo, okLo := toFloat(bounds[0])
		hi, okHi := toFloat(bounds[1])
		return lo, hi, okLo && okHi
	default:
		return 0, 0, false
	}
}

func listContains(operand, value any) bool {
	switch list := operand.(type) {
	case []string:
		for _, item := range list {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []float64:
		for _, item := range list {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []any:
		for _, item := range list {
			if valuesEqual(value, item) {
				return true
			}
		}
	}
	return false
}

// sortMatches orders a rule's matched tickers by the rule's sort field.
// Tickers missing the field sort after those that have it.
func sortMatches(list []*domain.Ticker, field string, descending bool) {
	sort.SliceStable(list, func(i, j int) bool {
		vi, oki := numericField(list[i], field)
		vj, okj := numericField(list[j], field)
		if oki != okj {
			return oki
		}
		if !oki || vi == vj {
			return list[i].Symbol < list[j].Symbol
		}
		if descending {
			return vi > vj
		}
		return vi < vj
	})
}

func numericField(t *domain.Ticker, field string) (float64, bool) {
	v, ok := t.Field(field)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}
