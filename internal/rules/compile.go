package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tapescan/tapescan/internal/domain"
)

// ErrNoConditions marks a rule row whose parameters produced no recognized
// conditions. Such rules would match every ticker and are discarded.
var ErrNoConditions = errors.New("rule has no recognized conditions")

// listParamFields maps list-valued parameter keys to the ticker fields they
// constrain. security_type is handled separately (it folds into is_etf).
var listParamFields = []struct {
	param string
	field string
}{
	{"sectors", "sector"},
	{"industries", "industry"},
	{"exchanges", "exchange"},
}

// CompileUserRule turns one user_rules row into a scan rule.
//
// Recognized parameter keys are min_<field>/max_<field> for every numeric
// ticker field, plus security_type, sectors, industries and exchanges.
// Both bounds present become a between condition, a lone bound becomes
// gte/lte, list values become in (or eq for a single entry). Unknown keys
// are ignored. A row yielding zero conditions returns ErrNoConditions.
func CompileUserRule(row *UserRuleRow, log zerolog.Logger) (*domain.ScanRule, error) {
	var params map[string]any
	if err := json.Unmarshal([]byte(row.Parameters), &params); err != nil {
		return nil, fmt.Errorf("invalid parameters JSON: %w", err)
	}

	consumed := make(map[string]bool, len(params))
	var conditions []domain.Condition

	// Numeric bounds, walked in canonical field order so condition order is
	// deterministic regardless of JSON key order.
	for _, field := range domain.NumericFieldNames() {
		minKey, maxKey := "min_"+field, "max_"+field
		lo, hasLo := numericParam(params, minKey)
		hi, hasHi := numericParam(params, maxKey)
		if _, present := params[minKey]; present {
			consumed[minKey] = true
		}
		if _, present := params[maxKey]; present {
			consumed[maxKey] = true
		}

		switch {
		case hasLo && hasHi:
			conditions = append(conditions, domain.NewCondition(field, domain.OpBetween, []float64{lo, hi}))
		case hasLo:
			conditions = append(conditions, domain.NewCondition(field, domain.OpGTE, lo))
		case hasHi:
			conditions = append(conditions, domain.NewCondition(field, domain.OpLTE, hi))
		}
	}

	// security_type folds into the is_etf flag; "both" or unrecognized
	// values constrain nothing.
	if raw, ok := params["security_type"]; ok {
		consumed["security_type"] = true
		if cond, ok := securityTypeCondition(raw); ok {
			conditions = append(conditions, cond)
		}
	}

	for _, lp := range listParamFields {
		raw, ok := params[lp.param]
		if !ok {
			continue
		}
		consumed[lp.param] = true
		values := stringList(raw)
		switch len(values) {
		case 0:
			// Empty list constrains nothing.
		case 1:
			conditions = append(conditions, domain.NewCondition(lp.field, domain.OpEQ, values[0]))
		default:
			conditions = append(conditions, domain.NewCondition(lp.field, domain.OpIn, values))
		}
	}

	if ignored := unconsumedKeys(params, consumed); len(ignored) > 0 {
		log.Debug().
			Int64("rule_id", row.ID).
			Strs("keys", ignored).
			Msg("Ignoring unrecognized rule parameters")
	}

	if len(conditions) == 0 {
		return nil, ErrNoConditions
	}

	return &domain.ScanRule{
		ID:             domain.UserRuleID(row.UserID, row.ID),
		OwnerType:      domain.OwnerUser,
		OwnerID:        row.UserID,
		Name:           row.Name,
		Conditions:     conditions,
		Enabled:        row.Enabled,
		Priority:       row.Priority,
		SortField:      "change_percent",
		SortDescending: true,
	}, nil
}

// CompileUserRules compiles every row, skipping invalid ones with a warning.
func CompileUserRules(rows []UserRuleRow, log zerolog.Logger) []*domain.ScanRule {
	out := make([]*domain.ScanRule, 0, len(rows))
	for i := range rows {
		rule, err := CompileUserRule(&rows[i], log)
		if err != nil {
			log.Warn().
				Err(err).
				Int64("rule_id", rows[i].ID).
				Str("user_id", rows[i].UserID).
				Msg("Skipping invalid user rule")
			continue
		}
		out = append(out, rule)
	}
	return out
}

// numericParam reads a parameter as float64, accepting JSON numbers and
// numeric strings.
func numericParam(params map[string]any, key string) (float64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// securityTypeCondition maps a security_type parameter onto the is_etf flag.
func securityTypeCondition(raw any) (domain.Condition, bool) {
	values := stringList(raw)
	wantETF, wantStock := false, false
	for _, v := range values {
		switch strings.ToLower(v) {
		case "etf", "etn", "fund":
			wantETF = true
		case "stock", "stocks", "equity", "cs", "common":
			wantStock = true
		}
	}
	if wantETF == wantStock {
		// Neither or both: no constraint.
		return domain.Condition{}, false
	}
	return domain.NewCondition("is_etf", domain.OpEQ, wantETF), true
}

// stringList normalizes a parameter that may be a single string or a list.
func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func unconsumedKeys(params map[string]any, consumed map[string]bool) []string {
	var out []string
	for k := range params {
		if !consumed[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
