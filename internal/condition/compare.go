package condition

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// compare applies a binary comparison operator to two resolved values.
func compare(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", ">=", "<", "<=":
		return orderCompare(op, left, right)
	case "contains":
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(ls, fmt.Sprintf("%v", right)), nil
	case "matches":
		ls, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
		}
		pattern, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("matches: right operand must be a string pattern, got %T", right)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
		return re.MatchString(ls), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEqual compares numerics by value, booleans directly, and falls
// back to string formatting for everything else.
func looseEqual(left, right any) bool {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func orderCompare(op string, left, right any) (bool, error) {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	case "<":
		return lf < rf, nil
	default:
		return lf <= rf, nil
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
