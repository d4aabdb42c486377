package rules

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// Operator is a comparison operator of value conditions.
type Operator string

// Supported operators.
const (
	OpEquals             Operator = "=="
	OpNotEquals          Operator = "!="
	OpIdentical          Operator = "==="
	OpNotIdentical       Operator = "!=="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLesserThan         Operator = "<"
	OpLesserThanOrEqual  Operator = "<="
)

// ErrUnknownOperator is returned by ParseOperator.
var ErrUnknownOperator = errors.New("unknown comparison operator")

// ParseOperator validates an operator string. The empty string means OpEquals.
func ParseOperator(value string) (Operator, error) {
	switch op := Operator(value); op {
	case "":
		return OpEquals, nil
	case OpEquals, OpNotEquals, OpIdentical, OpNotIdentical,
		OpGreaterThan, OpGreaterThanOrEqual, OpLesserThan, OpLesserThanOrEqual:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, value)
	}
}

// Compare applies op to actual and expected. == and != compare loosely,
// numbers by value and everything else by its string form. === and !==
// also require the same type. Ordering works on numbers and strings only.
func Compare(actual, expected any, op Operator) bool {
	switch op {
	case OpEquals, "":
		return looseEquals(actual, expected)
	case OpNotEquals:
		return !looseEquals(actual, expected)
	case OpIdentical:
		return identical(actual, expected)
	case OpNotIdentical:
		return !identical(actual, expected)
	case OpGreaterThan:
		c, ok := order(actual, expected)
		return ok && c > 0
	case OpGreaterThanOrEqual:
		c, ok := order(actual, expected)
		return ok && c >= 0
	case OpLesserThan:
		c, ok := order(actual, expected)
		return ok && c < 0
	case OpLesserThanOrEqual:
		c, ok := order(actual, expected)
		return ok && c <= 0
	default:
		return false
	}
}

func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := toBool(b); ok {
			return ba == bb
		}
	}
	if bb, ok := b.(bool); ok {
		if ba, ok := toBool(a); ok {
			return ba == bb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func identical(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
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
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	default:
		if f, ok := toFloat(v); ok {
			return f != 0, true
		}
		return false, false
	}
}
