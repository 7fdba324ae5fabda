package ruleengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// Supported property operators.
const (
	OpExact        = "exact"
	OpIsNot        = "is_not"
	OpIsSet        = "is_set"
	OpIsNotSet     = "is_not_set"
	OpIContains    = "icontains"
	OpNotIContains = "not_icontains"
	OpRegex        = "regex"
	OpNotRegex     = "not_regex"
	OpGT           = "gt"
	OpGTE          = "gte"
	OpLT           = "lt"
	OpLTE          = "lte"
	OpDateBefore   = "is_date_before"
	OpDateAfter    = "is_date_after"
)

// PropertyEvaluator compares person or group properties.
type PropertyEvaluator struct {
	patterns *patternCache
	now      func() time.Time
}

// Match implements Evaluator.
func (e *PropertyEvaluator) Match(m flagdef.PropertyMatcher, input MatchInput) (bool, error) {
	return e.matchProperty(m, input.properties(m))
}

func (e *PropertyEvaluator) matchProperty(m flagdef.PropertyMatcher, props map[string]any) (bool, error) {
	operator := m.Operator
	if operator == "" {
		operator = OpExact
	}

	if operator == OpIsNotSet {
		return false, inconclusive("operator %s cannot be decided locally", OpIsNotSet)
	}

	actual, ok := props[m.Key]
	if !ok {
		return false, inconclusive("property %q not provided", m.Key)
	}

	switch operator {
	case OpIsSet:
		return true, nil

	case OpExact, OpIsNot:
		found := false
		for _, candidate := range expectedValues(m.Value) {
			if strings.EqualFold(stringify(candidate), stringify(actual)) {
				found = true
				break
			}
		}
		if operator == OpExact {
			return found, nil
		}
		return !found, nil

	case OpIContains, OpNotIContains:
		contains := strings.Contains(strings.ToLower(stringify(actual)), strings.ToLower(stringify(m.Value)))
		if operator == OpIContains {
			return contains, nil
		}
		return !contains, nil

	case OpRegex, OpNotRegex:
		re, err := e.patterns.compile(stringify(m.Value))
		if err != nil {
			return false, nil
		}
		matched := re.MatchString(stringify(actual))
		if operator == OpRegex {
			return matched, nil
		}
		return !matched, nil

	case OpGT, OpGTE, OpLT, OpLTE:
		return compareOrdered(operator, actual, m.Value), nil

	case OpDateBefore, OpDateAfter:
		return e.compareDates(operator, m.Key, actual, m.Value)

	default:
		return false, inconclusive("unknown operator %q", operator)
	}
}

func (e *PropertyEvaluator) compareDates(operator, key string, actual, expected any) (bool, error) {
	target, err := parseDateOverride(stringify(expected), e.now())
	if err != nil {
		return false, inconclusive("invalid date in matcher for %q: %v", key, err)
	}
	value, err := parseDateValue(actual)
	if err != nil {
		return false, inconclusive("property %q is not a date: %v", key, err)
	}
	if operator == OpDateBefore {
		return value.Before(target), nil
	}
	return value.After(target), nil
}

// compareOrdered compares numerically when both sides are numbers and
// lexically otherwise.
func compareOrdered(operator string, actual, expected any) bool {
	a, aErr := toFloat(actual)
	b, bErr := toFloat(expected)
	if aErr == nil && bErr == nil {
		switch operator {
		case OpGT:
			return a > b
		case OpGTE:
			return a >= b
		case OpLT:
			return a < b
		default:
			return a <= b
		}
	}

	as, bs := stringify(actual), stringify(expected)
	switch operator {
	case OpGT:
		return as > bs
	case OpGTE:
		return as >= bs
	case OpLT:
		return as < bs
	default:
		return as <= bs
	}
}

func expectedValues(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

var relativeDate = regexp.MustCompile(`^-?(\d+)([hdwmy])$`)

// parseDateOverride accepts an absolute date or a relative offset in the past
// such as "-7d" or "2w".
func parseDateOverride(s string, now time.Time) (time.Time, error) {
	if m := relativeDate.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		switch m[2] {
		case "h":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "d":
			return now.AddDate(0, 0, -n), nil
		case "w":
			return now.AddDate(0, 0, -7*n), nil
		case "m":
			return now.AddDate(0, -n, 0), nil
		default:
			return now.AddDate(-n, 0, 0), nil
		}
	}
	return parseDateString(s)
}

func parseDateValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		return parseDateString(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parseDateString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
