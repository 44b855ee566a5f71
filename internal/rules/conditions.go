package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// regexCache — скомпилированные регулярные выражения условий.
var regexCache sync.Map

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// EvaluateConditions вычисляет предикат правила.
//
// Условия одной logical_group объединяются AND, группы — OR.
// Пустой список условий истинен.
func EvaluateConditions(conds []domain.Condition, doc map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}

	groups := make(map[int][]domain.Condition)
	for _, c := range conds {
		groups[c.LogicalGroup] = append(groups[c.LogicalGroup], c)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, k := range keys {
		all := true
		for _, c := range groups[k] {
			ok, err := EvaluateCondition(c, doc)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

// EvaluateCondition вычисляет одно условие над документом.
// Некорректный оператор или значение — RuleEvaluationError.
func EvaluateCondition(c domain.Condition, doc map[string]any) (bool, error) {
	actual, found := engine.Get(doc, c.Field)
	if !found {
		actual = nil
	}

	switch c.Operator {
	case domain.OpEq:
		return engine.Equal(actual, c.Value), nil
	case domain.OpNeq:
		return !engine.Equal(actual, c.Value), nil

	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		if actual == nil {
			return false, nil
		}
		cmp, ok := engine.Compare(actual, c.Value)
		if !ok {
			return false, nil
		}
		switch c.Operator {
		case domain.OpGt:
			return cmp > 0, nil
		case domain.OpGte:
			return cmp >= 0, nil
		case domain.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}

	case domain.OpContains:
		return engine.Contains(actual, c.Value), nil
	case domain.OpNotContain:
		return !engine.Contains(actual, c.Value), nil

	case domain.OpStartsWith:
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, engine.ToString(c.Value)), nil
	case domain.OpEndsWith:
		s, ok := actual.(string)
		return ok && strings.HasSuffix(s, engine.ToString(c.Value)), nil

	case domain.OpIn, domain.OpNotIn:
		items, ok := engine.ToSlice(c.Value)
		if !ok {
			return false, evalError(c, "value must be a list")
		}
		in := false
		for _, item := range items {
			if engine.Equal(actual, item) {
				in = true
				break
			}
		}
		if c.Operator == domain.OpIn {
			return in, nil
		}
		return !in, nil

	case domain.OpIsNull:
		return actual == nil, nil
	case domain.OpIsNotNull:
		return actual != nil, nil
	case domain.OpIsEmpty:
		return engine.IsEmpty(actual), nil
	case domain.OpIsNotEmpty:
		return !engine.IsEmpty(actual), nil

	case domain.OpBetween:
		lo, hi, err := bounds(c)
		if err != nil {
			return false, err
		}
		x, ok := engine.ToFloat(actual)
		if !ok || actual == nil {
			return false, nil
		}
		return x >= lo && x <= hi, nil

	case domain.OpRegex:
		re, err := compileRegex(engine.ToString(c.Value))
		if err != nil {
			return false, evalError(c, "invalid regex: "+err.Error())
		}
		if actual == nil {
			return false, nil
		}
		return re.MatchString(engine.ToString(actual)), nil

	default:
		return false, evalError(c, fmt.Sprintf("unknown operator %q", c.Operator))
	}
}

// bounds извлекает [min, max] для between.
// Допускаются [lo, hi] и {"min": lo, "max": hi}.
func bounds(c domain.Condition) (float64, float64, error) {
	var loV, hiV any
	switch v := c.Value.(type) {
	case []any:
		if len(v) != 2 {
			return 0, 0, evalError(c, "between needs exactly two bounds")
		}
		loV, hiV = v[0], v[1]
	case map[string]any:
		loV, hiV = v["min"], v["max"]
	default:
		return 0, 0, evalError(c, "between needs [min, max]")
	}

	lo, ok1 := engine.ToFloat(loV)
	hi, ok2 := engine.ToFloat(hiV)
	if !ok1 || !ok2 {
		return 0, 0, evalError(c, "between bounds must be numbers")
	}
	return lo, hi, nil
}

func evalError(c domain.Condition, msg string) error {
	return domain.NewStepError(domain.KindRuleEvaluation, c.Field, fmt.Sprintf("%s %s: %s", c.Field, c.Operator, msg), nil)
}

// MatchScope возвращает true, если у правила нет scope tags или хотя бы один совпадает.
//
// Значение тега "*" совпадает с любым значением измерения. Если измерение
// scope — массив, достаточно совпадения с одним элементом.
func MatchScope(tags []domain.ScopeTag, scope map[string]any) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		v, ok := scope[tag.Dimension]
		if !ok || v == nil {
			continue
		}
		if tag.Value == "*" {
			return true
		}
		if items, isList := v.([]any); isList {
			for _, item := range items {
				if strings.EqualFold(engine.ToString(item), tag.Value) {
					return true
				}
			}
			continue
		}
		if strings.EqualFold(engine.ToString(v), tag.Value) {
			return true
		}
	}
	return false
}

// Select отбирает активные правила по scope и сортирует их по приоритету.
func Select(rules []domain.Rule, scope map[string]any) []domain.Rule {
	selected := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && MatchScope(r.ScopeTags, scope) {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority < selected[j].Priority
	})
	return selected
}
