package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// Flag — пометка, поставленная правилом. Не меняет рейтинговые значения.
type Flag = domain.RuleFlag

// Adjustment — отложенная надбавка или скидка.
//
// Создаётся, когда surcharge/discount ссылается на поле, которого ещё нет
// (обычно premium до вызова рейтингового движка). Применяется, когда поле появится.
type Adjustment struct {
	RuleName    string            `json:"rule_name"`
	ActionType  domain.ActionType `json:"action_type"`
	TargetField string            `json:"target_field"`
	Rate        float64           `json:"rate"`
}

// AppliedRule — правило, условия которого выполнились.
type AppliedRule struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Actions  int       `json:"actions"`
}

// Outcome — побочные результаты применения правил.
type Outcome struct {
	Evaluated   int           `json:"evaluated"`
	Applied     []AppliedRule `json:"applied,omitempty"`
	Flags       []Flag        `json:"flags,omitempty"`
	SkipSteps   []string      `json:"skip_steps,omitempty"`
	Deferred    []Adjustment  `json:"deferred,omitempty"`
	FieldErrors []string      `json:"field_errors,omitempty"`
}

// Evaluate применяет правила к копии документа и возвращает её.
//
// Правила отбираются по активности и scope, выполняются по приоритету.
// reject прерывает вычисление ошибкой RuleRejected. Ошибки целевых полей
// у действий не прерывают выполнение и попадают в Outcome.FieldErrors.
func Evaluate(rules []domain.Rule, doc map[string]any, scope map[string]any) (map[string]any, *Outcome, error) {
	out := engine.Clone(doc)
	if out == nil {
		out = make(map[string]any)
	}
	outcome := &Outcome{}

	for _, rule := range Select(rules, scope) {
		outcome.Evaluated++

		matched, err := EvaluateConditions(rule.Conditions, out)
		if err != nil {
			return out, outcome, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		if !matched {
			continue
		}

		actions := rule.SortedActions()
		outcome.Applied = append(outcome.Applied, AppliedRule{RuleID: rule.ID, RuleName: rule.Name, Actions: len(actions)})

		for _, a := range actions {
			if err := applyAction(&rule, a, out, outcome); err != nil {
				return out, outcome, err
			}
		}
	}

	return out, outcome, nil
}

func applyAction(rule *domain.Rule, a domain.Action, doc map[string]any, outcome *Outcome) error {
	fieldErr := func(msg string) {
		outcome.FieldErrors = append(outcome.FieldErrors,
			fmt.Sprintf("rule %s: %s %s: %s", rule.Name, a.ActionType, a.TargetField, msg))
	}

	switch a.ActionType {
	case domain.ActionSet, domain.ActionSetValue:
		if err := engine.Set(doc, a.TargetField, engine.CloneValue(a.Value)); err != nil {
			fieldErr(err.Error())
		}

	case domain.ActionAdd, domain.ActionIncrement, domain.ActionSubtract, domain.ActionDecrement,
		domain.ActionMultiply, domain.ActionDivide:
		current, found := engine.Get(doc, a.TargetField)
		if !found {
			fieldErr("target field is missing")
			return nil
		}
		x, ok := engine.ToFloat(current)
		if !ok {
			fieldErr(fmt.Sprintf("target is not numeric: %v", current))
			return nil
		}
		operand := 1.0
		if a.Value != nil {
			if operand, ok = engine.ToFloat(a.Value); !ok {
				fieldErr(fmt.Sprintf("value is not numeric: %v", a.Value))
				return nil
			}
		}
		result, err := arithmetic(a.ActionType, x, operand)
		if err != nil {
			fieldErr(err.Error())
			return nil
		}
		if err := engine.Set(doc, a.TargetField, result); err != nil {
			fieldErr(err.Error())
		}

	case domain.ActionSurcharge, domain.ActionDiscount:
		rate, err := ParseRate(a.Value)
		if err != nil {
			fieldErr(err.Error())
			return nil
		}
		adj := Adjustment{RuleName: rule.Name, ActionType: a.ActionType, TargetField: a.TargetField, Rate: rate}

		current, found := engine.Get(doc, a.TargetField)
		if !found || current == nil {
			outcome.Deferred = append(outcome.Deferred, adj)
			return nil
		}
		if err := adj.Apply(doc); err != nil {
			fieldErr(err.Error())
		}

	case domain.ActionReject:
		reason := engine.ToString(a.Value)
		if reason == "" {
			reason = "rejected by rule " + rule.Name
		}
		return domain.NewStepError(domain.KindRuleRejected, a.TargetField, reason, domain.ErrRuleRejected)

	case domain.ActionFlag:
		outcome.Flags = append(outcome.Flags, Flag{RuleID: rule.ID, RuleName: rule.Name, Value: engine.CloneValue(a.Value)})

	case domain.ActionSkipStep:
		name := engine.ToString(a.Value)
		if name == "" {
			name = a.TargetField
		}
		if name == "" {
			fieldErr("skip_step needs a step name")
			return nil
		}
		outcome.SkipSteps = append(outcome.SkipSteps, name)

	case domain.ActionCopyField:
		from := engine.ToString(a.Value)
		v, found := engine.Get(doc, from)
		if !found {
			fieldErr(fmt.Sprintf("source field %s is missing", from))
			return nil
		}
		if err := engine.Set(doc, a.TargetField, engine.CloneValue(v)); err != nil {
			fieldErr(err.Error())
		}

	case domain.ActionAppend:
		current, found := engine.Get(doc, a.TargetField)
		var list []any
		if found && current != nil {
			existing, ok := current.([]any)
			if !ok {
				fieldErr("target is not a list")
				return nil
			}
			list = existing
		}
		list = append(list, engine.CloneValue(a.Value))
		if err := engine.Set(doc, a.TargetField, list); err != nil {
			fieldErr(err.Error())
		}

	default:
		return domain.NewStepError(domain.KindRuleEvaluation, a.TargetField,
			fmt.Sprintf("rule %s: unknown action type %q", rule.Name, a.ActionType), nil)
	}

	return nil
}

func arithmetic(t domain.ActionType, x, operand float64) (float64, error) {
	switch t {
	case domain.ActionAdd, domain.ActionIncrement:
		return x + operand, nil
	case domain.ActionSubtract, domain.ActionDecrement:
		return x - operand, nil
	case domain.ActionMultiply:
		return x * operand, nil
	default:
		if operand == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x / operand, nil
	}
}

// ParseRate читает ставку надбавки или скидки и возвращает долю.
//
// Строка с "%" — всегда проценты ("1%" → 0.01). Число больше 1 по модулю —
// проценты (15 → 0.15), меньше 1 — доля (0.1 → 0.1). Ровно 1 неоднозначно
// и отклоняется: нужно писать "1%" или "100%".
func ParseRate(v any) (float64, error) {
	if s, ok := v.(string); ok {
		if p, found := strings.CutSuffix(strings.TrimSpace(s), "%"); found {
			x, ok := engine.ToFloat(p)
			if !ok {
				return 0, fmt.Errorf("rate is not numeric: %v", v)
			}
			return x / 100, nil
		}
	}

	x, ok := engine.ToFloat(v)
	switch {
	case !ok:
		return 0, fmt.Errorf("rate is not numeric: %v", v)
	case math.Abs(x) == 1:
		return 0, fmt.Errorf("rate %v is ambiguous, use \"1%%\" or \"100%%\"", v)
	case math.Abs(x) > 1:
		return x / 100, nil
	default:
		return x, nil
	}
}

// Apply применяет надбавку или скидку к числовому полю документа.
func (a Adjustment) Apply(doc map[string]any) error {
	current, found := engine.Get(doc, a.TargetField)
	if !found {
		return fmt.Errorf("target field %s is missing", a.TargetField)
	}
	x, ok := engine.ToFloat(current)
	if !ok {
		return fmt.Errorf("target is not numeric: %v", current)
	}

	rate := decimal.NewFromFloat(a.Rate)
	factor := decimal.NewFromInt(1).Add(rate)
	if a.ActionType == domain.ActionDiscount {
		factor = decimal.NewFromInt(1).Sub(rate)
	}
	result := decimal.NewFromFloat(x).Mul(factor).Round(6)
	return engine.Set(doc, a.TargetField, result.InexactFloat64())
}

// ApplyDeferred применяет отложенные корректировки, чьи поля уже появились.
// Возвращает применённые и оставшиеся.
func ApplyDeferred(doc map[string]any, pending []Adjustment) (applied, remaining []Adjustment) {
	for _, adj := range pending {
		if v, found := engine.Get(doc, adj.TargetField); !found || v == nil {
			remaining = append(remaining, adj)
			continue
		}
		if err := adj.Apply(doc); err != nil {
			remaining = append(remaining, adj)
			continue
		}
		applied = append(applied, adj)
	}
	return applied, remaining
}
