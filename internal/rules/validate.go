package rules

import (
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// mutatingActions — действия, которым нужно целевое поле.
var mutatingActions = map[domain.ActionType]bool{
	domain.ActionSet:       true,
	domain.ActionSetValue:  true,
	domain.ActionAdd:       true,
	domain.ActionIncrement: true,
	domain.ActionSubtract:  true,
	domain.ActionDecrement: true,
	domain.ActionMultiply:  true,
	domain.ActionDivide:    true,
	domain.ActionSurcharge: true,
	domain.ActionDiscount:  true,
	domain.ActionCopyField: true,
	domain.ActionAppend:    true,
}

// Validate проверяет правило при сохранении.
// Ошибки — ConfigError, чтобы битое правило не доходило до рейтинга.
func Validate(rule *domain.Rule) error {
	if err := domain.Validator().Struct(rule); err != nil {
		return domain.NewConfigError("rule", err.Error())
	}

	for i, c := range rule.Conditions {
		if !c.Operator.Valid() {
			return domain.NewConfigError(fmt.Sprintf("conditions[%d].operator", i),
				fmt.Sprintf("unknown operator %q", c.Operator))
		}
		switch c.Operator {
		case domain.OpRegex:
			if _, err := compileRegex(engine.ToString(c.Value)); err != nil {
				return domain.NewConfigError(fmt.Sprintf("conditions[%d].value", i), "invalid regex: "+err.Error())
			}
		case domain.OpBetween:
			if _, _, err := bounds(c); err != nil {
				return domain.NewConfigError(fmt.Sprintf("conditions[%d].value", i), err.Error())
			}
		case domain.OpIn, domain.OpNotIn:
			if _, ok := engine.ToSlice(c.Value); !ok {
				return domain.NewConfigError(fmt.Sprintf("conditions[%d].value", i), "value must be a list")
			}
		}
	}

	for i, a := range rule.Actions {
		if !a.ActionType.Valid() {
			return domain.NewConfigError(fmt.Sprintf("actions[%d].action_type", i),
				fmt.Sprintf("unknown action type %q", a.ActionType))
		}
		if mutatingActions[a.ActionType] && a.TargetField == "" {
			return domain.NewConfigError(fmt.Sprintf("actions[%d].target_field", i),
				fmt.Sprintf("%s requires target_field", a.ActionType))
		}
		if a.ActionType == domain.ActionSurcharge || a.ActionType == domain.ActionDiscount {
			if _, err := ParseRate(a.Value); err != nil {
				return domain.NewConfigError(fmt.Sprintf("actions[%d].value", i), err.Error())
			}
		}
	}

	return nil
}
