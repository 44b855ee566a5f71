package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// RuleFlag — значение действия flag. Попадает в ответ рейтинга и в транзакцию.
type RuleFlag struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Value    any       `json:"value"`
}

// Rule — бизнес-правило продукта: условия и действия.
//
// Правило применяется, если оно активно и его scope tags совпадают
// со scope транзакции. Правила выполняются по возрастанию Priority.
type Rule struct {
	ID              uuid.UUID   `json:"id"`
	ProductLineCode string      `json:"product_line_code" validate:"required"`
	Name            string      `json:"name" validate:"required"`
	Description     string      `json:"description,omitempty"`
	Priority        int         `json:"priority"`
	IsActive        bool        `json:"is_active"`
	Conditions      []Condition `json:"conditions" validate:"dive"`
	Actions         []Action    `json:"actions" validate:"min=1,dive"`
	ScopeTags       []ScopeTag  `json:"scope_tags,omitempty" validate:"dive"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// SortedActions возвращает копию действий, отсортированную по SortOrder.
func (r *Rule) SortedActions() []Action {
	out := make([]Action, len(r.Actions))
	copy(out, r.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Condition — условие правила.
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value,omitempty"`

	// LogicalGroup — условия одной группы объединяются AND, группы — OR.
	LogicalGroup int `json:"logical_group"`
}

// Action — действие правила.
type Action struct {
	ActionType  ActionType `json:"action_type" validate:"required"`
	TargetField string     `json:"target_field,omitempty"`
	Value       any        `json:"value,omitempty"`
	SortOrder   int        `json:"sort_order"`
}

// ScopeTag — измерение scope, при котором правило применяется.
// Value "*" совпадает с любым значением измерения.
type ScopeTag struct {
	Dimension string `json:"dimension" validate:"required"`
	Value     string `json:"value" validate:"required"`
}

// Operator — оператор условия.
type Operator string

// Операторы условий.
const (
	OpEq         Operator = "=="
	OpNeq        Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpContains   Operator = "contains"
	OpNotContain Operator = "not_contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpIsNull     Operator = "is_null"
	OpIsNotNull  Operator = "is_not_null"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
	OpBetween    Operator = "between"
	OpRegex      Operator = "regex"
)

// AllOperators — закрытое перечисление операторов.
var AllOperators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
	OpContains, OpNotContain, OpStartsWith, OpEndsWith,
	OpIn, OpNotIn, OpIsNull, OpIsNotNull, OpIsEmpty, OpIsNotEmpty,
	OpBetween, OpRegex,
}

// Valid возвращает true для известных операторов.
func (o Operator) Valid() bool {
	for _, known := range AllOperators {
		if o == known {
			return true
		}
	}
	return false
}

// ActionType — тип действия правила.
type ActionType string

// Типы действий.
const (
	ActionSet       ActionType = "set"
	ActionSetValue  ActionType = "set_value"
	ActionAdd       ActionType = "add"
	ActionIncrement ActionType = "increment"
	ActionSubtract  ActionType = "subtract"
	ActionDecrement ActionType = "decrement"
	ActionMultiply  ActionType = "multiply"
	ActionDivide    ActionType = "divide"
	ActionSurcharge ActionType = "surcharge"
	ActionDiscount  ActionType = "discount"
	ActionReject    ActionType = "reject"
	ActionFlag      ActionType = "flag"
	ActionSkipStep  ActionType = "skip_step"
	ActionCopyField ActionType = "copy_field"
	ActionAppend    ActionType = "append"
)

// AllActionTypes — закрытое перечисление действий.
var AllActionTypes = []ActionType{
	ActionSet, ActionSetValue, ActionAdd, ActionIncrement, ActionSubtract, ActionDecrement,
	ActionMultiply, ActionDivide, ActionSurcharge, ActionDiscount, ActionReject,
	ActionFlag, ActionSkipStep, ActionCopyField, ActionAppend,
}

// Valid возвращает true для известных действий.
func (a ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if a == known {
			return true
		}
	}
	return false
}
