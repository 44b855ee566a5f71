package domain

import (
	"time"

	"github.com/google/uuid"
)

// MappingDirection — направление маппинга.
type MappingDirection string

const (
	// DirectionRequest — из входящего запроса в формат целевой системы.
	DirectionRequest MappingDirection = "request"

	// DirectionResponse — из ответа целевой системы в ответ клиенту.
	DirectionResponse MappingDirection = "response"
)

// Mapping — набор правил преобразования полей для продукта и направления.
type Mapping struct {
	ID              uuid.UUID        `json:"id"`
	ProductLineCode string           `json:"product_line_code" validate:"required"`
	Direction       MappingDirection `json:"direction" validate:"required,oneof=request response"`
	Name            string           `json:"name" validate:"required"`
	Fields          []FieldMapping   `json:"fields" validate:"dive"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SkipBehavior — что делать с полем при SkipMapping.
type SkipBehavior string

const (
	// SkipOmit — поле не попадает в результат.
	SkipOmit SkipBehavior = "omit"

	// SkipDefault — в результат пишется DefaultValue.
	SkipDefault SkipBehavior = "default"
)

// FieldMapping — правило преобразования одного поля.
type FieldMapping struct {
	ID                 uuid.UUID          `json:"id,omitempty"`
	SourcePath         string             `json:"source_path,omitempty"`
	TargetPath         string             `json:"target_path" validate:"required"`
	TransformationType TransformationType `json:"transformation_type,omitempty"`
	TransformConfig    map[string]any     `json:"transform_config,omitempty"`
	IsRequired         bool               `json:"is_required,omitempty"`

	// DefaultValue — nil означает «значения по умолчанию нет».
	DefaultValue any `json:"default_value,omitempty"`

	SortOrder    int          `json:"sort_order,omitempty"`
	SkipMapping  bool         `json:"skip_mapping,omitempty"`
	SkipBehavior SkipBehavior `json:"skip_behavior,omitempty" validate:"omitempty,oneof=omit default"`
}

// HasDefault возвращает true, если задано значение по умолчанию.
func (f *FieldMapping) HasDefault() bool {
	return f.DefaultValue != nil
}

// Type возвращает тип трансформации; пустой тип означает direct.
func (f *FieldMapping) Type() TransformationType {
	if f.TransformationType == "" {
		return TransformDirect
	}
	return f.TransformationType
}

// TransformationType — тип трансформации поля.
type TransformationType string

// Типы трансформаций.
const (
	TransformDirect       TransformationType = "direct"
	TransformConstant     TransformationType = "constant"
	TransformLookup       TransformationType = "lookup"
	TransformMultiply     TransformationType = "multiply"
	TransformDivide       TransformationType = "divide"
	TransformRound        TransformationType = "round"
	TransformPerUnit      TransformationType = "per_unit"
	TransformDate         TransformationType = "date"
	TransformNumberFormat TransformationType = "number_format"
	TransformBoolean      TransformationType = "boolean"
	TransformConcatenate  TransformationType = "concatenate"
	TransformSplit        TransformationType = "split"
	TransformAggregate    TransformationType = "aggregate"
	TransformExpression   TransformationType = "expression"
	TransformConditional  TransformationType = "conditional"
	TransformDefault      TransformationType = "default"
	TransformCustom       TransformationType = "custom"
)

// AllTransformationTypes — закрытое перечисление типов трансформаций.
var AllTransformationTypes = []TransformationType{
	TransformDirect,
	TransformConstant,
	TransformLookup,
	TransformMultiply,
	TransformDivide,
	TransformRound,
	TransformPerUnit,
	TransformDate,
	TransformNumberFormat,
	TransformBoolean,
	TransformConcatenate,
	TransformSplit,
	TransformAggregate,
	TransformExpression,
	TransformConditional,
	TransformDefault,
	TransformCustom,
}

// Valid возвращает true для известных типов.
func (t TransformationType) Valid() bool {
	for _, known := range AllTransformationTypes {
		if t == known {
			return true
		}
	}
	return false
}
