package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind — категория ошибки шага.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindMapping        ErrorKind = "mapping"
	KindRuleEvaluation ErrorKind = "rule_evaluation"
	KindRuleRejected   ErrorKind = "rule_rejected"
	KindTransform      ErrorKind = "transform"
	KindExternalCall   ErrorKind = "external_call"
	KindConfig         ErrorKind = "config"
	KindCancelled      ErrorKind = "cancelled"
)

// Sentinel-ошибки по категориям. StepError.Is сравнивает по Kind,
// поэтому errors.Is(err, ErrMapping) работает для любой ошибки маппинга.
var (
	ErrValidation     = errors.New("validation failed")
	ErrMapping        = errors.New("mapping failed")
	ErrRuleEvaluation = errors.New("rule evaluation failed")
	ErrRuleRejected   = errors.New("rejected by rule")
	ErrTransform      = errors.New("transform failed")
	ErrExternalCall   = errors.New("external call failed")
	ErrConfig         = errors.New("invalid configuration")
	ErrCancelled      = errors.New("transaction cancelled")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:     ErrValidation,
	KindMapping:        ErrMapping,
	KindRuleEvaluation: ErrRuleEvaluation,
	KindRuleRejected:   ErrRuleRejected,
	KindTransform:      ErrTransform,
	KindExternalCall:   ErrExternalCall,
	KindConfig:         ErrConfig,
	KindCancelled:      ErrCancelled,
}

// StepError — ошибка шага с категорией и контекстом.
type StepError struct {
	Kind    ErrorKind // категория
	Field   string    // путь поля, если ошибка относится к полю
	Message string    // описание
	Err     error     // базовая ошибка
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap возвращает базовую ошибку.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с sentinel-значением её категории.
func (e *StepError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewStepError создаёт ошибку шага.
func NewStepError(kind ErrorKind, field, message string, err error) *StepError {
	return &StepError{Kind: kind, Field: field, Message: message, Err: err}
}

// NewConfigError создаёт ошибку конфигурации.
func NewConfigError(field, message string) *StepError {
	return &StepError{Kind: KindConfig, Field: field, Message: message}
}

// NewTransformError создаёт ошибку трансформации поля.
func NewTransformError(field, message string) *StepError {
	return &StepError{Kind: KindTransform, Field: field, Message: message}
}

// NewMappingError создаёт ошибку маппинга.
func NewMappingError(field, message string, err error) *StepError {
	return &StepError{Kind: KindMapping, Field: field, Message: message, Err: err}
}

// KindOf возвращает категорию ошибки. Ошибки без категории считаются KindTransform,
// отмена контекста — KindCancelled.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindTransform
}

// IsFieldError возвращает true для ошибок, которые можно восстановить на уровне поля.
func IsFieldError(err error) bool {
	switch KindOf(err) {
	case KindTransform, KindMapping:
		return true
	default:
		return false
	}
}
