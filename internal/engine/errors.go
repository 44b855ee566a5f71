package engine

import "errors"

// Ошибки валидации flow.
var (
	// ErrEmptySteps — flow не содержит шагов.
	ErrEmptySteps = errors.New("flow has no steps")

	// ErrEmptyStepName — шаг не имеет имени.
	ErrEmptyStepName = errors.New("step has empty name")

	// ErrDuplicateStepName — несколько шагов с одинаковым именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrDuplicateStepOrder — несколько шагов с одинаковым step_order.
	ErrDuplicateStepOrder = errors.New("duplicate step order")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrUnknownTransformation — неизвестный тип трансформации.
	ErrUnknownTransformation = errors.New("unknown transformation type")

	// ErrInvalidStepConfig — конфигурация шага не прошла проверку.
	ErrInvalidStepConfig = errors.New("invalid step config")

	// ErrMissingIteratePath — iterative шаг без iterate_path.
	ErrMissingIteratePath = errors.New("iterative step has no iterate_path")
)

// Ошибки путей и выражений.
var (
	// ErrInvalidPath — некорректный путь к полю.
	ErrInvalidPath = errors.New("invalid field path")

	// ErrExpressionSyntax — выражение не разбирается.
	ErrExpressionSyntax = errors.New("expression syntax error")

	// ErrExpressionEval — ошибка вычисления выражения.
	ErrExpressionEval = errors.New("expression evaluation failed")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepName string // имя шага, где произошла ошибка
	Field    string // поле, вызвавшее ошибку
	Message  string // описание ошибки
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepName != "" {
		return "step " + e.StepName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepName, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepName: stepName,
		Field:    field,
		Message:  message,
		Err:      err,
	}
}
