package engine

import (
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
)

// ValidateFlow выполняет полную валидацию шагов flow.
//
// Проверяет:
// - Наличие шагов
// - Уникальность имён и step_order
// - Корректность типов шагов и их конфигурации
// - Разбор run_condition и выражений в inline маппингах
//
// Ошибки конфигурации находятся здесь, при сохранении, а не во время рейтинга.
func ValidateFlow(flow *domain.Flow) error {
	if flow == nil || len(flow.Steps) == 0 {
		return ErrEmptySteps
	}

	names := make(map[string]bool)
	orders := make(map[int]bool)

	for i := range flow.Steps {
		step := &flow.Steps[i]

		if err := ValidateStep(step); err != nil {
			return err
		}

		if names[step.Name] {
			return NewValidationError(step.Name, "name",
				fmt.Sprintf("duplicate step name: %s", step.Name), ErrDuplicateStepName)
		}
		names[step.Name] = true

		if orders[step.StepOrder] {
			return NewValidationError(step.Name, "step_order",
				fmt.Sprintf("duplicate step order: %d", step.StepOrder), ErrDuplicateStepOrder)
		}
		orders[step.StepOrder] = true
	}

	return nil
}

// ValidateStep валидирует один шаг.
func ValidateStep(step *domain.Step) error {
	if step.Name == "" {
		return NewValidationError("", "name", "step has empty name", ErrEmptyStepName)
	}

	if !step.StepType.Valid() {
		return NewValidationError(step.Name, "step_type",
			fmt.Sprintf("unknown step type: %s", step.StepType), fmt.Errorf("%w: %w", ErrUnknownStepType, domain.ErrConfig))
	}

	cfg, err := domain.DecodeStepConfig(step.StepType, step.Config)
	if err != nil {
		return NewValidationError(step.Name, "config", err.Error(), fmt.Errorf("%w: %w", ErrInvalidStepConfig, err))
	}

	if step.RunCondition != "" {
		if _, err := Compile(step.RunCondition); err != nil {
			return NewValidationError(step.Name, "run_condition", err.Error(), configErr(err))
		}
	}

	switch step.Activity {
	case "", domain.ActivityOneTime:
	case domain.ActivityIterative:
		if step.IteratePath == "" {
			return NewValidationError(step.Name, "iterate_path",
				"iterative step has no iterate_path", configErr(ErrMissingIteratePath))
		}
	default:
		return NewValidationError(step.Name, "activity",
			fmt.Sprintf("unknown activity: %s", step.Activity), configErr(ErrInvalidStepConfig))
	}

	switch c := cfg.(type) {
	case *domain.FieldMappingConfig:
		if err := ValidateFieldMappings(c.Fields); err != nil {
			return NewValidationError(step.Name, "config.fields", err.Error(), err)
		}
	case *domain.FormatTransformConfig:
		if err := ValidateFieldMappings(c.Fields); err != nil {
			return NewValidationError(step.Name, "config.fields", err.Error(), err)
		}
	case *domain.RunCustomFlowConfig:
		for _, a := range c.Assignments {
			if _, err := Compile(a.Expression); err != nil {
				return NewValidationError(step.Name, "config.assignments",
					fmt.Sprintf("%s: %v", a.Target, err), configErr(err))
			}
		}
	}

	return nil
}

// ValidateFieldMappings проверяет типы трансформаций и выражения в маппингах.
func ValidateFieldMappings(fields []domain.FieldMapping) error {
	for i := range fields {
		f := &fields[i]

		if f.TargetPath == "" {
			return configErr(fmt.Errorf("%w: field %d has empty target_path", ErrInvalidPath, i))
		}
		if _, err := parsePath(f.TargetPath); err != nil {
			return configErr(err)
		}

		t := f.Type()
		if !t.Valid() {
			return configErr(fmt.Errorf("%w: %s (target %s)", ErrUnknownTransformation, t, f.TargetPath))
		}

		switch t {
		case domain.TransformExpression:
			src, _ := f.TransformConfig["expression"].(string)
			if _, err := Compile(src); err != nil {
				return configErr(fmt.Errorf("target %s: %w", f.TargetPath, err))
			}
		case domain.TransformConditional:
			branches, _ := f.TransformConfig["branches"].([]any)
			for _, b := range branches {
				bm, _ := b.(map[string]any)
				when, _ := bm["when"].(string)
				if _, err := Compile(when); err != nil {
					return configErr(fmt.Errorf("target %s: %w", f.TargetPath, err))
				}
			}
		case domain.TransformLookup:
			if key, _ := f.TransformConfig["table_key"].(string); key == "" {
				return configErr(fmt.Errorf("%w: lookup for %s has no table_key", ErrInvalidStepConfig, f.TargetPath))
			}
		}
	}
	return nil
}

// configErr помечает ошибку как ConfigError.
func configErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrConfig, err)
}
