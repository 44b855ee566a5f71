package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// Исходы маппинга поля.
const (
	OutcomeMapped    = "mapped"
	OutcomeDefaulted = "defaulted"
	OutcomeOmitted   = "omitted"
)

// FieldResult — результат маппинга одного поля.
type FieldResult struct {
	TargetPath string `json:"target_path"`
	Outcome    string `json:"outcome"`
	Warning    string `json:"warning,omitempty"`
}

// Result — результат ApplyMappings.
type Result struct {
	Fields []FieldResult `json:"fields"`
}

// Count возвращает количество полей с данным исходом.
func (r *Result) Count(outcome string) int {
	n := 0
	for _, f := range r.Fields {
		if f.Outcome == outcome {
			n++
		}
	}
	return n
}

// ApplyMappings применяет маппинги полей: читает из src, пишет в dst.
//
// Политика на уровне поля:
//   - skip_mapping — поле пропускается или получает default_value (skip_behavior)
//   - ошибка трансформации с default_value — подставляется default_value
//   - ошибка обязательного поля без default_value — ошибка маппинга, шаг падает
//   - ошибка необязательного поля без default_value — поле пропускается
//
// ConfigError (неизвестный тип, custom без обработчика) всегда фатальна.
func (e *Engine) ApplyMappings(fields []domain.FieldMapping, src, dst map[string]any) (*Result, error) {
	ordered := make([]domain.FieldMapping, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })

	result := &Result{Fields: make([]FieldResult, 0, len(ordered))}

	for i := range ordered {
		f := &ordered[i]

		fr, err := e.applyField(f, src, dst)
		if err != nil {
			return result, err
		}
		result.Fields = append(result.Fields, fr)
	}

	return result, nil
}

func (e *Engine) applyField(f *domain.FieldMapping, src, dst map[string]any) (FieldResult, error) {
	fr := FieldResult{TargetPath: f.TargetPath}

	if f.SkipMapping {
		if f.SkipBehavior == domain.SkipDefault && f.HasDefault() {
			return e.setDefault(f, dst, fr, "")
		}
		fr.Outcome = OutcomeOmitted
		return fr, nil
	}

	t := f.Type()

	var source any
	found := false
	if f.SourcePath != "" {
		source, found = engine.Get(src, f.SourcePath)
		if found && source == nil {
			found = false
		}
	}

	if NeedsSource(t) && !found {
		return e.recoverField(f, dst, fr, domain.NewMappingError(f.SourcePath, "source value is missing", nil))
	}

	value, err := e.Transform(t, f.TransformConfig, source, src)
	if err != nil {
		if domain.KindOf(err) == domain.KindConfig {
			return fr, fmt.Errorf("field %s: %w", f.TargetPath, err)
		}
		return e.recoverField(f, dst, fr, err)
	}

	if err := engine.Set(dst, f.TargetPath, value); err != nil {
		return fr, domain.NewMappingError(f.TargetPath, "cannot write target", err)
	}
	fr.Outcome = OutcomeMapped
	return fr, nil
}

// recoverField применяет политику ошибок поля.
func (e *Engine) recoverField(f *domain.FieldMapping, dst map[string]any, fr FieldResult, cause error) (FieldResult, error) {
	if f.HasDefault() {
		return e.setDefault(f, dst, fr, cause.Error())
	}
	if f.IsRequired {
		var se *domain.StepError
		if errors.As(cause, &se) && se.Kind == domain.KindMapping {
			return fr, cause
		}
		return fr, domain.NewMappingError(f.TargetPath, "required field failed: "+cause.Error(), cause)
	}
	fr.Outcome = OutcomeOmitted
	fr.Warning = cause.Error()
	return fr, nil
}

func (e *Engine) setDefault(f *domain.FieldMapping, dst map[string]any, fr FieldResult, warning string) (FieldResult, error) {
	if err := engine.Set(dst, f.TargetPath, engine.CloneValue(f.DefaultValue)); err != nil {
		return fr, domain.NewMappingError(f.TargetPath, "cannot write target", err)
	}
	fr.Outcome = OutcomeDefaulted
	fr.Warning = warning
	return fr, nil
}
