package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/transform"
)

// FieldMappingHandler — шаг field_mapping.
//
// Поля берутся в порядке приоритета: inline fields, mapping_id,
// сохранённый Mapping продукта для direction.
type FieldMappingHandler struct {
	engine   *transform.Engine
	mappings MappingSource
}

// NewFieldMappingHandler создаёт FieldMappingHandler.
func NewFieldMappingHandler(eng *transform.Engine, mappings MappingSource) *FieldMappingHandler {
	if eng == nil {
		eng = transform.New(nil)
	}
	return &FieldMappingHandler{engine: eng, mappings: mappings}
}

// Type возвращает тип шага.
func (h *FieldMappingHandler) Type() domain.StepType {
	return domain.StepFieldMapping
}

// Execute применяет маппинги к документу.
//
// Источник — снимок документа до шага, поэтому поля, записанные шагом,
// не влияют на чтение следующих полей.
func (h *FieldMappingHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.FieldMappingConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	fields, source, err := h.resolveFields(ctx, cfg, req.Run)
	if err != nil {
		return nil, err
	}

	src := engine.Clone(req.Doc)
	dst := req.Doc
	if cfg.Mode == "replace" {
		dst = make(map[string]any)
	}

	result, err := h.engine.ApplyMappings(fields, src, dst)
	if err != nil {
		return nil, err
	}

	output := map[string]any{
		"source":    source,
		"mapped":    result.Count(transform.OutcomeMapped),
		"defaulted": result.Count(transform.OutcomeDefaulted),
		"omitted":   result.Count(transform.OutcomeOmitted),
	}
	var warnings []string
	for _, f := range result.Fields {
		if f.Warning != "" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", f.TargetPath, f.Warning))
		}
	}
	if len(warnings) > 0 {
		output["warnings"] = warnings
	}

	return NewResponse(dst, output), nil
}

// resolveFields выбирает набор полей и описывает его источник.
func (h *FieldMappingHandler) resolveFields(ctx context.Context, cfg *domain.FieldMappingConfig, run *RunState) ([]domain.FieldMapping, string, error) {
	if len(cfg.Fields) > 0 {
		return cfg.Fields, "inline", nil
	}
	if h.mappings == nil {
		return nil, "", domain.NewStepError(domain.KindConfig, "mapping_id", "no mapping store configured", ErrMissingDependency)
	}

	if cfg.MappingID != nil {
		m, err := h.mappings.GetMapping(ctx, *cfg.MappingID)
		if err != nil {
			return nil, "", domain.NewStepError(domain.KindConfig, "mapping_id", fmt.Sprintf("mapping %s", cfg.MappingID), err)
		}
		return m.Fields, "mapping:" + m.Name, nil
	}

	code := ""
	if run != nil {
		code = run.ProductLineCode
	}
	m, err := h.mappings.FindMapping(ctx, code, cfg.Direction)
	if err != nil {
		return nil, "", domain.NewStepError(domain.KindConfig, "direction",
			fmt.Sprintf("no %s mapping for product %s", cfg.Direction, code), err)
	}
	return m.Fields, "mapping:" + m.Name, nil
}
