package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// ValidateRequestHandler — шаг validate_request.
//
// Проверяет документ по JSON Schema и списку обязательных полей.
// Конфигурация:
//
//	{
//	    "schema": {"type": "object", "required": ["policy"]},
//	    "required_fields": ["policy.state", "coverage.limit"]
//	}
type ValidateRequestHandler struct{}

// NewValidateRequestHandler создаёт ValidateRequestHandler.
func NewValidateRequestHandler() *ValidateRequestHandler {
	return &ValidateRequestHandler{}
}

// Type возвращает тип шага.
func (h *ValidateRequestHandler) Type() domain.StepType {
	return domain.StepValidateRequest
}

// Execute проверяет документ. Документ не меняется.
func (h *ValidateRequestHandler) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.ValidateRequestConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	var problems []string
	firstField := ""
	addProblem := func(field, msg string) {
		if firstField == "" {
			firstField = field
		}
		problems = append(problems, fmt.Sprintf("%s: %s", field, msg))
	}

	for _, path := range cfg.RequiredFields {
		v, found := engine.Get(req.Doc, path)
		if !found || engine.IsEmpty(v) {
			addProblem(path, "is required")
		}
	}

	if len(cfg.Schema) > 0 {
		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(cfg.Schema),
			gojsonschema.NewGoLoader(req.Doc),
		)
		if err != nil {
			return nil, domain.NewStepError(domain.KindConfig, "schema", "invalid JSON schema", err)
		}
		for _, re := range result.Errors() {
			addProblem(re.Field(), re.Description())
		}
	}

	if len(problems) > 0 {
		return nil, domain.NewStepError(domain.KindValidation, firstField, strings.Join(problems, "; "), nil)
	}

	return NewResponse(nil, map[string]any{
		"valid":           true,
		"required_fields": len(cfg.RequiredFields),
	}), nil
}

// configMismatch — executor передал конфигурацию не того типа.
func configMismatch(req *Request) error {
	name := ""
	if req.Step != nil {
		name = req.Step.Name
	}
	return domain.NewConfigError("config", fmt.Sprintf("step %s: unexpected config %T", name, req.Config))
}
