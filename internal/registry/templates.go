package registry

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/ratingflow/internal/domain"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Template — встроенный шаблон flow.
type Template struct {
	Format string         `yaml:"format"`
	Name   string         `yaml:"name"`
	Steps  []TemplateStep `yaml:"steps"`
}

// TemplateStep — шаг шаблона.
type TemplateStep struct {
	Name         string              `yaml:"name"`
	StepType     domain.StepType     `yaml:"step_type"`
	Config       map[string]any      `yaml:"config"`
	RunCondition string              `yaml:"run_condition"`
	Activity     domain.StepActivity `yaml:"activity"`
	IteratePath  string              `yaml:"iterate_path"`
	Inactive     bool                `yaml:"inactive"`
}

// GenerateOptions — параметры AutoGenerate.
type GenerateOptions struct {
	// EngineURL — адрес рейтингового движка. Пусто — call_rating_engine в режиме mock.
	EngineURL string

	// Name — имя flow. Пусто — имя шаблона.
	Name string

	// Activate — сразу перевести flow в active.
	Activate bool
}

// LoadTemplates читает встроенные шаблоны, ключ — формат.
func LoadTemplates() (map[string]Template, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	out := make(map[string]Template, len(entries))
	for _, e := range entries {
		data, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", e.Name(), err)
		}
		out[normalizeFormat(t.Format)] = t
	}
	return out, nil
}

// TemplateFormats возвращает доступные форматы по алфавиту.
func TemplateFormats() []string {
	templates, err := LoadTemplates()
	if err != nil {
		return nil
	}
	formats := make([]string, 0, len(templates))
	for f := range templates {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// AutoGenerate создаёт flow из встроенного шаблона для формата (xml или json).
func (r *Registry) AutoGenerate(ctx context.Context, productLineCode, endpointPath, format string, opts GenerateOptions) (*domain.Flow, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}
	tmpl, ok := templates[normalizeFormat(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, format)
	}

	flow := &domain.Flow{
		ProductLineCode: productLineCode,
		EndpointPath:    endpointPath,
		Name:            opts.Name,
		Status:          domain.FlowStatusDraft,
	}
	if flow.Name == "" {
		flow.Name = productLineCode + " " + tmpl.Name
	}
	if opts.Activate {
		flow.Status = domain.FlowStatusActive
	}

	for i, ts := range tmpl.Steps {
		step := domain.Step{
			StepOrder:    i + 1,
			StepType:     ts.StepType,
			Name:         ts.Name,
			Config:       normalizeYAML(ts.Config),
			IsActive:     !ts.Inactive,
			RunCondition: ts.RunCondition,
			Activity:     ts.Activity,
			IteratePath:  ts.IteratePath,
		}
		if step.Config == nil {
			step.Config = map[string]any{}
		}
		if ts.StepType == domain.StepCallRatingEngine && opts.EngineURL != "" {
			step.Config["mode"] = "http"
			step.Config["url"] = opts.EngineURL
		}
		flow.Steps = append(flow.Steps, step)
	}

	if err := r.CreateFlow(ctx, flow); err != nil {
		return nil, err
	}
	r.logger.Info("flow generated from template", "format", tmpl.Format, "flow_id", flow.ID)
	return flow, nil
}

// normalizeYAML приводит значения yaml.v3 к виду encoding/json
// (map[string]any, []any, float64).
func normalizeYAML(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAML(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAMLValue(e)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
