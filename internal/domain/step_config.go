package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate — общий валидатор конфигураций. Имена полей в ошибках берутся из json-тегов.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validator возвращает общий экземпляр validator.Validate.
func Validator() *validator.Validate {
	return validate
}

// StepConfig — типизированная конфигурация шага.
//
// Каждый тип шага имеет свою структуру; DecodeStepConfig превращает
// map из БД в нужный вариант и валидирует его.
type StepConfig interface {
	StepType() StepType
}

// ValidateRequestConfig — конфигурация validate_request.
//
//	{"schema": {...JSON Schema...}, "required_fields": ["policy.state"]}
type ValidateRequestConfig struct {
	Schema         map[string]any `json:"schema,omitempty" validate:"required_without=RequiredFields"`
	RequiredFields []string       `json:"required_fields,omitempty" validate:"omitempty,dive,required"`
}

func (ValidateRequestConfig) StepType() StepType { return StepValidateRequest }

// FieldMappingConfig — конфигурация field_mapping.
//
// Поля берутся из сохранённого Mapping (по mapping_id или по direction
// для продукта) либо задаются inline в fields.
type FieldMappingConfig struct {
	Direction MappingDirection `json:"direction,omitempty" validate:"omitempty,oneof=request response"`
	MappingID *uuid.UUID       `json:"mapping_id,omitempty"`
	Fields    []FieldMapping   `json:"fields,omitempty" validate:"omitempty,dive"`

	// Mode — merge (по умолчанию) пишет поверх рабочего документа,
	// replace строит новый документ только из целевых полей.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=merge replace"`
}

func (FieldMappingConfig) StepType() StepType { return StepFieldMapping }

// ApplyRulesConfig — конфигурация apply_rules.
// Пустой rule_ids — все правила продукта.
type ApplyRulesConfig struct {
	RuleIDs []uuid.UUID `json:"rule_ids,omitempty"`
}

func (ApplyRulesConfig) StepType() StepType { return StepApplyRules }

// FormatTransformConfig — конфигурация format_transform.
type FormatTransformConfig struct {
	Format      string         `json:"format" validate:"required,oneof=json xml"`
	SourcePath  string         `json:"source_path,omitempty"`
	TargetPath  string         `json:"target_path,omitempty"`
	RootElement string         `json:"root_element,omitempty"`
	Envelope    bool           `json:"envelope,omitempty"`
	Fields      []FieldMapping `json:"fields,omitempty" validate:"omitempty,dive"`
}

func (FormatTransformConfig) StepType() StepType { return StepFormatTransform }

// HTTPCallConfig — общая часть конфигурации внешних HTTP вызовов.
type HTTPCallConfig struct {
	// Mode — "http" (по умолчанию) или "mock".
	Mode    string            `json:"mode,omitempty" validate:"omitempty,oneof=http mock"`
	URL     string            `json:"url,omitempty" validate:"required_unless=Mode mock,omitempty,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`

	// RequestPath — поддерево документа, отправляемое в body. Пусто — весь документ.
	RequestPath string `json:"request_path,omitempty"`

	// ResponsePath — куда положить ответ. Пусто — слить в корень документа.
	ResponsePath string `json:"response_path,omitempty"`

	// MockResponse — ответ для mode=mock.
	MockResponse map[string]any `json:"mock_response,omitempty"`

	TimeoutMs int          `json:"timeout_ms,omitempty" validate:"gte=0"`
	Retry     *RetryPolicy `json:"retry,omitempty"`
}

// CallRatingEngineConfig — конфигурация call_rating_engine.
type CallRatingEngineConfig struct {
	HTTPCallConfig

	// Premium — премия, которую возвращает mock движок.
	Premium *float64 `json:"premium,omitempty"`

	// PremiumField — путь премии в документе после вызова. По умолчанию "premium".
	PremiumField string `json:"premium_field,omitempty"`
}

func (CallRatingEngineConfig) StepType() StepType { return StepCallRatingEngine }

// CallExternalAPIConfig — конфигурация call_external_api.
type CallExternalAPIConfig struct {
	HTTPCallConfig
}

func (CallExternalAPIConfig) StepType() StepType { return StepCallExternalAPI }

// CallOrchestratorConfig — вызов flow другого продукта (in-process) или удалённого оркестратора.
type CallOrchestratorConfig struct {
	ProductLineCode string       `json:"product_line_code,omitempty" validate:"required_without=URL"`
	EndpointPath    string       `json:"endpoint_path,omitempty"`
	URL             string       `json:"url,omitempty" validate:"omitempty,url"`
	RequestPath     string       `json:"request_path,omitempty"`
	ResponsePath    string       `json:"response_path,omitempty"`
	TimeoutMs       int          `json:"timeout_ms,omitempty" validate:"gte=0"`
	Retry           *RetryPolicy `json:"retry,omitempty"`
}

func (CallOrchestratorConfig) StepType() StepType { return StepCallOrchestrator }

// PublishEventConfig — публикация события в брокер.
type PublishEventConfig struct {
	RoutingKey  string `json:"routing_key" validate:"required"`
	EventType   string `json:"event_type,omitempty"`
	PayloadPath string `json:"payload_path,omitempty"`
}

func (PublishEventConfig) StepType() StepType { return StepPublishEvent }

// EnrichConfig — слияние данных из lookup-таблицы.
type EnrichConfig struct {
	TableKey   string `json:"table_key" validate:"required"`
	KeyPath    string `json:"key_path" validate:"required"`
	TargetPath string `json:"target_path" validate:"required"`
	Merge      bool   `json:"merge,omitempty"`
	Required   bool   `json:"required,omitempty"`
}

func (EnrichConfig) StepType() StepType { return StepEnrich }

// GenerateValueConfig — генерация значения (uuid, ksuid, timestamp, date).
type GenerateValueConfig struct {
	Generator   string `json:"generator" validate:"required,oneof=uuid ksuid timestamp date"`
	TargetPath  string `json:"target_path" validate:"required"`
	Format      string `json:"format,omitempty"`
	OnlyIfEmpty bool   `json:"only_if_empty,omitempty"`
}

func (GenerateValueConfig) StepType() StepType { return StepGenerateValue }

// Assignment — присваивание результата выражения полю документа.
type Assignment struct {
	Target     string `json:"target" validate:"required"`
	Expression string `json:"expression" validate:"required"`
}

// RunCustomFlowConfig — запуск именованного под-flow или списка присваиваний.
type RunCustomFlowConfig struct {
	FlowName    string       `json:"flow_name,omitempty" validate:"required_without=Assignments"`
	Assignments []Assignment `json:"assignments,omitempty" validate:"omitempty,dive"`
}

func (RunCustomFlowConfig) StepType() StepType { return StepRunCustomFlow }

// newStepConfig возвращает пустую структуру конфигурации для типа.
func newStepConfig(t StepType) (StepConfig, error) {
	switch t {
	case StepValidateRequest:
		return &ValidateRequestConfig{}, nil
	case StepFieldMapping:
		return &FieldMappingConfig{}, nil
	case StepApplyRules:
		return &ApplyRulesConfig{}, nil
	case StepFormatTransform:
		return &FormatTransformConfig{}, nil
	case StepCallRatingEngine:
		return &CallRatingEngineConfig{}, nil
	case StepCallExternalAPI:
		return &CallExternalAPIConfig{}, nil
	case StepCallOrchestrator:
		return &CallOrchestratorConfig{}, nil
	case StepPublishEvent:
		return &PublishEventConfig{}, nil
	case StepEnrich:
		return &EnrichConfig{}, nil
	case StepGenerateValue:
		return &GenerateValueConfig{}, nil
	case StepRunCustomFlow:
		return &RunCustomFlowConfig{}, nil
	default:
		return nil, NewConfigError("step_type", fmt.Sprintf("unknown step type %q", t))
	}
}

// DecodeStepConfig декодирует и валидирует конфигурацию шага.
// Любая ошибка — ConfigError.
func DecodeStepConfig(t StepType, raw map[string]any) (StepConfig, error) {
	cfg, err := newStepConfig(t)
	if err != nil {
		return nil, err
	}

	if raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, NewConfigError("config", "marshal config: "+err.Error())
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, NewConfigError("config", fmt.Sprintf("decode %s config: %v", t, err))
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, NewConfigError("config", describeValidation(t, err))
	}

	if fm, ok := cfg.(*FieldMappingConfig); ok {
		if fm.Direction == "" && fm.MappingID == nil && len(fm.Fields) == 0 {
			return nil, NewConfigError("config", "field_mapping requires direction, mapping_id or fields")
		}
	}

	return cfg, nil
}

// DecodeStepConfigAs декодирует конфигурацию в конкретный тип.
func DecodeStepConfigAs[T StepConfig](step *Step) (T, error) {
	var zero T
	cfg, err := DecodeStepConfig(step.StepType, step.Config)
	if err != nil {
		return zero, err
	}
	typed, ok := any(cfg).(T)
	if !ok {
		return zero, NewConfigError("config", fmt.Sprintf("step %s: config type mismatch %T", step.Name, cfg))
	}
	return typed, nil
}

// describeValidation превращает ошибки validator в короткое сообщение.
func describeValidation(t StepType, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Sprintf("%s config: %v", t, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Sprintf("%s config: %s", t, strings.Join(parts, "; "))
}
