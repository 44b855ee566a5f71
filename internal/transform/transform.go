package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// ErrNoMatch — ни одна ветка conditional/default не дала значения.
// ApplyMappings подставляет DefaultValue поля.
var ErrNoMatch = errors.New("no branch matched")

// LookupSource — источник lookup-таблиц.
type LookupSource interface {
	Lookup(tableKey, key string) (any, bool)
}

// CustomFunc — обработчик трансформации custom.
type CustomFunc func(config map[string]any, source any, doc map[string]any) (any, error)

// Engine — Transformation Engine.
//
// Чистый и без состояния, кроме реестра custom-обработчиков.
// Безопасен для конкурентного использования.
type Engine struct {
	lookups LookupSource

	mu     sync.RWMutex
	custom map[string]CustomFunc
}

// New создаёт Engine. lookups может быть nil, тогда lookup-трансформации падают.
func New(lookups LookupSource) *Engine {
	return &Engine{
		lookups: lookups,
		custom:  make(map[string]CustomFunc),
	}
}

// RegisterCustom регистрирует обработчик для transform_config.handler == name.
func (e *Engine) RegisterCustom(name string, fn CustomFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

// NeedsSource возвращает false для типов, которые не читают исходное значение.
func NeedsSource(t domain.TransformationType) bool {
	switch t {
	case domain.TransformConstant, domain.TransformExpression, domain.TransformConditional,
		domain.TransformDefault, domain.TransformConcatenate, domain.TransformAggregate,
		domain.TransformCustom:
		return false
	default:
		return true
	}
}

// Transform применяет трансформацию к значению.
//
// Неизвестный тип — ConfigError. Ошибки значений (нечисловой ввод,
// деление на ноль, неразбираемая дата) — TransformError.
func (e *Engine) Transform(t domain.TransformationType, cfg map[string]any, source any, doc map[string]any) (any, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}

	switch t {
	case domain.TransformDirect, "":
		return source, nil

	case domain.TransformConstant:
		return engine.CloneValue(cfg["value"]), nil

	case domain.TransformLookup:
		return e.lookup(cfg, source)

	case domain.TransformMultiply:
		return arithmetic(cfg, source, "factor", func(x, f float64) (float64, error) { return x * f, nil })

	case domain.TransformDivide:
		return arithmetic(cfg, source, "divisor", func(x, d float64) (float64, error) {
			if d == 0 {
				return 0, domain.NewTransformError("", "division by zero")
			}
			return x / d, nil
		})

	case domain.TransformPerUnit:
		return arithmetic(cfg, source, "unit_size", func(x, u float64) (float64, error) {
			if u == 0 {
				return 0, domain.NewTransformError("", "unit_size is zero")
			}
			return x / u, nil
		})

	case domain.TransformRound:
		x, ok := engine.ToFloat(source)
		if !ok {
			return nil, domain.NewTransformError("", fmt.Sprintf("cannot round non-numeric value %v", source))
		}
		return engine.RoundHalfUp(x, engine.GetConfigInt(cfg, "decimals", 0)), nil

	case domain.TransformDate:
		return formatDate(cfg, source)

	case domain.TransformNumberFormat:
		return formatNumber(cfg, source)

	case domain.TransformBoolean:
		return toBoolean(cfg, source)

	case domain.TransformConcatenate:
		return concatenate(cfg, source, doc), nil

	case domain.TransformSplit:
		return split(cfg, source)

	case domain.TransformAggregate:
		return aggregate(cfg, source, doc)

	case domain.TransformExpression:
		return evalExpression(engine.GetConfigString(cfg, "expression"), source, doc)

	case domain.TransformConditional:
		return conditional(cfg, source, doc)

	case domain.TransformDefault:
		if !engine.IsEmpty(source) {
			return source, nil
		}
		if v, ok := cfg["value"]; ok {
			return engine.CloneValue(v), nil
		}
		return nil, domain.NewStepError(domain.KindTransform, "", "value is empty", ErrNoMatch)

	case domain.TransformCustom:
		return e.runCustom(cfg, source, doc)

	default:
		return nil, domain.NewConfigError("transformation_type", fmt.Sprintf("unknown transformation type %q", t))
	}
}

func (e *Engine) lookup(cfg map[string]any, source any) (any, error) {
	table := engine.GetConfigString(cfg, "table_key")
	if table == "" {
		return nil, domain.NewConfigError("transform_config.table_key", "lookup requires table_key")
	}
	if e.lookups == nil {
		return nil, domain.NewTransformError("", "lookup tables are not available")
	}

	key := engine.ToString(source)
	if engine.GetConfigBool(cfg, "case_insensitive", false) {
		key = strings.ToUpper(key)
	}

	v, ok := e.lookups.Lookup(table, key)
	if !ok {
		return nil, domain.NewTransformError("", fmt.Sprintf("key %q not found in lookup table %s", key, table))
	}
	return engine.CloneValue(v), nil
}

func arithmetic(cfg map[string]any, source any, key string, op func(x, y float64) (float64, error)) (any, error) {
	operand, ok := engine.GetConfigFloat(cfg, key)
	if !ok {
		return nil, domain.NewConfigError("transform_config."+key, key+" is required")
	}
	x, ok := engine.ToFloat(source)
	if !ok {
		return nil, domain.NewTransformError("", fmt.Sprintf("non-numeric value %v", source))
	}
	v, err := op(x, operand)
	if err != nil {
		return nil, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil, domain.NewTransformError("", "result is not a finite number")
	}
	return v, nil
}

func evalExpression(src string, source any, doc map[string]any) (any, error) {
	if src == "" {
		return nil, domain.NewConfigError("transform_config.expression", "expression is required")
	}
	v, err := engine.Evaluate(src, withValue(doc, source))
	if err != nil {
		if errors.Is(err, engine.ErrExpressionSyntax) {
			return nil, domain.NewStepError(domain.KindConfig, "transform_config.expression", err.Error(), err)
		}
		return nil, domain.NewStepError(domain.KindTransform, "", err.Error(), err)
	}
	return v, nil
}

// conditional возвращает value первой ветки, у которой when истинно.
//
//	{"branches": [{"when": "$value > 100", "value": "HIGH"}], "else": "LOW"}
func conditional(cfg map[string]any, source any, doc map[string]any) (any, error) {
	env := withValue(doc, source)

	branches, _ := cfg["branches"].([]any)
	for i, b := range branches {
		bm, ok := b.(map[string]any)
		if !ok {
			return nil, domain.NewConfigError("transform_config.branches", fmt.Sprintf("branch %d is not an object", i))
		}
		when, _ := bm["when"].(string)
		matched, err := engine.EvaluateBool(when, env)
		if err != nil {
			return nil, domain.NewStepError(domain.KindTransform, "", fmt.Sprintf("branch %d: %v", i, err), err)
		}
		if matched {
			return engine.CloneValue(bm["value"]), nil
		}
	}

	if v, ok := cfg["else"]; ok {
		return engine.CloneValue(v), nil
	}
	return nil, domain.NewStepError(domain.KindTransform, "", "no branch matched", ErrNoMatch)
}

func (e *Engine) runCustom(cfg map[string]any, source any, doc map[string]any) (any, error) {
	name := engine.GetConfigString(cfg, "handler")

	e.mu.RLock()
	fn, ok := e.custom[name]
	e.mu.RUnlock()

	if !ok {
		return nil, domain.NewConfigError("transform_config.handler", fmt.Sprintf("no custom handler registered for %q", name))
	}

	v, err := fn(cfg, source, doc)
	if err != nil {
		var se *domain.StepError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, domain.NewStepError(domain.KindTransform, "", err.Error(), err)
	}
	return v, nil
}

// withValue возвращает поверхностную копию документа с $value.
func withValue(doc map[string]any, source any) map[string]any {
	env := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		env[k] = v
	}
	env["$value"] = source
	return env
}
