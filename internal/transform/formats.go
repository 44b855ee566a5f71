package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// dateTokens переводит явные токены формата в layout Go.
// Формат не зависит от локали.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// defaultInputLayouts — форматы входных дат, если input_format не задан.
var defaultInputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"20060102",
}

// DateLayout переводит формат вида "YYYY-MM-DD" в layout Go.
func DateLayout(format string) string {
	return dateTokens.Replace(format)
}

// formatDate: {"format": "MM/DD/YYYY", "input_format": "YYYY-MM-DD"}
func formatDate(cfg map[string]any, source any) (any, error) {
	s, ok := source.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, domain.NewTransformError("", fmt.Sprintf("date value must be a string, got %v", source))
	}
	s = strings.TrimSpace(s)

	layouts := defaultInputLayouts
	if in := engine.GetConfigString(cfg, "input_format"); in != "" {
		layouts = []string{DateLayout(in)}
	}

	var (
		parsed time.Time
		err    error
	)
	for _, layout := range layouts {
		parsed, err = time.Parse(layout, s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, domain.NewTransformError("", fmt.Sprintf("unparsable date %q", s))
	}

	out := engine.GetConfigString(cfg, "format")
	if out == "" {
		out = "YYYY-MM-DD"
	}
	return parsed.Format(DateLayout(out)), nil
}

// formatNumber: {"decimals": 2, "thousands_separator": ",", "decimal_separator": ".", "prefix": "$"}
func formatNumber(cfg map[string]any, source any) (any, error) {
	x, ok := engine.ToFloat(source)
	if !ok {
		return nil, domain.NewTransformError("", fmt.Sprintf("non-numeric value %v", source))
	}

	decimals := engine.GetConfigInt(cfg, "decimals", 2)
	thousands := ","
	if v, ok := cfg["thousands_separator"].(string); ok {
		thousands = v
	}
	point := "."
	if v, ok := cfg["decimal_separator"].(string); ok {
		point = v
	}

	rounded := engine.RoundHalfUp(x, decimals)
	text := strconv.FormatFloat(math.Abs(rounded), 'f', decimals, 64)

	intPart, fracPart, _ := strings.Cut(text, ".")
	if thousands != "" && len(intPart) > 3 {
		var sb strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			sb.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if sb.Len() > 0 {
				sb.WriteString(thousands)
			}
			sb.WriteString(intPart[i : i+3])
		}
		intPart = sb.String()
	}

	result := intPart
	if fracPart != "" {
		result += point + fracPart
	}
	if rounded < 0 {
		result = "-" + result
	}
	return engine.GetConfigString(cfg, "prefix") + result + engine.GetConfigString(cfg, "suffix"), nil
}

// toBoolean: {"true_value": "Y", "false_value": "N"}
func toBoolean(cfg map[string]any, source any) (any, error) {
	b, ok := engine.ToBool(source)
	if !ok {
		return nil, domain.NewTransformError("", fmt.Sprintf("cannot convert %v to boolean", source))
	}
	if b {
		if v, ok := cfg["true_value"]; ok {
			return v, nil
		}
	} else if v, ok := cfg["false_value"]; ok {
		return v, nil
	}
	return b, nil
}

// concatenate: {"source_paths": ["first_name", "last_name"], "separator": " "}
// Без source_paths склеивает элементы исходного массива или само значение.
func concatenate(cfg map[string]any, source any, doc map[string]any) any {
	sep := engine.GetConfigString(cfg, "separator")

	var parts []string
	if paths := engine.GetConfigStrings(cfg, "source_paths"); len(paths) > 0 {
		for _, p := range paths {
			if v, ok := engine.Get(doc, p); ok && !engine.IsEmpty(v) {
				parts = append(parts, engine.ToString(v))
			}
		}
	} else if items, ok := source.([]any); ok {
		for _, v := range items {
			if !engine.IsEmpty(v) {
				parts = append(parts, engine.ToString(v))
			}
		}
	} else if !engine.IsEmpty(source) {
		parts = append(parts, engine.ToString(source))
	}

	return strings.Join(parts, sep)
}

// split: {"separator": ",", "index": 0}
func split(cfg map[string]any, source any) (any, error) {
	s, ok := source.(string)
	if !ok {
		return nil, domain.NewTransformError("", fmt.Sprintf("split needs a string, got %v", source))
	}

	sep := engine.GetConfigString(cfg, "separator")
	if sep == "" {
		sep = ","
	}

	raw := strings.Split(s, sep)
	parts := make([]any, len(raw))
	for i, p := range raw {
		parts[i] = strings.TrimSpace(p)
	}

	if _, has := cfg["index"]; has {
		idx := engine.GetConfigInt(cfg, "index", 0)
		if idx < 0 {
			idx += len(parts)
		}
		if idx < 0 || idx >= len(parts) {
			return nil, domain.NewTransformError("", fmt.Sprintf("split index %d out of range", idx))
		}
		return parts[idx], nil
	}
	return parts, nil
}

// aggregate: {"operation": "sum", "field": "premium", "source_paths": [...]}
//
// Значения берутся из исходного массива (с полем field у каждого элемента)
// или из source_paths.
func aggregate(cfg map[string]any, source any, doc map[string]any) (any, error) {
	var values []any
	if paths := engine.GetConfigStrings(cfg, "source_paths"); len(paths) > 0 {
		for _, p := range paths {
			if v, ok := engine.Get(doc, p); ok {
				values = append(values, v)
			}
		}
	} else if items, ok := source.([]any); ok {
		field := engine.GetConfigString(cfg, "field")
		for _, item := range items {
			if field == "" {
				values = append(values, item)
				continue
			}
			if m, ok := item.(map[string]any); ok {
				if v, ok := engine.Get(m, field); ok {
					values = append(values, v)
				}
			}
		}
	} else if source != nil {
		values = append(values, source)
	}

	op := engine.GetConfigString(cfg, "operation")
	if op == "" {
		op = "sum"
	}
	if op == "count" {
		return float64(len(values)), nil
	}

	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		n, ok := engine.ToFloat(v)
		if !ok {
			return nil, domain.NewTransformError("", fmt.Sprintf("aggregate over non-numeric value %v", v))
		}
		nums = append(nums, n)
	}

	switch op {
	case "sum", "avg":
		var sum float64
		for _, n := range nums {
			sum += n
		}
		if op == "avg" {
			if len(nums) == 0 {
				return nil, domain.NewTransformError("", "average of empty set")
			}
			return sum / float64(len(nums)), nil
		}
		return sum, nil
	case "min", "max":
		if len(nums) == 0 {
			return nil, domain.NewTransformError("", op+" of empty set")
		}
		best := nums[0]
		for _, n := range nums[1:] {
			if (op == "min" && n < best) || (op == "max" && n > best) {
				best = n
			}
		}
		return best, nil
	default:
		return nil, domain.NewConfigError("transform_config.operation", fmt.Sprintf("unknown aggregate operation %q", op))
	}
}
