package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ToFloat приводит значение к числу.
// Строки парсятся после удаления пробелов, "$" и разделителей тысяч.
// bool числом не считается.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToString приводит значение к строке. nil — пустая строка.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case map[string]any, []any:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	default:
		return fmt.Sprint(s)
	}
}

// ToBool приводит значение к bool.
// Строки "true/yes/y/1/on" — true, "false/no/n/0/off/''" — false.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case nil:
		return false, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1", "on", "t":
			return true, true
		case "false", "no", "n", "0", "off", "f", "":
			return false, true
		}
		return false, false
	default:
		if f, ok := ToFloat(v); ok {
			return f != 0, true
		}
		return false, false
	}
}

// Truthy — истинность значения в выражениях.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case map[string]any:
		return len(b) > 0
	case []any:
		return len(b) > 0
	default:
		if f, ok := ToFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// IsEmpty возвращает true для nil, пустых строк, массивов и объектов.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// Equal сравнивает значения: числа по значению, строки посимвольно.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := numeric(a); ok {
		if bf, ok := ToFloat(b); ok {
			return af == bf
		}
	}
	if bf, ok := numeric(b); ok {
		if af, ok := ToFloat(a); ok {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := ToBool(b); ok {
			return ab == bb
		}
		return false
	}
	if bb, ok := b.(bool); ok {
		if ab, ok := ToBool(a); ok {
			return ab == bb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Compare сравнивает два значения: числа численно, остальное как строки.
func Compare(a, b any) (int, bool) {
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// numeric возвращает число только для настоящих числовых типов, не для строк.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case string, bool, nil:
		return 0, false
	}
	return ToFloat(v)
}

// ToSlice приводит значение к []any. Строка через запятую разбивается.
func ToSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case string:
		parts := strings.Split(val, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, true
	default:
		return nil, false
	}
}
