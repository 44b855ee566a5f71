package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

type exprFunc func(args []any) (any, error)

// exprFuncs — чистые функции, доступные в выражениях.
var exprFuncs = map[string]exprFunc{
	"abs":      numFunc1(math.Abs),
	"floor":    numFunc1(math.Floor),
	"ceil":     numFunc1(math.Ceil),
	"min":      minMax(true),
	"max":      minMax(false),
	"round":    roundFunc,
	"len":      lenFunc,
	"upper":    strFunc1(strings.ToUpper),
	"lower":    strFunc1(strings.ToLower),
	"trim":     strFunc1(strings.TrimSpace),
	"concat":   concatFunc,
	"coalesce": coalesceFunc,
	"contains": containsFunc,
	"empty":    func(args []any) (any, error) { return len(args) == 0 || IsEmpty(args[0]), nil },
	"number":   numberFunc,
	"string":   func(args []any) (any, error) { return ToString(first(args)), nil },
	// if() обрабатывается в callNode, здесь только для регистрации имени
	"if": func([]any) (any, error) { return nil, errors.New("if() evaluated lazily") },
}

func first(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func numFunc1(f func(float64) float64) exprFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("takes 1 argument")
		}
		n, ok := ToFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("not a number: %v", args[0])
		}
		return f(n), nil
	}
}

func strFunc1(f func(string) string) exprFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("takes 1 argument")
		}
		return f(ToString(args[0])), nil
	}
}

func minMax(isMin bool) exprFunc {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("needs at least 1 argument")
		}
		var best float64
		for i, a := range args {
			n, ok := ToFloat(a)
			if !ok {
				return nil, fmt.Errorf("not a number: %v", a)
			}
			if i == 0 || (isMin && n < best) || (!isMin && n > best) {
				best = n
			}
		}
		return best, nil
	}
}

func roundFunc(args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errors.New("takes 1 or 2 arguments")
	}
	n, ok := ToFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("not a number: %v", args[0])
	}
	decimals := 0
	if len(args) == 2 {
		d, ok := ToFloat(args[1])
		if !ok {
			return nil, fmt.Errorf("decimals not a number: %v", args[1])
		}
		decimals = int(d)
	}
	return RoundHalfUp(n, decimals), nil
}

func lenFunc(args []any) (any, error) {
	switch v := first(args).(type) {
	case nil:
		return 0.0, nil
	case string:
		return float64(len([]rune(v))), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("no length for %T", v)
	}
}

func concatFunc(args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(ToString(a))
	}
	return sb.String(), nil
}

func coalesceFunc(args []any) (any, error) {
	for _, a := range args {
		if !IsEmpty(a) {
			return a, nil
		}
	}
	return nil, nil
}

func containsFunc(args []any) (any, error) {
	if len(args) != 2 {
		return nil, errors.New("takes 2 arguments")
	}
	return Contains(args[0], args[1]), nil
}

func numberFunc(args []any) (any, error) {
	n, ok := ToFloat(first(args))
	if !ok {
		return nil, fmt.Errorf("not a number: %v", first(args))
	}
	return n, nil
}

// Contains проверяет вхождение: подстроку в строке или элемент в массиве.
func Contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, ToString(needle))
	case []any:
		for _, item := range h {
			if Equal(item, needle) {
				return true
			}
		}
	case map[string]any:
		_, ok := h[ToString(needle)]
		return ok
	}
	return false
}

// RoundHalfUp округляет до decimals знаков, половину — от нуля.
//
// Работает через десятичное представление числа, поэтому 1.005 → 1.01,
// а не 1.00, как дало бы округление двоичного float.
func RoundHalfUp(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromFloat(v).Round(int32(decimals)).InexactFloat64()
}
