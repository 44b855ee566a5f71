package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Document — рабочий документ транзакции.
type Document = map[string]any

// segment — один сегмент пути: ключ объекта или индекс массива.
type segment struct {
	key   string
	index int
	isIdx bool
}

// parsePath разбирает путь вида "policy.drivers[0].age" или "policy.drivers.0.age".
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}

		// key[0][1]
		name := part
		var idxs []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			name = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: bad index in %q", ErrInvalidPath, path)
				}
				idxs = append(idxs, n)
				rest = rest[end+1:]
			}
		}

		if name != "" {
			if n, err := strconv.Atoi(name); err == nil && n >= 0 {
				segs = append(segs, segment{key: name, index: n, isIdx: true})
			} else {
				segs = append(segs, segment{key: name})
			}
		}
		for _, n := range idxs {
			segs = append(segs, segment{key: strconv.Itoa(n), index: n, isIdx: true})
		}
	}

	return segs, nil
}

// Get возвращает значение по пути. Второе значение — найдено ли поле.
func Get(doc map[string]any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	var cur any = doc
	for _, s := range segs {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[s.key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !s.isIdx || s.index >= len(node) {
				return nil, false
			}
			cur = node[s.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set записывает значение по пути, создавая промежуточные объекты.
// Индексы массивов должны существовать.
func Set(doc map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	var cur any = doc
	for i, s := range segs {
		last := i == len(segs)-1

		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[s.key] = value
				return nil
			}
			next, ok := node[s.key]
			if !ok || next == nil {
				child := make(map[string]any)
				node[s.key] = child
				next = child
			}
			cur = next

		case []any:
			if !s.isIdx || s.index >= len(node) {
				return fmt.Errorf("%w: index %s out of range in %q", ErrInvalidPath, s.key, path)
			}
			if last {
				node[s.index] = value
				return nil
			}
			cur = node[s.index]

		default:
			return fmt.Errorf("%w: %q crosses a scalar at %q", ErrInvalidPath, path, s.key)
		}
	}
	return nil
}

// Delete удаляет поле по пути. Отсутствующее поле не ошибка.
func Delete(doc map[string]any, path string) {
	segs, err := parsePath(path)
	if err != nil || len(segs) == 0 {
		return
	}

	parentPath := segs[:len(segs)-1]
	var cur any = doc
	for _, s := range parentPath {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[s.key]
		case []any:
			if !s.isIdx || s.index >= len(node) {
				return
			}
			cur = node[s.index]
		default:
			return
		}
	}
	if m, ok := cur.(map[string]any); ok {
		delete(m, segs[len(segs)-1].key)
	}
}

// Clone делает глубокую копию документа.
// Снимки шагов не должны разделять изменяемые объекты с рабочим документом.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out, _ := CloneValue(doc).(map[string]any)
	return out
}

// CloneValue делает глубокую копию значения JSON-модели.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

// Merge рекурсивно сливает src в dst. Объекты сливаются, остальное перезаписывается.
func Merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				Merge(dm, sm)
				continue
			}
		}
		dst[k] = CloneValue(v)
	}
}
