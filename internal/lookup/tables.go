package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shaiso/ratingflow/internal/domain"
)

// Source — хранилище lookup-таблиц.
type Source interface {
	ListLookupTables(ctx context.Context) ([]domain.LookupTable, error)
}

// snapshot — неизменяемый снимок всех таблиц.
type snapshot struct {
	tables   map[string]map[string]any
	loadedAt time.Time
}

// Tables — read-mostly кэш lookup-таблиц.
//
// Чтения идут из атомарно подменяемого снимка и не блокируются.
// Обновление (Reload, Put) строит новый снимок целиком.
type Tables struct {
	source Source
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// New создаёт пустой кэш. source может быть nil — тогда таблицы задаются через Put.
func New(source Source, logger *slog.Logger) *Tables {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tables{source: source, logger: logger}
	t.snap.Store(&snapshot{tables: map[string]map[string]any{}})
	return t
}

// Reload перечитывает все таблицы из источника.
func (t *Tables) Reload(ctx context.Context) error {
	if t.source == nil {
		return nil
	}

	list, err := t.source.ListLookupTables(ctx)
	if err != nil {
		return fmt.Errorf("list lookup tables: %w", err)
	}

	tables := make(map[string]map[string]any, len(list))
	for _, lt := range list {
		tables[lt.Key] = normalize(lt.Entries)
	}
	t.snap.Store(&snapshot{tables: tables, loadedAt: time.Now()})

	t.logger.Debug("lookup tables reloaded", "count", len(tables))
	return nil
}

// Put заменяет одну таблицу в снимке.
func (t *Tables) Put(table domain.LookupTable) {
	for {
		old := t.snap.Load()
		tables := make(map[string]map[string]any, len(old.tables)+1)
		for k, v := range old.tables {
			tables[k] = v
		}
		tables[table.Key] = normalize(table.Entries)

		if t.snap.CompareAndSwap(old, &snapshot{tables: tables, loadedAt: old.loadedAt}) {
			return
		}
	}
}

// Remove удаляет таблицу из снимка.
func (t *Tables) Remove(key string) {
	for {
		old := t.snap.Load()
		if _, ok := old.tables[key]; !ok {
			return
		}
		tables := make(map[string]map[string]any, len(old.tables))
		for k, v := range old.tables {
			if k != key {
				tables[k] = v
			}
		}
		if t.snap.CompareAndSwap(old, &snapshot{tables: tables, loadedAt: old.loadedAt}) {
			return
		}
	}
}

// Lookup возвращает значение по ключу. Ключи сравниваются без учёта регистра.
func (t *Tables) Lookup(tableKey, key string) (any, bool) {
	table, ok := t.snap.Load().tables[tableKey]
	if !ok {
		return nil, false
	}
	v, ok := table[strings.ToUpper(key)]
	return v, ok
}

// Table возвращает таблицу целиком.
func (t *Tables) Table(tableKey string) (map[string]any, bool) {
	table, ok := t.snap.Load().tables[tableKey]
	return table, ok
}

// LoadedAt возвращает время последнего полного обновления.
func (t *Tables) LoadedAt() time.Time {
	return t.snap.Load().loadedAt
}

// normalize приводит ключи к верхнему регистру.
func normalize(entries map[string]any) map[string]any {
	out := make(map[string]any, len(entries))
	for k, v := range entries {
		out[strings.ToUpper(k)] = v
	}
	return out
}
