package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ratingflow/internal/domain"
)

// LookupRepo — репозиторий справочников.
type LookupRepo struct {
	pool *pgxpool.Pool
}

// NewLookupRepo создаёт новый LookupRepo.
func NewLookupRepo(pool *pgxpool.Pool) *LookupRepo {
	return &LookupRepo{pool: pool}
}

var _ LookupStore = (*LookupRepo)(nil)

// ListLookupTables возвращает все справочники.
func (r *LookupRepo) ListLookupTables(ctx context.Context) ([]domain.LookupTable, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, name, entries, updated_at FROM lookup_tables ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list lookup tables: %w", err)
	}
	defer rows.Close()

	tables := []domain.LookupTable{}
	for rows.Next() {
		t, err := scanLookupTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, rows.Err()
}

// GetLookupTable возвращает справочник по ключу.
func (r *LookupRepo) GetLookupTable(ctx context.Context, key string) (*domain.LookupTable, error) {
	return scanLookupTable(r.pool.QueryRow(ctx,
		`SELECT key, name, entries, updated_at FROM lookup_tables WHERE key = $1`, key))
}

// PutLookupTable создаёт или заменяет справочник.
func (r *LookupRepo) PutLookupTable(ctx context.Context, t *domain.LookupTable) error {
	entries, err := json.Marshal(t.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO lookup_tables (key, name, entries, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET name = EXCLUDED.name, entries = EXCLUDED.entries, updated_at = EXCLUDED.updated_at
	`, t.Key, nullString(t.Name), entries, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert lookup table: %w", err)
	}
	return nil
}

// DeleteLookupTable удаляет справочник.
func (r *LookupRepo) DeleteLookupTable(ctx context.Context, key string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM lookup_tables WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete lookup table: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLookupTable(row pgx.Row) (*domain.LookupTable, error) {
	var t domain.LookupTable
	var name *string
	var entries []byte

	err := row.Scan(&t.Key, &name, &entries, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lookup table: %w", err)
	}
	if name != nil {
		t.Name = *name
	}
	if err := json.Unmarshal(entries, &t.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return &t, nil
}
