package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ratingflow/internal/domain"
)

// MappingRepo — репозиторий наборов field mappings.
type MappingRepo struct {
	pool *pgxpool.Pool
}

// NewMappingRepo создаёт новый MappingRepo.
func NewMappingRepo(pool *pgxpool.Pool) *MappingRepo {
	return &MappingRepo{pool: pool}
}

var _ MappingStore = (*MappingRepo)(nil)

const mappingColumns = `id, product_line_code, direction, name, fields, created_at, updated_at`

// ListMappings возвращает наборы продукта.
func (r *MappingRepo) ListMappings(ctx context.Context, productLineCode string) ([]domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM mappings
		WHERE product_line_code = $1
		ORDER BY direction, name
	`
	rows, err := r.pool.Query(ctx, query, productLineCode)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := []domain.Mapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// GetMapping возвращает набор по ID.
func (r *MappingRepo) GetMapping(ctx context.Context, id uuid.UUID) (*domain.Mapping, error) {
	return scanMapping(r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id = $1`, id))
}

// FindMapping возвращает набор продукта для направления.
func (r *MappingRepo) FindMapping(ctx context.Context, productLineCode string, direction domain.MappingDirection) (*domain.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM mappings
		WHERE product_line_code = $1 AND direction = $2
		ORDER BY name
		LIMIT 1
	`
	return scanMapping(r.pool.QueryRow(ctx, query, productLineCode, direction))
}

// CreateMapping создаёт набор.
func (r *MappingRepo) CreateMapping(ctx context.Context, m *domain.Mapping) error {
	fields, err := json.Marshal(nonNil(m.Fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO mappings (id, product_line_code, direction, name, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ProductLineCode, m.Direction, m.Name, fields, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// UpdateMapping обновляет набор.
func (r *MappingRepo) UpdateMapping(ctx context.Context, m *domain.Mapping) error {
	fields, err := json.Marshal(nonNil(m.Fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE mappings
		SET direction = $2, name = $3, fields = $4, updated_at = $5
		WHERE id = $1
	`, m.ID, m.Direction, m.Name, fields, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMapping удаляет набор.
func (r *MappingRepo) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM mappings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanMapping сканирует одну строку в Mapping.
func scanMapping(row pgx.Row) (*domain.Mapping, error) {
	var m domain.Mapping
	var fields []byte

	err := row.Scan(&m.ID, &m.ProductLineCode, &m.Direction, &m.Name, &fields, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	if err := json.Unmarshal(fields, &m.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return &m, nil
}
