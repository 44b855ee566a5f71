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

// RuleRepo — репозиторий бизнес-правил.
// Условия, действия и scope tags хранятся в JSONB-колонках правила.
type RuleRepo struct {
	pool *pgxpool.Pool
}

// NewRuleRepo создаёт новый RuleRepo.
func NewRuleRepo(pool *pgxpool.Pool) *RuleRepo {
	return &RuleRepo{pool: pool}
}

var _ RuleStore = (*RuleRepo)(nil)

const ruleColumns = `id, product_line_code, name, description, priority, is_active,
	conditions, actions, scope_tags, created_at, updated_at`

// ListRules возвращает правила продукта по возрастанию приоритета.
func (r *RuleRepo) ListRules(ctx context.Context, productLineCode string) ([]domain.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM rules
		WHERE product_line_code = $1
		ORDER BY priority ASC, name ASC
	`
	rows, err := r.pool.Query(ctx, query, productLineCode)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// GetRule возвращает правило по ID.
func (r *RuleRepo) GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
}

// CreateRule создаёт правило.
func (r *RuleRepo) CreateRule(ctx context.Context, rule *domain.Rule) error {
	conds, actions, tags, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rules (id, product_line_code, name, description, priority, is_active,
		                   conditions, actions, scope_tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rule.ID,
		rule.ProductLineCode,
		rule.Name,
		nullString(rule.Description),
		rule.Priority,
		rule.IsActive,
		conds,
		actions,
		tags,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// UpdateRule обновляет правило целиком.
func (r *RuleRepo) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	conds, actions, tags, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE rules
		SET name = $2, description = $3, priority = $4, is_active = $5,
		    conditions = $6, actions = $7, scope_tags = $8, updated_at = $9
		WHERE id = $1
	`,
		rule.ID,
		rule.Name,
		nullString(rule.Description),
		rule.Priority,
		rule.IsActive,
		conds,
		actions,
		tags,
		rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule удаляет правило.
func (r *RuleRepo) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalRuleParts(rule *domain.Rule) (conds, actions, tags []byte, err error) {
	if conds, err = json.Marshal(nonNil(rule.Conditions)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	if actions, err = json.Marshal(nonNil(rule.Actions)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	if tags, err = json.Marshal(nonNil(rule.ScopeTags)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal scope tags: %w", err)
	}
	return conds, actions, tags, nil
}

// scanRule сканирует одну строку в Rule.
func scanRule(row pgx.Row) (*domain.Rule, error) {
	var rule domain.Rule
	var description *string
	var conds, actions, tags []byte

	err := row.Scan(
		&rule.ID,
		&rule.ProductLineCode,
		&rule.Name,
		&description,
		&rule.Priority,
		&rule.IsActive,
		&conds,
		&actions,
		&tags,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	if description != nil {
		rule.Description = *description
	}
	if err := json.Unmarshal(conds, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(tags, &rule.ScopeTags); err != nil {
		return nil, fmt.Errorf("unmarshal scope tags: %w", err)
	}
	return &rule, nil
}

// nonNil заменяет nil-срез пустым, чтобы в JSONB попал [] вместо null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
