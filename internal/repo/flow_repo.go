package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/ratingflow/internal/domain"
)

// FlowRepo — репозиторий для работы с product_orchestrators и orchestrator_steps.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

var _ FlowStore = (*FlowRepo)(nil)

const flowColumns = `id, product_line_code, endpoint_path, name, status, created_at, updated_at`

const stepColumns = `id, orchestrator_id, step_order, step_type, name, config, is_active,
	run_condition, activity, iterate_path, created_at`

// --- Flow CRUD ---

// CreateFlow создаёт flow и его шаги.
func (r *FlowRepo) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO product_orchestrators (id, product_line_code, endpoint_path, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		flow.ID,
		flow.ProductLineCode,
		flow.EndpointPath,
		flow.Name,
		flow.Status,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}

	for i := range flow.Steps {
		if err := insertStep(ctx, tx, &flow.Steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetFlow возвращает flow по (product line, endpoint) вместе с шагами.
func (r *FlowRepo) GetFlow(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + `
		FROM product_orchestrators
		WHERE product_line_code = $1 AND endpoint_path = $2
	`
	flow, err := scanFlow(r.pool.QueryRow(ctx, query, productLineCode, endpointPath))
	if err != nil {
		return nil, err
	}
	if flow.Steps, err = r.listSteps(ctx, flow.ID); err != nil {
		return nil, err
	}
	return flow, nil
}

// GetFlowByID возвращает flow по ID вместе с шагами.
func (r *FlowRepo) GetFlowByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM product_orchestrators WHERE id = $1`
	flow, err := scanFlow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if flow.Steps, err = r.listSteps(ctx, flow.ID); err != nil {
		return nil, err
	}
	return flow, nil
}

// ListFlows возвращает flows продукта (или все, если код пустой) без шагов.
func (r *FlowRepo) ListFlows(ctx context.Context, productLineCode string) ([]domain.Flow, error) {
	query := `SELECT ` + flowColumns + `
		FROM product_orchestrators
		WHERE ($1::text IS NULL OR product_line_code = $1)
		ORDER BY product_line_code, endpoint_path
	`
	rows, err := r.pool.Query(ctx, query, nullString(productLineCode))
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// UpdateFlow обновляет имя и статус flow.
func (r *FlowRepo) UpdateFlow(ctx context.Context, flow *domain.Flow) error {
	query := `
		UPDATE product_orchestrators
		SET name = $2, status = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, flow.ID, flow.Name, flow.Status, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFlow удаляет flow (каскадно удалит шаги).
func (r *FlowRepo) DeleteFlow(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM product_orchestrators WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Step CRUD ---

// AddStep добавляет шаг во flow.
func (r *FlowRepo) AddStep(ctx context.Context, step *domain.Step) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockFlow(ctx, tx, step.FlowID); err != nil {
		return err
	}
	if err := insertStep(ctx, tx, step); err != nil {
		return err
	}
	if err := touchFlow(ctx, tx, step.FlowID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateStep обновляет шаг целиком.
func (r *FlowRepo) UpdateStep(ctx context.Context, step *domain.Step) error {
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}

	query := `
		UPDATE orchestrator_steps
		SET step_order = $3, step_type = $4, name = $5, config = $6, is_active = $7,
		    run_condition = $8, activity = $9, iterate_path = $10
		WHERE id = $1 AND orchestrator_id = $2
	`
	result, err := r.pool.Exec(ctx, query,
		step.ID,
		step.FlowID,
		step.StepOrder,
		step.StepType,
		step.Name,
		configJSON,
		step.IsActive,
		nullString(step.RunCondition),
		activityOrDefault(step.Activity),
		nullString(step.IteratePath),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStep удаляет шаг из flow.
func (r *FlowRepo) DeleteStep(ctx context.Context, flowID, stepID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM orchestrator_steps WHERE id = $1 AND orchestrator_id = $2`, stepID, flowID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReorderSteps назначает шагам порядок 1..N в одной транзакции.
//
// Сначала порядок переводится во временные отрицательные значения,
// затем в итоговые, чтобы не нарушить UNIQUE (orchestrator_id, step_order).
func (r *FlowRepo) ReorderSteps(ctx context.Context, flowID uuid.UUID, order []uuid.UUID) ([]domain.Step, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockFlow(ctx, tx, flowID); err != nil {
		return nil, err
	}

	var current []uuid.UUID
	rows, err := tx.Query(ctx, `SELECT id FROM orchestrator_steps WHERE orchestrator_id = $1`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list step ids: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan step id: %w", err)
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := CheckPermutation(current, order); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE orchestrator_steps SET step_order = -step_order - 1000000 WHERE orchestrator_id = $1`, flowID); err != nil {
		return nil, fmt.Errorf("park step orders: %w", err)
	}
	for i, id := range order {
		if _, err := tx.Exec(ctx, `UPDATE orchestrator_steps SET step_order = $3 WHERE id = $1 AND orchestrator_id = $2`, id, flowID, i+1); err != nil {
			return nil, fmt.Errorf("set step order: %w", err)
		}
	}
	if err := touchFlow(ctx, tx, flowID); err != nil {
		return nil, err
	}

	steps, err := querySteps(ctx, tx, flowID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return steps, nil
}

// CheckPermutation проверяет, что order — перестановка current без повторов.
func CheckPermutation(current, order []uuid.UUID) error {
	if len(current) != len(order) {
		return fmt.Errorf("%w: expected %d step ids, got %d", ErrConflict, len(current), len(order))
	}
	known := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		known[id] = false
	}
	for _, id := range order {
		seen, ok := known[id]
		if !ok {
			return fmt.Errorf("%w: step %s does not belong to flow", ErrConflict, id)
		}
		if seen {
			return fmt.Errorf("%w: step %s listed twice", ErrConflict, id)
		}
		known[id] = true
	}
	return nil
}

// --- Helpers ---

func (r *FlowRepo) listSteps(ctx context.Context, flowID uuid.UUID) ([]domain.Step, error) {
	return querySteps(ctx, r.pool, flowID)
}

// querier — общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func querySteps(ctx context.Context, q querier, flowID uuid.UUID) ([]domain.Step, error) {
	query := `SELECT ` + stepColumns + `
		FROM orchestrator_steps
		WHERE orchestrator_id = $1
		ORDER BY step_order ASC
	`
	rows, err := q.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []domain.Step{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func insertStep(ctx context.Context, tx pgx.Tx, step *domain.Step) error {
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orchestrator_steps (id, orchestrator_id, step_order, step_type, name, config, is_active,
		                        run_condition, activity, iterate_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		step.ID,
		step.FlowID,
		step.StepOrder,
		step.StepType,
		step.Name,
		configJSON,
		step.IsActive,
		nullString(step.RunCondition),
		activityOrDefault(step.Activity),
		nullString(step.IteratePath),
		step.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// lockFlow блокирует строку flow до конца транзакции.
func lockFlow(ctx context.Context, tx pgx.Tx, flowID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM product_orchestrators WHERE id = $1 FOR UPDATE`, flowID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock flow: %w", err)
	}
	return nil
}

func touchFlow(ctx context.Context, tx pgx.Tx, flowID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE product_orchestrators SET updated_at = $2 WHERE id = $1`, flowID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch flow: %w", err)
	}
	return nil
}

// scanFlow сканирует одну строку в Flow.
func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	err := row.Scan(
		&flow.ID,
		&flow.ProductLineCode,
		&flow.EndpointPath,
		&flow.Name,
		&flow.Status,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}
	return &flow, nil
}

// scanStep сканирует одну строку в Step.
func scanStep(row pgx.Row) (*domain.Step, error) {
	var step domain.Step
	var configJSON []byte
	var runCondition, iteratePath *string

	err := row.Scan(
		&step.ID,
		&step.FlowID,
		&step.StepOrder,
		&step.StepType,
		&step.Name,
		&configJSON,
		&step.IsActive,
		&runCondition,
		&step.Activity,
		&iteratePath,
		&step.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
	}
	if runCondition != nil {
		step.RunCondition = *runCondition
	}
	if iteratePath != nil {
		step.IteratePath = *iteratePath
	}
	return &step, nil
}

func activityOrDefault(a domain.StepActivity) domain.StepActivity {
	if a == "" {
		return domain.ActivityOneTime
	}
	return a
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
