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

// TransactionRepo — репозиторий для работы с transactions и журналами шагов.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

// NewTransactionRepo создаёт новый TransactionRepo.
func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

var _ TransactionStore = (*TransactionRepo)(nil)

const txColumns = `id, correlation_id, product_line_code, endpoint_path, orchestrator_id, status,
	scope, request_payload, response_payload, premium_result, error_message,
	duration_ms, step_count, completed_steps, flags, created_at, updated_at, completed_at`

// CreateTransaction создаёт транзакцию.
func (r *TransactionRepo) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	scopeJSON, err := marshalNullable(t.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	requestJSON, err := marshalNullable(t.RequestPayload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	query := `
		INSERT INTO transactions (id, correlation_id, product_line_code, endpoint_path, orchestrator_id,
		                          status, scope, request_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		t.ID,
		t.CorrelationID,
		t.ProductLineCode,
		t.EndpointPath,
		nullUUID(t.FlowID),
		t.Status,
		scopeJSON,
		requestJSON,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransaction возвращает транзакцию по ID.
func (r *TransactionRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListTransactions возвращает страницу транзакций и общее число подходящих записей.
func (r *TransactionRepo) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	where := `
		WHERE ($1::text IS NULL OR product_line_code = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR correlation_id = $3)
		  AND ($4::timestamptz IS NULL OR updated_at < $4)
	`
	args := []any{
		nullString(filter.ProductLineCode),
		nullString(string(filter.Status)),
		nullString(filter.CorrelationID),
		nullTime(filter.UpdatedBefore),
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + txColumns + ` FROM transactions` + where + `
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`
	rows, err := r.pool.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, *t)
	}
	return txs, total, rows.Err()
}

// UpdateTransaction блокирует строку, проверяет переход статуса и применяет patch.
func (r *TransactionRepo) UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidState, id, current.Status)
	}
	if patch.Status != nil && !current.Status.CanTransitionTo(*patch.Status) {
		return nil, fmt.Errorf("%w: transaction %s cannot move from %s to %s", ErrInvalidState, id, current.Status, *patch.Status)
	}
	patch.Apply(current, time.Now().UTC())

	responseJSON, err := marshalNullable(current.ResponsePayload)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	flagsJSON, err := marshalFlags(current.Flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, response_payload = $3, premium_result = $4, error_message = $5,
		    duration_ms = $6, step_count = $7, completed_steps = $8, updated_at = $9, completed_at = $10,
		    flags = $11
		WHERE id = $1
	`,
		current.ID,
		current.Status,
		responseJSON,
		current.PremiumResult,
		nullString(current.ErrorMessage),
		current.DurationMs,
		current.StepCount,
		current.CompletedSteps,
		current.UpdatedAt,
		current.CompletedAt,
		flagsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return current, nil
}

// AppendStepLog добавляет запись журнала шага.
func (r *TransactionRepo) AppendStepLog(ctx context.Context, log *domain.StepLog) error {
	inputJSON, err := marshalNullable(log.InputSnapshot)
	if err != nil {
		return fmt.Errorf("marshal input snapshot: %w", err)
	}
	outputJSON, err := marshalNullable(log.OutputSnapshot)
	if err != nil {
		return fmt.Errorf("marshal output snapshot: %w", err)
	}

	query := `
		INSERT INTO transaction_step_logs (id, transaction_id, step_id, step_type, step_name, step_order,
		                                   iteration_index, status, input_snapshot, output_snapshot,
		                                   error_message, duration_ms, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		log.ID,
		log.TransactionID,
		log.StepID,
		log.StepType,
		log.StepName,
		log.StepOrder,
		log.IterationIndex,
		log.Status,
		inputJSON,
		outputJSON,
		nullString(log.ErrorMessage),
		log.DurationMs,
		log.StartedAt,
		log.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step log: %w", err)
	}
	return nil
}

// ListStepLogs возвращает журнал шагов транзакции в порядке записи.
func (r *TransactionRepo) ListStepLogs(ctx context.Context, transactionID uuid.UUID) ([]domain.StepLog, error) {
	query := `
		SELECT id, transaction_id, step_id, step_type, step_name, step_order, iteration_index,
		       status, input_snapshot, output_snapshot, error_message, duration_ms, started_at, completed_at
		FROM transaction_step_logs
		WHERE transaction_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.StepLog{}
	for rows.Next() {
		var l domain.StepLog
		var inputJSON, outputJSON []byte
		var errMsg *string
		if err := rows.Scan(
			&l.ID,
			&l.TransactionID,
			&l.StepID,
			&l.StepType,
			&l.StepName,
			&l.StepOrder,
			&l.IterationIndex,
			&l.Status,
			&inputJSON,
			&outputJSON,
			&errMsg,
			&l.DurationMs,
			&l.StartedAt,
			&l.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		if err := unmarshalNullable(inputJSON, &l.InputSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal input snapshot: %w", err)
		}
		if err := unmarshalNullable(outputJSON, &l.OutputSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal output snapshot: %w", err)
		}
		if errMsg != nil {
			l.ErrorMessage = *errMsg
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Helpers ---

// scanTransaction сканирует одну строку в Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var scopeJSON, requestJSON, responseJSON, flagsJSON []byte
	var errMsg *string

	err := row.Scan(
		&t.ID,
		&t.CorrelationID,
		&t.ProductLineCode,
		&t.EndpointPath,
		&t.FlowID,
		&t.Status,
		&scopeJSON,
		&requestJSON,
		&responseJSON,
		&t.PremiumResult,
		&errMsg,
		&t.DurationMs,
		&t.StepCount,
		&t.CompletedSteps,
		&flagsJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if err := unmarshalNullable(scopeJSON, &t.Scope); err != nil {
		return nil, fmt.Errorf("unmarshal scope: %w", err)
	}
	if err := unmarshalNullable(requestJSON, &t.RequestPayload); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := unmarshalNullable(responseJSON, &t.ResponsePayload); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &t.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	return &t, nil
}

// marshalNullable сериализует map в JSON, nil → NULL.
func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// marshalFlags сериализует флаги правил, nil → пустой массив.
func marshalFlags(flags []domain.RuleFlag) ([]byte, error) {
	if flags == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(flags)
}

func unmarshalNullable(data []byte, dst *map[string]any) error {
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// nullTime возвращает nil для нулевого времени.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
