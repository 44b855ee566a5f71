// Package recorder ведёт журнал транзакций рейтинга.
//
// Recorder — единственный, кто меняет Transaction и пишет StepLog:
// записи журнала только добавляются, счётчики только растут,
// переходы статуса проверяются хранилищем под блокировкой.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/repo"
)

// ErrInvalidTransition — недопустимый переход статуса или изменение завершённой транзакции.
var ErrInvalidTransition = errors.New("invalid transaction transition")

// Recorder — журнал транзакций поверх repo.TransactionStore.
type Recorder struct {
	store  repo.TransactionStore
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Recorder.
func New(store repo.TransactionStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Begin создаёт транзакцию в статусе RECEIVED.
// Пустой ID и CorrelationID генерируются.
func (r *Recorder) Begin(ctx context.Context, tx *domain.Transaction) error {
	now := r.now().UTC()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CorrelationID == "" {
		tx.CorrelationID = uuid.NewString()
	}
	tx.Status = domain.TxReceived
	tx.StepCount = 0
	tx.CompletedSteps = 0
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := r.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	r.logger.Debug("transaction received", "transaction_id", tx.ID, "correlation_id", tx.CorrelationID)
	return nil
}

// Transition переводит транзакцию в status.
func (r *Recorder) Transition(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) (*domain.Transaction, error) {
	return r.update(ctx, id, domain.TransactionPatch{Status: &status})
}

// StepStarted увеличивает stepCount.
func (r *Recorder) StepStarted(ctx context.Context, id uuid.UUID) error {
	_, err := r.update(ctx, id, domain.TransactionPatch{StepCountDelta: 1})
	return err
}

// StepCompleted увеличивает completedSteps.
func (r *Recorder) StepCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.update(ctx, id, domain.TransactionPatch{CompletedStepsDelta: 1})
	return err
}

// AppendStep добавляет запись журнала шага.
func (r *Recorder) AppendStep(ctx context.Context, log *domain.StepLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if err := r.store.AppendStepLog(ctx, log); err != nil {
		return fmt.Errorf("append step log: %w", err)
	}
	return nil
}

// Complete завершает транзакцию успешно.
//
// flags — значения действий flag, накопленные за выполнение.
func (r *Recorder) Complete(ctx context.Context, id uuid.UUID, response map[string]any, premium *float64, duration time.Duration, flags ...domain.RuleFlag) (*domain.Transaction, error) {
	status := domain.TxCompleted
	ms := duration.Milliseconds()
	return r.update(ctx, id, domain.TransactionPatch{
		Status:          &status,
		ResponsePayload: response,
		PremiumResult:   premium,
		Flags:           flags,
		DurationMs:      &ms,
	})
}

// Fail завершает транзакцию ошибкой с коротким сообщением.
func (r *Recorder) Fail(ctx context.Context, id uuid.UUID, message string, duration time.Duration, flags ...domain.RuleFlag) (*domain.Transaction, error) {
	status := domain.TxFailed
	ms := duration.Milliseconds()
	return r.update(ctx, id, domain.TransactionPatch{
		Status:       &status,
		ErrorMessage: &message,
		Flags:        flags,
		DurationMs:   &ms,
	})
}

// Get возвращает транзакцию.
func (r *Recorder) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.store.GetTransaction(ctx, id)
}

// List возвращает страницу транзакций и общее количество.
func (r *Recorder) List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	return r.store.ListTransactions(ctx, filter)
}

// Steps возвращает журнал шагов в порядке записи.
func (r *Recorder) Steps(ctx context.Context, id uuid.UUID) ([]domain.StepLog, error) {
	if _, err := r.store.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	return r.store.ListStepLogs(ctx, id)
}

func (r *Recorder) update(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.Transaction, error) {
	tx, err := r.store.UpdateTransaction(ctx, id, patch)
	if errors.Is(err, repo.ErrInvalidState) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return nil, fmt.Errorf("update transaction %s: %w", id, err)
	}
	return tx, nil
}
