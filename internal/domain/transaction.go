package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus — статус транзакции рейтинга.
//
// Жизненный цикл:
//
//	RECEIVED → VALIDATING → PROCESSING → COMPLETED
//	         ↘ PROCESSING (flow без validate_request)
//	любой нетерминальный → FAILED
type TransactionStatus string

const (
	// TxReceived — запрос принят, шаги ещё не выполнялись.
	TxReceived TransactionStatus = "RECEIVED"

	// TxValidating — выполняется validate_request.
	TxValidating TransactionStatus = "VALIDATING"

	// TxProcessing — валидация пройдена, выполняются остальные шаги.
	TxProcessing TransactionStatus = "PROCESSING"

	// TxCompleted — все активные шаги завершились успешно.
	TxCompleted TransactionStatus = "COMPLETED"

	// TxFailed — шаг вернул фатальную ошибку или транзакция отменена.
	TxFailed TransactionStatus = "FAILED"
)

// IsTerminal возвращает true для COMPLETED и FAILED.
func (s TransactionStatus) IsTerminal() bool {
	return s == TxCompleted || s == TxFailed
}

// Valid возвращает true для известных статусов.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TxReceived, TxValidating, TxProcessing, TxCompleted, TxFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода.
// Повторная установка того же нетерминального статуса допустима.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case TxReceived:
		return next == TxValidating || next == TxProcessing || next == TxFailed
	case TxValidating:
		return next == TxProcessing || next == TxFailed
	case TxProcessing:
		return next == TxCompleted || next == TxFailed
	default:
		return false
	}
}

// Transaction — одно выполнение flow для одного запроса.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	CorrelationID   string            `json:"correlation_id"`
	ProductLineCode string            `json:"product_line_code"`
	EndpointPath    string            `json:"endpoint_path"`
	FlowID          *uuid.UUID        `json:"flow_id,omitempty"`
	Status          TransactionStatus `json:"status"`
	Scope           map[string]any    `json:"scope,omitempty"`
	RequestPayload  map[string]any    `json:"request_payload,omitempty"`
	ResponsePayload map[string]any    `json:"response_payload,omitempty"`
	PremiumResult   *float64          `json:"premium_result,omitempty"`
	Flags           []RuleFlag        `json:"flags,omitempty"`

	// ErrorMessage — короткое описание без чувствительных данных.
	// Полная ошибка хранится в StepLog упавшего шага.
	ErrorMessage string `json:"error_message,omitempty"`

	DurationMs     int64 `json:"duration_ms"`
	StepCount      int   `json:"step_count"`
	CompletedSteps int   `json:"completed_steps"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TransactionPatch — частичное обновление транзакции.
//
// Счётчики задаются приращениями, поэтому они только растут.
type TransactionPatch struct {
	Status          *TransactionStatus
	ResponsePayload map[string]any
	PremiumResult   *float64
	Flags           []RuleFlag
	ErrorMessage    *string
	DurationMs      *int64

	StepCountDelta      int
	CompletedStepsDelta int
}

// Apply применяет patch к транзакции. Вызывающий проверяет переход статуса заранее.
func (p *TransactionPatch) Apply(tx *Transaction, now time.Time) {
	if p.Status != nil {
		tx.Status = *p.Status
		if p.Status.IsTerminal() {
			tx.CompletedAt = &now
		}
	}
	if p.ResponsePayload != nil {
		tx.ResponsePayload = p.ResponsePayload
	}
	if p.PremiumResult != nil {
		v := *p.PremiumResult
		tx.PremiumResult = &v
	}
	if p.Flags != nil {
		tx.Flags = append([]RuleFlag(nil), p.Flags...)
	}
	if p.ErrorMessage != nil {
		tx.ErrorMessage = *p.ErrorMessage
	}
	if p.DurationMs != nil {
		tx.DurationMs = *p.DurationMs
	}
	if p.StepCountDelta > 0 {
		tx.StepCount += p.StepCountDelta
	}
	if p.CompletedStepsDelta > 0 {
		tx.CompletedSteps += p.CompletedStepsDelta
	}
	tx.UpdatedAt = now
}

// TransactionFilter — фильтр списка транзакций.
type TransactionFilter struct {
	ProductLineCode string
	Status          TransactionStatus
	CorrelationID   string

	// UpdatedBefore — только транзакции, не менявшиеся с этого момента. Нулевое значение — без фильтра.
	UpdatedBefore time.Time

	Limit  int
	Offset int
}

// StepLogStatus — статус записи журнала шага.
type StepLogStatus string

const (
	StepLogPending   StepLogStatus = "PENDING"
	StepLogRunning   StepLogStatus = "RUNNING"
	StepLogCompleted StepLogStatus = "COMPLETED"
	StepLogFailed    StepLogStatus = "FAILED"
	StepLogSkipped   StepLogStatus = "SKIPPED"
)

// StepLog — запись о выполнении шага в транзакции. Только добавляется.
type StepLog struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	StepID        uuid.UUID  `json:"step_id"`
	StepType      StepType   `json:"step_type"`
	StepName      string     `json:"step_name"`
	StepOrder     int        `json:"step_order"`

	// IterationIndex — индекс элемента для iterative шагов, nil для one_time.
	IterationIndex *int `json:"iteration_index,omitempty"`

	Status         StepLogStatus  `json:"status"`
	InputSnapshot  map[string]any `json:"input_snapshot,omitempty"`
	OutputSnapshot map[string]any `json:"output_snapshot,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}
