package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/steps"
	"github.com/shaiso/ratingflow/internal/telemetry"
)

// Статусы RateResponse.
const (
	RateStatusCompleted = "completed"
	RateStatusFailed    = "failed"
)

// RateRequest — запрос на рейтинг.
type RateRequest struct {
	ProductLineCode string
	EndpointPath    string

	// CorrelationID — x-correlation-id. Пусто — будет сгенерирован.
	CorrelationID string

	// TransactionID — заранее выданный ID (асинхронный рейтинг). Пусто — будет сгенерирован.
	TransactionID uuid.UUID

	Payload map[string]any
	Scope   map[string]any
}

// StepResult — запись stepResults в ответе.
type StepResult struct {
	StepID         uuid.UUID            `json:"stepId"`
	StepType       domain.StepType      `json:"stepType"`
	StepName       string               `json:"stepName"`
	StepOrder      int                  `json:"stepOrder"`
	IterationIndex *int                 `json:"iterationIndex,omitempty"`
	Status         domain.StepLogStatus `json:"status"`
	DurationMs     int64                `json:"durationMs"`
	Error          string               `json:"error,omitempty"`
	Output         map[string]any       `json:"output,omitempty"`
}

// RateResponse — ответ на запрос рейтинга. stepResults присутствует при любом исходе.
type RateResponse struct {
	TransactionID   uuid.UUID        `json:"transactionId"`
	CorrelationID   string           `json:"correlationId"`
	ProductLineCode string           `json:"productLineCode"`
	Status          string           `json:"status"`
	Response        map[string]any   `json:"response,omitempty"`
	Premium         *float64         `json:"premium,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	ErrorKind       domain.ErrorKind `json:"errorKind,omitempty"`

	// RejectReason — текст действия reject, если транзакцию отклонило правило.
	RejectReason string `json:"rejectReason,omitempty"`

	// Flags — значения действий flag. Заполняется при любом исходе.
	Flags []domain.RuleFlag `json:"flags,omitempty"`

	StepResults     []StepResult `json:"stepResults"`
	TotalDurationMs int64        `json:"totalDurationMs"`
}

// Rate выполняет flow продукта над payload и возвращает RateResponse.
//
// Ошибка шага не возвращается как error: транзакция завершается FAILED,
// а ответ содержит статус failed и полный stepResults. error возвращается
// только если транзакцию не удалось начать (нет flow, ошибка хранилища).
func (o *Orchestrator) Rate(ctx context.Context, req RateRequest) (*RateResponse, error) {
	if req.ProductLineCode == "" {
		return nil, fmt.Errorf("%w: product line code is required", ErrInvalidRequest)
	}
	if req.EndpointPath == "" {
		req.EndpointPath = defaultEndpoint
	}

	flow, err := o.loadFlow(ctx, req.ProductLineCode, req.EndpointPath)
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:              req.TransactionID,
		CorrelationID:   req.CorrelationID,
		ProductLineCode: req.ProductLineCode,
		EndpointPath:    req.EndpointPath,
		FlowID:          &flow.ID,
		Scope:           req.Scope,
		RequestPayload:  req.Payload,
	}
	if err := o.recorder.Begin(ctx, tx); err != nil {
		return nil, err
	}

	logger := telemetry.WithTransaction(o.logger, tx.ID.String(), tx.CorrelationID, tx.ProductLineCode)
	ctx = telemetry.WithLogger(ctx, logger)
	ctx = telemetry.WithCorrelationID(ctx, tx.CorrelationID)

	ctx, span := telemetry.StartSpan(ctx, "rate "+tx.ProductLineCode+"/"+tx.EndpointPath, spanAttrs(tx)...)
	defer span.End()

	logger.Info("transaction started", "endpoint_path", tx.EndpointPath, "steps", len(flow.Steps))
	started := time.Now()

	run := steps.NewRunState(tx.ID, tx.CorrelationID, tx.ProductLineCode, tx.EndpointPath, req.Scope)
	exec := newExecution(o, tx, run, logger)

	doc := engine.Clone(req.Payload)
	if doc == nil {
		doc = make(map[string]any)
	}

	doc, runErr := exec.runFlow(ctx, flow, doc)
	if runErr == nil {
		// Flow только из validate_request: VALIDATING → PROCESSING перед завершением
		runErr = exec.transition(ctx, domain.TxProcessing)
	}

	duration := time.Since(started)
	wctx := context.WithoutCancel(ctx)

	resp := &RateResponse{
		TransactionID:   tx.ID,
		CorrelationID:   tx.CorrelationID,
		ProductLineCode: tx.ProductLineCode,
		TotalDurationMs: duration.Milliseconds(),
		Flags:           run.Flags(),
	}

	var final *domain.Transaction
	if runErr != nil {
		kind := failureKind(runErr)
		message := failureMessage(runErr)
		if final, err = o.recorder.Fail(wctx, tx.ID, message, duration, resp.Flags...); err != nil {
			logger.Error("failed to mark transaction failed", "error", err)
		}
		resp.Status = RateStatusFailed
		resp.ErrorMessage = message
		resp.ErrorKind = kind
		resp.RejectReason = rejectReason(runErr)
		telemetry.SetSpanError(span, runErr, telemetry.AttrStatus.String(string(domain.TxFailed)))
		logger.Warn("transaction failed", "error", message, "duration_ms", duration.Milliseconds())
	} else {
		premium := o.premium(doc)
		if final, err = o.recorder.Complete(wctx, tx.ID, doc, premium, duration, resp.Flags...); err != nil {
			// Шаги выполнены, но итог не записан: ответ не должен расходиться с журналом
			return nil, fmt.Errorf("complete transaction: %w", err)
		}
		resp.Status = RateStatusCompleted
		resp.Response = doc
		resp.Premium = premium
		span.SetAttributes(telemetry.AttrStatus.String(string(domain.TxCompleted)))
		logger.Info("transaction completed", "duration_ms", duration.Milliseconds())
	}
	resp.StepResults = exec.Results()
	if resp.StepResults == nil {
		resp.StepResults = []StepResult{}
	}

	status := domain.TxCompleted
	if runErr != nil {
		status = domain.TxFailed
	}
	telemetry.ObserveTransaction(tx.ProductLineCode, string(status), duration)
	o.publishCompleted(wctx, tx, final, status, resp)

	return resp, nil
}

// premium извлекает премию из итогового документа.
func (o *Orchestrator) premium(doc map[string]any) *float64 {
	v, found := engine.Get(doc, o.premiumField)
	if !found {
		return nil
	}
	f, ok := engine.ToFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func (o *Orchestrator) publishCompleted(ctx context.Context, tx, final *domain.Transaction, status domain.TransactionStatus, resp *RateResponse) {
	if o.publisher == nil {
		return
	}
	payload := mq.TransactionCompletedPayload{
		TransactionID:   tx.ID,
		ProductLineCode: tx.ProductLineCode,
		EndpointPath:    tx.EndpointPath,
		Status:          string(status),
		PremiumResult:   resp.Premium,
		ErrorMessage:    resp.ErrorMessage,
		RejectReason:    resp.RejectReason,
		Flags:           resp.Flags,
		DurationMs:      resp.TotalDurationMs,
	}
	if final != nil {
		payload.DurationMs = final.DurationMs
	}
	if err := o.publisher.PublishTransactionCompleted(ctx, tx.CorrelationID, payload); err != nil {
		o.logger.Warn("failed to publish transaction.completed", "transaction_id", tx.ID, "error", err)
	}
}

func failureKind(err error) domain.ErrorKind {
	var failure *StepFailure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return domain.KindOf(err)
}

// rejectReason возвращает текст reject-действия правила. Для остальных ошибок пусто.
func rejectReason(err error) string {
	var se *domain.StepError
	if !errors.As(err, &se) || se.Kind != domain.KindRuleRejected {
		return ""
	}
	return se.Message
}

// failureMessage возвращает короткое сообщение для Transaction.ErrorMessage.
func failureMessage(err error) string {
	var failure *StepFailure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	return "internal: transaction aborted"
}
