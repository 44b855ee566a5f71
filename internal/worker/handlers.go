package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/recorder"
	"github.com/shaiso/ratingflow/internal/repo"
	"github.com/shaiso/ratingflow/internal/telemetry"
)

// handleRateRequested выполняет рейтинг из сообщения rating.requests.
//
// Неуспешный рейтинг (FAILED транзакция) — штатный исход, сообщение подтверждается.
// Повторная доставка уже записанной транзакции тоже подтверждается.
// Остальные ошибки возвращаются, и сообщение уходит в DLQ.
func (w *Worker) handleRateRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RateRequestedPayload](&delivery.Message)
	if err != nil {
		telemetry.AsyncRequests.WithLabelValues("invalid").Inc()
		w.logger.Error("failed to parse rate.requested payload", "message_id", delivery.Message.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	logger := w.logger.With(
		"transaction_id", payload.TransactionID,
		"correlation_id", delivery.Message.CorrelationID,
		"product_line_code", payload.ProductLineCode,
	)
	logger.Debug("received rate.requested")

	resp, err := w.rater.Rate(ctx, orchestrator.RateRequest{
		ProductLineCode: payload.ProductLineCode,
		EndpointPath:    payload.EndpointPath,
		CorrelationID:   delivery.Message.CorrelationID,
		TransactionID:   payload.TransactionID,
		Payload:         payload.Payload,
		Scope:           payload.Scope,
	})
	if err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			telemetry.AsyncRequests.WithLabelValues("duplicate").Inc()
			logger.Debug("transaction already recorded, skipping redelivery")
			return nil
		}
		telemetry.AsyncRequests.WithLabelValues("rejected").Inc()
		logger.Error("rate request not executed", "error", err)
		return fmt.Errorf("rate %s: %w", payload.TransactionID, err)
	}

	telemetry.AsyncRequests.WithLabelValues(resp.Status).Inc()
	logger.Info("queued rate request processed",
		"status", resp.Status,
		"duration_ms", resp.TotalDurationMs,
	)
	return nil
}

// sweep помечает FAILED незавершённые транзакции без изменений дольше staleAfter.
// Возвращает число закрытых транзакций.
func (w *Worker) sweep(ctx context.Context) int {
	now := w.now()
	cutoff := now.Add(-w.staleAfter)
	reason := fmt.Sprintf("abandoned: no progress for %s", w.staleAfter)

	swept := 0
	for _, status := range []domain.TransactionStatus{domain.TxReceived, domain.TxValidating, domain.TxProcessing} {
		for {
			txs, _, err := w.recorder.List(ctx, domain.TransactionFilter{
				Status:        status,
				UpdatedBefore: cutoff,
				Limit:         w.batchSize,
			})
			if err != nil {
				w.logger.Error("failed to list stale transactions", "status", status, "error", err)
				break
			}

			closed := 0
			for i := range txs {
				tx := &txs[i]
				_, err := w.recorder.Fail(ctx, tx.ID, reason, now.Sub(tx.CreatedAt))
				if errors.Is(err, recorder.ErrInvalidTransition) {
					// Транзакция завершилась между выборкой и обновлением
					continue
				}
				if err != nil {
					w.logger.Error("failed to close stale transaction", "transaction_id", tx.ID, "error", err)
					continue
				}
				closed++
				telemetry.TransactionsAbandoned.Inc()
				w.logger.Warn("stale transaction failed",
					"transaction_id", tx.ID,
					"product_line_code", tx.ProductLineCode,
					"status", status,
					"updated_at", tx.UpdatedAt,
				)
			}
			swept += closed

			if len(txs) < w.batchSize || closed == 0 {
				break
			}
		}
	}

	if swept > 0 {
		w.logger.Info("sweep closed stale transactions", "count", swept)
	}
	return swept
}
