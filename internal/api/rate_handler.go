package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/telemetry"
)

const defaultEndpoint = "rate"

// endpointOf возвращает endpoint из пути или "rate".
func endpointOf(r *http.Request) string {
	if ep := r.PathValue("endpoint"); ep != "" {
		return ep
	}
	return defaultEndpoint
}

// Rate выполняет рейтинг синхронно.
// POST /rate/{code}[/{endpoint}]
//
// Тело ответа — RateResponse при любом исходе; статус HTTP зависит от типа ошибки.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	var body RateRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	resp, err := h.rater.Rate(r.Context(), orchestrator.RateRequest{
		ProductLineCode: r.PathValue("code"),
		EndpointPath:    endpointOf(r),
		CorrelationID:   telemetry.CorrelationID(r.Context()),
		Payload:         body.Payload,
		Scope:           body.Scope,
	})
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	JSON(w, rateStatus(resp), resp)
}

// RateAsync ставит запрос рейтинга в очередь и сразу возвращает ID транзакции.
// POST /rate-async/{code}[/{endpoint}]
func (h *Handler) RateAsync(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "async rating is not configured")
		return
	}

	var body RateRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	code, endpoint := r.PathValue("code"), endpointOf(r)

	// Проверяем flow до постановки в очередь
	if h.registry != nil {
		_, err := h.registry.GetFlow(r.Context(), code, endpoint)
		if HandleRepoError(w, h.logger, err, "flow not found") {
			return
		}
	}

	correlationID := telemetry.CorrelationID(r.Context())
	payload := mq.RateRequestedPayload{
		TransactionID:   uuid.New(),
		ProductLineCode: code,
		EndpointPath:    endpoint,
		Payload:         body.Payload,
		Scope:           body.Scope,
	}
	if err := h.publisher.PublishRateRequested(r.Context(), correlationID, payload); err != nil {
		h.logger.Error("failed to enqueue rate request", "correlation_id", correlationID, "error", err)
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "failed to enqueue rate request")
		return
	}

	Accepted(w, RateAcceptedResponse{
		TransactionID:   payload.TransactionID,
		CorrelationID:   correlationID,
		ProductLineCode: code,
		EndpointPath:    endpoint,
		Status:          "queued",
	})
}
