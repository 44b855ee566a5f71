package api

import (
	"net/http"

	"github.com/shaiso/ratingflow/internal/domain"
)

// ListTransactions возвращает транзакции с фильтрацией.
// GET /transactions?product_line_code=...&status=...&correlation_id=...&limit=...&offset=...
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TransactionFilter{
		ProductLineCode: q.Get("product_line_code"),
		Status:          domain.TransactionStatus(q.Get("status")),
		CorrelationID:   q.Get("correlation_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		BadRequest(w, "invalid status")
		return
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	txs, total, err := h.recorder.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TransactionResponse, len(txs))
	for i, t := range txs {
		result[i] = TransactionFromDomain(t)
	}
	List(w, result, total)
}

// GetTransaction возвращает транзакцию по ID.
// GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.recorder.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "transaction not found") {
		return
	}
	Success(w, TransactionFromDomain(*tx))
}

// ListTransactionSteps возвращает журнал шагов транзакции.
// GET /transactions/{id}/steps
func (h *Handler) ListTransactionSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	logs, err := h.recorder.Steps(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "transaction not found") {
		return
	}
	if logs == nil {
		logs = []domain.StepLog{}
	}
	List(w, logs, len(logs))
}
