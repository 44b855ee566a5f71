package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		CorrelationID(),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Rating
	handle("POST /rate/{code}", h.Rate)
	handle("POST /rate/{code}/{endpoint}", h.Rate)
	handle("POST /rate-async/{code}", h.RateAsync)
	handle("POST /rate-async/{code}/{endpoint}", h.RateAsync)

	// Flows и шаги
	handle("GET /orchestrators", h.ListFlows)
	handle("GET /orchestrators/{code}/flow/{endpoint}", h.GetFlow)
	handle("POST /orchestrators/{code}/flow/{endpoint}", h.CreateFlow)
	handle("PUT /orchestrators/{code}/flow/{endpoint}", h.UpdateFlow)
	handle("DELETE /orchestrators/{code}/flow/{endpoint}", h.DeleteFlow)
	handle("POST /orchestrators/{code}/flow/{endpoint}/auto-generate", h.AutoGenerateFlow)
	handle("GET /orchestrators/{code}/flow/{endpoint}/steps", h.ListSteps)
	handle("POST /orchestrators/{code}/flow/{endpoint}/steps", h.AddStep)
	handle("PUT /orchestrators/{code}/flow/{endpoint}/steps/reorder", h.ReorderSteps)
	handle("GET /orchestrators/{code}/flow/{endpoint}/steps/{id}", h.GetStep)
	handle("PUT /orchestrators/{code}/flow/{endpoint}/steps/{id}", h.UpdateStep)
	handle("DELETE /orchestrators/{code}/flow/{endpoint}/steps/{id}", h.DeleteStep)

	// Transactions
	handle("GET /transactions", h.ListTransactions)
	handle("GET /transactions/{id}", h.GetTransaction)
	handle("GET /transactions/{id}/steps", h.ListTransactionSteps)

	// Rules
	handle("GET /products/{code}/rules", h.ListRules)
	handle("POST /products/{code}/rules", h.CreateRule)
	handle("GET /products/{code}/rules/{id}", h.GetRule)
	handle("PUT /products/{code}/rules/{id}", h.UpdateRule)
	handle("DELETE /products/{code}/rules/{id}", h.DeleteRule)

	// Mappings
	handle("GET /products/{code}/mappings", h.ListMappings)
	handle("POST /products/{code}/mappings", h.CreateMapping)
	handle("GET /products/{code}/mappings/{id}", h.GetMapping)
	handle("PUT /products/{code}/mappings/{id}", h.UpdateMapping)
	handle("DELETE /products/{code}/mappings/{id}", h.DeleteMapping)

	// Lookup tables
	handle("GET /lookup-tables", h.ListLookupTables)
	handle("POST /lookup-tables/reload", h.ReloadLookupTables)
	handle("GET /lookup-tables/{key}", h.GetLookupTable)
	handle("PUT /lookup-tables/{key}", h.PutLookupTable)
	handle("DELETE /lookup-tables/{key}", h.DeleteLookupTable)

	// Служебные
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
