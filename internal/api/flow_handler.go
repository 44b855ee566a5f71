package api

import (
	"net/http"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/registry"
)

// ListFlows возвращает flows, опционально по продукту.
// GET /orchestrators?product_line_code=...
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.registry.ListFlows(r.Context(), r.URL.Query().Get("product_line_code"))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if flows == nil {
		flows = []domain.Flow{}
	}
	List(w, flows, len(flows))
}

// GetFlow возвращает flow с шагами.
// GET /orchestrators/{code}/flow/{endpoint}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.registry.GetFlow(r.Context(), r.PathValue("code"), r.PathValue("endpoint"))
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	Success(w, flow)
}

// CreateFlow создаёт flow, опционально сразу с шагами.
// POST /orchestrators/{code}/flow/{endpoint}
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req FlowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	flow := &domain.Flow{
		ProductLineCode: r.PathValue("code"),
		EndpointPath:    r.PathValue("endpoint"),
		Name:            req.Name,
		Status:          req.Status,
	}
	for _, s := range req.Steps {
		flow.Steps = append(flow.Steps, s.ToDomain())
	}

	if err := h.registry.CreateFlow(r.Context(), flow); HandleRepoError(w, h.logger, err, "") {
		return
	}
	Created(w, flow)
}

// UpdateFlow меняет имя и статус flow.
// PUT /orchestrators/{code}/flow/{endpoint}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	var req FlowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Steps) > 0 {
		BadRequest(w, "steps are managed via /steps")
		return
	}

	flow, err := h.registry.UpdateFlow(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), req.Name, req.Status)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	Success(w, flow)
}

// DeleteFlow удаляет flow со всеми шагами.
// DELETE /orchestrators/{code}/flow/{endpoint}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	err := h.registry.DeleteFlow(r.Context(), r.PathValue("code"), r.PathValue("endpoint"))
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	NoContent(w)
}

// AutoGenerateFlow создаёт flow из встроенного шаблона.
// POST /orchestrators/{code}/flow/{endpoint}/auto-generate
func (h *Handler) AutoGenerateFlow(w http.ResponseWriter, r *http.Request) {
	var req AutoGenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	flow, err := h.registry.AutoGenerate(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), req.Format, registry.GenerateOptions{
		EngineURL: req.EngineURL,
		Name:      req.Name,
		Activate:  req.Activate,
	})
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	Created(w, flow)
}

// ListSteps возвращает шаги flow по step_order.
// GET /orchestrators/{code}/flow/{endpoint}/steps
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	flow, err := h.registry.GetFlow(r.Context(), r.PathValue("code"), r.PathValue("endpoint"))
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	steps := flow.Steps
	if steps == nil {
		steps = []domain.Step{}
	}
	List(w, steps, len(steps))
}

// GetStep возвращает один шаг flow.
// GET /orchestrators/{code}/flow/{endpoint}/steps/{id}
func (h *Handler) GetStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	flow, err := h.registry.GetFlow(r.Context(), r.PathValue("code"), r.PathValue("endpoint"))
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	for _, s := range flow.Steps {
		if s.ID == id {
			Success(w, s)
			return
		}
	}
	NotFound(w, "step not found")
}

// AddStep добавляет шаг.
// POST /orchestrators/{code}/flow/{endpoint}/steps
func (h *Handler) AddStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	step := req.ToDomain()
	added, err := h.registry.AddStep(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), &step)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	Created(w, added)
}

// UpdateStep заменяет шаг.
// PUT /orchestrators/{code}/flow/{endpoint}/steps/{id}
func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req StepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	step := req.ToDomain()
	step.ID = id
	updated, err := h.registry.UpdateStep(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), &step)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	Success(w, updated)
}

// DeleteStep удаляет шаг.
// DELETE /orchestrators/{code}/flow/{endpoint}/steps/{id}
func (h *Handler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	err := h.registry.DeleteStep(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), id)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	NoContent(w)
}

// ReorderSteps задаёт новый порядок всех шагов.
// PUT /orchestrators/{code}/flow/{endpoint}/steps/reorder
func (h *Handler) ReorderSteps(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	steps, err := h.registry.Reorder(r.Context(), r.PathValue("code"), r.PathValue("endpoint"), req.StepIDs)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}
	List(w, steps, len(steps))
}
