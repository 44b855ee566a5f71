package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/rules"
)

// --- Rules ---

// ListRules возвращает правила продукта по приоритету.
// GET /products/{code}/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.ListRules(r.Context(), r.PathValue("code"))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if list == nil {
		list = []domain.Rule{}
	}
	List(w, list, len(list))
}

// CreateRule создаёт правило.
// POST /products/{code}/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if !decodeRule(w, r, &rule) {
		return
	}
	rule.ID = uuid.New()
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	if err := h.rules.CreateRule(r.Context(), &rule); HandleRepoError(w, h.logger, err, "") {
		return
	}
	Created(w, rule)
}

// GetRule возвращает правило.
// GET /products/{code}/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.productRule(w, r)
	if !ok {
		return
	}
	Success(w, rule)
}

// UpdateRule заменяет правило.
// PUT /products/{code}/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	current, ok := h.productRule(w, r)
	if !ok {
		return
	}
	var rule domain.Rule
	if !decodeRule(w, r, &rule) {
		return
	}
	rule.ID = current.ID
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := h.rules.UpdateRule(r.Context(), &rule); HandleRepoError(w, h.logger, err, "rule not found") {
		return
	}
	Success(w, rule)
}

// DeleteRule удаляет правило.
// DELETE /products/{code}/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.productRule(w, r)
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(r.Context(), rule.ID); HandleRepoError(w, h.logger, err, "rule not found") {
		return
	}
	NoContent(w)
}

// productRule загружает правило и проверяет, что оно принадлежит продукту из пути.
func (h *Handler) productRule(w http.ResponseWriter, r *http.Request) (*domain.Rule, bool) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return nil, false
	}
	rule, err := h.rules.GetRule(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "rule not found") {
		return nil, false
	}
	if rule.ProductLineCode != r.PathValue("code") {
		NotFound(w, "rule not found")
		return nil, false
	}
	return rule, true
}

// decodeRule читает правило из тела; product line берётся из пути.
func decodeRule(w http.ResponseWriter, r *http.Request, rule *domain.Rule) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, rule); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	rule.ProductLineCode = r.PathValue("code")
	if err := rules.Validate(rule); err != nil {
		Error(w, http.StatusBadRequest, ErrCodeConfig, err.Error())
		return false
	}
	return true
}

// --- Mappings ---

// ListMappings возвращает наборы маппингов продукта.
// GET /products/{code}/mappings
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	list, err := h.mappings.ListMappings(r.Context(), r.PathValue("code"))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if list == nil {
		list = []domain.Mapping{}
	}
	List(w, list, len(list))
}

// CreateMapping создаёт набор маппингов.
// POST /products/{code}/mappings
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var m domain.Mapping
	if !decodeMapping(w, r, &m) {
		return
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt

	if err := h.mappings.CreateMapping(r.Context(), &m); HandleRepoError(w, h.logger, err, "") {
		return
	}
	Created(w, m)
}

// GetMapping возвращает набор маппингов.
// GET /products/{code}/mappings/{id}
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, ok := h.productMapping(w, r)
	if !ok {
		return
	}
	Success(w, m)
}

// UpdateMapping заменяет набор маппингов.
// PUT /products/{code}/mappings/{id}
func (h *Handler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	current, ok := h.productMapping(w, r)
	if !ok {
		return
	}
	var m domain.Mapping
	if !decodeMapping(w, r, &m) {
		return
	}
	m.ID = current.ID
	m.CreatedAt = current.CreatedAt
	m.UpdatedAt = time.Now().UTC()

	if err := h.mappings.UpdateMapping(r.Context(), &m); HandleRepoError(w, h.logger, err, "mapping not found") {
		return
	}
	Success(w, m)
}

// DeleteMapping удаляет набор маппингов.
// DELETE /products/{code}/mappings/{id}
func (h *Handler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	m, ok := h.productMapping(w, r)
	if !ok {
		return
	}
	if err := h.mappings.DeleteMapping(r.Context(), m.ID); HandleRepoError(w, h.logger, err, "mapping not found") {
		return
	}
	NoContent(w)
}

func (h *Handler) productMapping(w http.ResponseWriter, r *http.Request) (*domain.Mapping, bool) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return nil, false
	}
	m, err := h.mappings.GetMapping(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "mapping not found") {
		return nil, false
	}
	if m.ProductLineCode != r.PathValue("code") {
		NotFound(w, "mapping not found")
		return nil, false
	}
	return m, true
}

func decodeMapping(w http.ResponseWriter, r *http.Request, m *domain.Mapping) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, m); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	m.ProductLineCode = r.PathValue("code")
	if err := domain.Validator().Struct(m); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	if err := engine.ValidateFieldMappings(m.Fields); err != nil {
		Error(w, http.StatusBadRequest, ErrCodeConfig, err.Error())
		return false
	}
	return true
}

// --- Lookup tables ---

// ListLookupTables возвращает все справочники.
// GET /lookup-tables
func (h *Handler) ListLookupTables(w http.ResponseWriter, r *http.Request) {
	list, err := h.lookups.ListLookupTables(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if list == nil {
		list = []domain.LookupTable{}
	}
	List(w, list, len(list))
}

// GetLookupTable возвращает справочник.
// GET /lookup-tables/{key}
func (h *Handler) GetLookupTable(w http.ResponseWriter, r *http.Request) {
	t, err := h.lookups.GetLookupTable(r.Context(), r.PathValue("key"))
	if HandleRepoError(w, h.logger, err, "lookup table not found") {
		return
	}
	Success(w, t)
}

// PutLookupTable создаёт или заменяет справочник и обновляет кэш.
// PUT /lookup-tables/{key}
func (h *Handler) PutLookupTable(w http.ResponseWriter, r *http.Request) {
	var req LookupTableRequest
	if !decodeBody(w, r, &req) {
		return
	}

	table := domain.LookupTable{
		Key:       r.PathValue("key"),
		Name:      req.Name,
		Entries:   req.Entries,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.lookups.PutLookupTable(r.Context(), &table); HandleRepoError(w, h.logger, err, "") {
		return
	}
	if h.tables != nil {
		h.tables.Put(table)
	}
	Success(w, table)
}

// DeleteLookupTable удаляет справочник.
// DELETE /lookup-tables/{key}
func (h *Handler) DeleteLookupTable(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.lookups.DeleteLookupTable(r.Context(), key); HandleRepoError(w, h.logger, err, "lookup table not found") {
		return
	}
	if h.tables != nil {
		h.tables.Remove(key)
	}
	NoContent(w)
}

// ReloadLookupTables перечитывает все справочники в кэш.
// POST /lookup-tables/reload
func (h *Handler) ReloadLookupTables(w http.ResponseWriter, r *http.Request) {
	if h.tables == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "lookup cache is not configured")
		return
	}
	if err := h.tables.Reload(r.Context()); err != nil {
		InternalError(w, h.logger, fmt.Errorf("reload lookup tables: %w", err))
		return
	}
	Success(w, map[string]any{"loaded_at": h.tables.LoadedAt()})
}
