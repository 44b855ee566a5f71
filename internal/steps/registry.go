package steps

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/ratingflow/internal/domain"
)

// Registry — реестр обработчиков по типу шага.
//
// Позволяет регистрировать и получать реализации Handler по типу.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.StepType]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.StepType]Handler),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными обработчиками.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()

	r.Register(NewValidateRequestHandler())
	r.Register(NewFieldMappingHandler(deps.Transform, deps.Mappings))
	r.Register(NewApplyRulesHandler(deps.Rules))
	r.Register(NewFormatTransformHandler(deps.Transform))
	r.Register(NewCallRatingEngineHandler(deps.HTTPClient))
	r.Register(NewCallExternalAPIHandler(deps.HTTPClient))
	r.Register(NewCallOrchestratorHandler(deps.Flows, deps.HTTPClient))
	r.Register(NewPublishEventHandler(deps.Publisher))
	r.Register(NewEnrichHandler(deps.Lookups))
	r.Register(NewGenerateValueHandler())
	r.Register(NewRunCustomFlowHandler(deps.Flows))

	return r
}

// Register регистрирует обработчик.
// Если обработчик с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get возвращает обработчик по типу.
// Возвращает ErrStepNotFound, если тип не зарегистрирован.
func (r *Registry) Get(t domain.StepType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[t]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, t)
	}
	return h, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(t domain.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[t]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Count возвращает количество зарегистрированных обработчиков.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Unregister удаляет обработчик из реестра.
func (r *Registry) Unregister(t domain.StepType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, t)
}
