package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/repo"
)

// Cache — кэш чтений GetFlow.
type Cache interface {
	// Get возвращает flow из кэша. found=false — промах.
	Get(ctx context.Context, productLineCode, endpointPath string) (flow *domain.Flow, found bool, err error)
	Set(ctx context.Context, flow *domain.Flow) error
	Delete(ctx context.Context, productLineCode, endpointPath string) error
}

// Config — параметры Registry.
type Config struct {
	Store  repo.FlowStore
	Cache  Cache
	Logger *slog.Logger
}

// Registry — реестр flows и шагов.
type Registry struct {
	store  repo.FlowStore
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Registry. Cache опционален.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  cfg.Store,
		cache:  cfg.Cache,
		logger: logger.With("component", "registry"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetFlow возвращает flow с шагами по step_order.
// Неактивные шаги включены: их пропускает executor.
func (r *Registry) GetFlow(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, error) {
	if r.cache != nil {
		flow, found, err := r.cache.Get(ctx, productLineCode, endpointPath)
		if err != nil {
			r.logger.Warn("flow cache read failed", "product_line_code", productLineCode, "error", err)
		} else if found {
			flow.SortSteps()
			return flow, nil
		}
	}

	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, err
	}
	flow.SortSteps()

	if r.cache != nil {
		if err := r.cache.Set(ctx, flow); err != nil {
			r.logger.Warn("flow cache write failed", "product_line_code", productLineCode, "error", err)
		}
	}
	return flow, nil
}

// ListFlows возвращает flows продукта (все продукты, если code пустой).
func (r *Registry) ListFlows(ctx context.Context, productLineCode string) ([]domain.Flow, error) {
	return r.store.ListFlows(ctx, productLineCode)
}

// CreateFlow сохраняет новый flow. Шагам без ID и step_order они назначаются по порядку.
// Статус по умолчанию — draft; активный flow должен содержать шаги.
func (r *Registry) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	if flow.ProductLineCode == "" || flow.EndpointPath == "" {
		return fmt.Errorf("%w: product_line_code and endpoint_path are required", ErrInvalidFlow)
	}
	if flow.ID == uuid.Nil {
		flow.ID = uuid.New()
	}
	if flow.Status == "" {
		flow.Status = domain.FlowStatusDraft
	}
	if !flow.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFlow, flow.Status)
	}
	if flow.Name == "" {
		flow.Name = flow.ProductLineCode + " " + flow.EndpointPath
	}

	now := r.now()
	flow.CreatedAt, flow.UpdatedAt = now, now
	for i := range flow.Steps {
		s := &flow.Steps[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.StepOrder == 0 {
			s.StepOrder = i + 1
		}
		s.FlowID = flow.ID
		s.CreatedAt = now
	}

	if err := r.validate(flow); err != nil {
		return err
	}
	if err := r.store.CreateFlow(ctx, flow); err != nil {
		return err
	}
	flow.SortSteps()
	r.invalidate(ctx, flow.ProductLineCode, flow.EndpointPath)

	r.logger.Info("flow created",
		"flow_id", flow.ID,
		"product_line_code", flow.ProductLineCode,
		"endpoint_path", flow.EndpointPath,
		"steps", len(flow.Steps),
	)
	return nil
}

// UpdateFlow меняет имя и статус flow. Перевод в active проверяет весь flow.
func (r *Registry) UpdateFlow(ctx context.Context, productLineCode, endpointPath, name string, status domain.FlowStatus) (*domain.Flow, error) {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, err
	}
	if name != "" {
		flow.Name = name
	}
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFlow, status)
		}
		flow.Status = status
	}
	if err := r.validate(flow); err != nil {
		return nil, err
	}

	flow.UpdatedAt = r.now()
	if err := r.store.UpdateFlow(ctx, flow); err != nil {
		return nil, err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	r.logger.Info("flow updated", "flow_id", flow.ID, "status", flow.Status)
	return flow, nil
}

// DeleteFlow удаляет flow вместе с шагами.
func (r *Registry) DeleteFlow(ctx context.Context, productLineCode, endpointPath string) error {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return err
	}
	if err := r.store.DeleteFlow(ctx, flow.ID); err != nil {
		return err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	r.logger.Info("flow deleted", "flow_id", flow.ID)
	return nil
}

// AddStep добавляет шаг в flow. Без step_order шаг встаёт в конец.
func (r *Registry) AddStep(ctx context.Context, productLineCode, endpointPath string, step *domain.Step) (*domain.Step, error) {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, err
	}
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.StepOrder == 0 {
		step.StepOrder = flow.NextStepOrder()
	}
	step.FlowID = flow.ID
	step.CreatedAt = r.now()

	if err := validateStep(step); err != nil {
		return nil, err
	}
	if err := r.store.AddStep(ctx, step); err != nil {
		return nil, err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	r.logger.Info("step added", "flow_id", flow.ID, "step_name", step.Name, "step_order", step.StepOrder)
	return step, nil
}

// UpdateStep заменяет шаг flow.
func (r *Registry) UpdateStep(ctx context.Context, productLineCode, endpointPath string, step *domain.Step) (*domain.Step, error) {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, err
	}
	current, ok := flow.FindStep(step.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, step.ID)
	}
	step.FlowID = flow.ID
	step.CreatedAt = current.CreatedAt
	if step.StepOrder == 0 {
		step.StepOrder = current.StepOrder
	}

	if err := validateStep(step); err != nil {
		return nil, err
	}
	if err := r.store.UpdateStep(ctx, step); err != nil {
		return nil, err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	return step, nil
}

// DeleteStep удаляет шаг. Порядок остальных шагов не меняется.
func (r *Registry) DeleteStep(ctx context.Context, productLineCode, endpointPath string, stepID uuid.UUID) error {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return err
	}
	if _, ok := flow.FindStep(stepID); !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if err := r.store.DeleteStep(ctx, flow.ID, stepID); err != nil {
		return err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	return nil
}

// Reorder назначает шагам порядок 1..N по списку ID одной операцией.
// order должен быть перестановкой всех шагов flow.
func (r *Registry) Reorder(ctx context.Context, productLineCode, endpointPath string, order []uuid.UUID) ([]domain.Step, error) {
	flow, err := r.store.GetFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, err
	}
	steps, err := r.store.ReorderSteps(ctx, flow.ID, order)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, productLineCode, endpointPath)
	r.logger.Info("steps reordered", "flow_id", flow.ID, "steps", len(steps))
	return steps, nil
}

// validate проверяет шаги flow. Draft flow может быть пустым.
func (r *Registry) validate(flow *domain.Flow) error {
	if len(flow.Steps) == 0 {
		if flow.Status == domain.FlowStatusActive {
			return fmt.Errorf("%w: %w", ErrInvalidFlow, engine.ErrEmptySteps)
		}
		return nil
	}
	if err := engine.ValidateFlow(flow); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}
	return nil
}

func validateStep(step *domain.Step) error {
	if err := engine.ValidateStep(step); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}
	return nil
}

func (r *Registry) invalidate(ctx context.Context, productLineCode, endpointPath string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(context.WithoutCancel(ctx), productLineCode, endpointPath); err != nil {
		r.logger.Warn("flow cache invalidation failed", "product_line_code", productLineCode, "error", err)
	}
}

// IsValidationError сообщает, что ошибка — результат проверки flow.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFlow) || errors.Is(err, ErrUnknownTemplate)
}

// normalizeFormat приводит формат шаблона к ключу.
func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}
