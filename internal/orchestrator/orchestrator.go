package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/recorder"
	"github.com/shaiso/ratingflow/internal/repo"
	"github.com/shaiso/ratingflow/internal/steps"
)

// Значения конфигурации по умолчанию.
const (
	defaultIterationWorkers = 4
	defaultPremiumField     = "premium"
	defaultEndpoint         = "rate"
)

// FlowSource — источник flow (registry.Registry).
type FlowSource interface {
	GetFlow(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, error)
}

// CompletionPublisher публикует итог транзакции.
type CompletionPublisher interface {
	PublishTransactionCompleted(ctx context.Context, correlationID string, payload mq.TransactionCompletedPayload) error
}

// Orchestrator — Step Executor.
//
// Выполняет шаги flow строго последовательно: выход шага — вход следующего.
// Параллельно выполняются только элементы iterative шагов, через
// ограниченный пул. Каждый шаг оставляет запись в журнале транзакции.
type Orchestrator struct {
	flows     FlowSource
	recorder  *recorder.Recorder
	registry  *steps.Registry
	publisher CompletionPublisher

	iterationWorkers int
	stepTimeout      time.Duration
	premiumField     string

	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Flows — источник flow.
	Flows FlowSource

	// Recorder — журнал транзакций.
	Recorder *recorder.Recorder

	// Deps — зависимости обработчиков шагов. Deps.Flows заполняется оркестратором.
	Deps steps.Deps

	// Registry — готовый реестр обработчиков. Если nil, строится steps.DefaultRegistry(Deps).
	Registry *steps.Registry

	// Publisher — публикация transaction.completed (опционально).
	Publisher CompletionPublisher

	// IterationWorkers — размер пула для iterative шагов (default: 4).
	IterationWorkers int

	// StepTimeout — таймаут одного шага, 0 — без таймаута.
	StepTimeout time.Duration

	// PremiumField — путь премии в итоговом документе (default: "premium").
	PremiumField string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	workers := cfg.IterationWorkers
	if workers <= 0 {
		workers = defaultIterationWorkers
	}

	premiumField := cfg.PremiumField
	if premiumField == "" {
		premiumField = defaultPremiumField
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		flows:            cfg.Flows,
		recorder:         cfg.Recorder,
		publisher:        cfg.Publisher,
		iterationWorkers: workers,
		stepTimeout:      cfg.StepTimeout,
		premiumField:     premiumField,
		logger:           logger,
	}

	o.registry = cfg.Registry
	if o.registry == nil {
		deps := cfg.Deps
		deps.Flows = o
		o.registry = steps.DefaultRegistry(deps)
	}

	return o
}

// Registry возвращает реестр обработчиков шагов.
func (o *Orchestrator) Registry() *steps.Registry {
	return o.registry
}

// loadFlow загружает активный flow.
func (o *Orchestrator) loadFlow(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, error) {
	flow, err := o.flows.GetFlow(ctx, productLineCode, endpointPath)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFlowNotFound, productLineCode, endpointPath)
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	if flow.Status != domain.FlowStatusActive {
		return nil, fmt.Errorf("%w: %s/%s is %s", ErrFlowNotActive, productLineCode, endpointPath, flow.Status)
	}
	flow.SortSteps()
	return flow, nil
}

// RunFlow выполняет вложенный flow без записи в журнал.
// Используется шагами call_orchestrator и run_custom_flow.
func (o *Orchestrator) RunFlow(ctx context.Context, productLineCode, endpointPath string, doc map[string]any, run *steps.RunState) (map[string]any, error) {
	flow, err := o.loadFlow(ctx, productLineCode, endpointPath)
	if err != nil {
		return nil, domain.NewStepError(domain.KindConfig, "", fmt.Sprintf("sub-flow %s/%s", productLineCode, endpointPath), err)
	}

	exec := newExecution(o, nil, run, o.logger.With("sub_flow", productLineCode+"/"+endpointPath, "depth", run.Depth))
	out, err := exec.runFlow(ctx, flow, doc)
	if err != nil {
		var failure *StepFailure
		if errors.As(err, &failure) && failure.Err != nil {
			return nil, failure.Err
		}
		return nil, err
	}
	return out, nil
}
