package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/ratingflow/internal/lookup"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/recorder"
	"github.com/shaiso/ratingflow/internal/registry"
	"github.com/shaiso/ratingflow/internal/repo"
)

// Rater выполняет рейтинг синхронно.
type Rater interface {
	Rate(ctx context.Context, req orchestrator.RateRequest) (*orchestrator.RateResponse, error)
}

// RateEnqueuer ставит запрос рейтинга в очередь.
type RateEnqueuer interface {
	PublishRateRequested(ctx context.Context, correlationID string, payload mq.RateRequestedPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	rater     Rater
	registry  *registry.Registry
	recorder  *recorder.Recorder
	rules     repo.RuleStore
	mappings  repo.MappingStore
	lookups   repo.LookupStore
	tables    *lookup.Tables
	publisher RateEnqueuer
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Rater    Rater
	Registry *registry.Registry
	Recorder *recorder.Recorder
	Rules    repo.RuleStore
	Mappings repo.MappingStore
	Lookups  repo.LookupStore

	// Tables — кэш lookup-таблиц, обновляется при изменении через API.
	Tables *lookup.Tables

	// Publisher — очередь асинхронного рейтинга. nil — /rate-async отвечает 503.
	Publisher RateEnqueuer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		rater:     cfg.Rater,
		registry:  cfg.Registry,
		recorder:  cfg.Recorder,
		rules:     cfg.Rules,
		mappings:  cfg.Mappings,
		lookups:   cfg.Lookups,
		tables:    cfg.Tables,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
