// Package app собирает зависимости сервисов rating-api и rating-worker.
//
// Порядок сборки:
//  1. Хранилище (PostgreSQL с миграциями или in-memory)
//  2. Кэш flows в Redis (если задан redis.addr)
//  3. RabbitMQ: соединение, топология, publisher (если задан rabbitmq.url)
//  4. Lookup-таблицы и их обновление по расписанию
//  5. Реестр, журнал транзакций, оркестратор
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/shaiso/ratingflow/internal/cache"
	"github.com/shaiso/ratingflow/internal/config"
	"github.com/shaiso/ratingflow/internal/lookup"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/recorder"
	"github.com/shaiso/ratingflow/internal/registry"
	"github.com/shaiso/ratingflow/internal/repo"
	"github.com/shaiso/ratingflow/internal/repo/memstore"
	"github.com/shaiso/ratingflow/internal/steps"
	"github.com/shaiso/ratingflow/internal/telemetry"
	"github.com/shaiso/ratingflow/internal/transform"
)

// App — собранные зависимости сервиса.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Flows        repo.FlowStore
	Rules        repo.RuleStore
	Mappings     repo.MappingStore
	Lookups      repo.LookupStore
	Transactions repo.TransactionStore

	Registry     *registry.Registry
	Recorder     *recorder.Recorder
	Tables       *lookup.Tables
	Orchestrator *orchestrator.Orchestrator

	// Conn и Publisher — nil, если RabbitMQ не настроен.
	Conn      *mq.Connection
	Publisher *mq.Publisher

	closers []func()
}

// LoadConfig читает .env (если есть) и конфигурацию сервиса.
func LoadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return config.Load()
}

// NewLogger создаёт логгер по конфигурации.
func NewLogger(cfg *config.Config) *slog.Logger {
	return telemetry.SetupLogger(telemetry.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// SetupTracing включает экспорт спанов, если tracing.enabled.
func SetupTracing(ctx context.Context, cfg *config.Config, service string) (telemetry.ShutdownFunc, error) {
	if cfg.Tracing.Endpoint != "" {
		os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	}
	name := cfg.Tracing.ServiceName
	if service != "" {
		name = name + "-" + service
	}
	return telemetry.SetupTracing(ctx, cfg.Tracing.Enabled, name)
}

// Build собирает зависимости. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := a.setupStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	regCfg := registry.Config{Store: a.Flows, Logger: logger}
	if cfg.Redis.Addr != "" {
		fc, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			logger.Warn("redis not available, flow cache disabled", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = fc.Close() })
			regCfg.Cache = fc
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}
	a.Registry = registry.New(regCfg)
	a.Recorder = recorder.New(a.Transactions, logger)

	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.Dial(mq.ConnectionConfig{
			URL:       cfg.RabbitMQ.URL,
			OnConnect: mq.DeclareTopology,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("RabbitMQ not available, events and async rating disabled", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = conn.Close() })
			a.Conn = conn
			a.Publisher = mq.NewPublisher(conn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	a.Tables = lookup.New(a.Lookups, logger)
	if err := a.Tables.Reload(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load lookup tables: %w", err)
	}
	if cfg.Lookup.RefreshSchedule != "" {
		refresher, err := lookup.NewRefresher(a.Tables, cfg.Lookup.RefreshSchedule, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		refresher.Start(ctx)
	}

	deps := steps.Deps{
		Transform:  transform.New(a.Tables),
		Mappings:   a.Mappings,
		Rules:      a.Rules,
		Lookups:    a.Tables,
		HTTPClient: &http.Client{Timeout: cfg.Executor.StepTimeout},
	}
	orchCfg := orchestrator.Config{
		Flows:            a.Registry,
		Recorder:         a.Recorder,
		Deps:             deps,
		IterationWorkers: cfg.Executor.IterationWorkers,
		StepTimeout:      cfg.Executor.StepTimeout,
		PremiumField:     cfg.Executor.PremiumField,
		Logger:           logger,
	}
	if a.Publisher != nil {
		orchCfg.Deps.Publisher = a.Publisher
		orchCfg.Publisher = a.Publisher
	}
	a.Orchestrator = orchestrator.New(orchCfg)

	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.Config
	if cfg.Storage != config.StoragePostgres {
		store := memstore.New()
		a.Flows, a.Rules, a.Mappings, a.Lookups, a.Transactions = store, store, store, store, store
		a.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	}

	if cfg.Database.Migrate {
		if err := repo.MigrateUp(cfg.Database.URL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info("migrations applied")
	}

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	a.Logger.Info("connected to database")

	a.Flows = repo.NewFlowRepo(pool)
	a.Rules = repo.NewRuleRepo(pool)
	a.Mappings = repo.NewMappingRepo(pool)
	a.Lookups = repo.NewLookupRepo(pool)
	a.Transactions = repo.NewTransactionRepo(pool)
	return nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
