// Rating API — HTTP сервер рейтинга и администрирования flows.
//
// API:
//   - Принимает запросы рейтинга (синхронно и через очередь)
//   - Управляет flows, шагами, правилами, маппингами и lookup-таблицами
//   - Отдаёт журнал транзакций
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/ratingflow/internal/api"
	"github.com/shaiso/ratingflow/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	logger.Info("starting rating-api", "storage", cfg.Storage)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := app.SetupTracing(ctx, cfg, "api")
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	apiCfg := api.Config{
		Rater:    deps.Orchestrator,
		Registry: deps.Registry,
		Recorder: deps.Recorder,
		Rules:    deps.Rules,
		Mappings: deps.Mappings,
		Lookups:  deps.Lookups,
		Tables:   deps.Tables,
		Logger:   logger,
	}
	if deps.Publisher != nil {
		apiCfg.Publisher = deps.Publisher
	}
	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stopped")
}
