package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig — параметры логгера. Пустые поля берутся из LOG_LEVEL и LOG_FORMAT.
type LogConfig struct {
	Level  string
	Format string
	Output io.Writer
}

// ParseLevel переводит строку уровня в slog.Level.
// Возможные значения: DEBUG, INFO, WARN, ERROR
// По умолчанию: INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger(cfg LogConfig) *slog.Logger {
	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}
	if cfg.Format == "" {
		cfg.Format = os.Getenv("LOG_FORMAT")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"

	// CtxCorrelationID — ключ для x-correlation-id.
	CtxCorrelationID ctxKey = "correlation_id"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithCorrelationID сохраняет correlation id в контексте.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxCorrelationID, id)
}

// CorrelationID возвращает correlation id из контекста или пустую строку.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CtxCorrelationID).(string)
	return id
}

// WithTransaction возвращает логгер с полями транзакции.
func WithTransaction(logger *slog.Logger, transactionID, correlationID, productLineCode string) *slog.Logger {
	return logger.With(
		"transaction_id", transactionID,
		"correlation_id", correlationID,
		"product_line_code", productLineCode,
	)
}

// WithStep возвращает логгер с полями шага.
func WithStep(logger *slog.Logger, stepID, stepName, stepType string) *slog.Logger {
	return logger.With("step_id", stepID, "step_name", stepName, "step_type", stepType)
}
