// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog, correlation id в контексте
//   - metrics.go — Prometheus метрики транзакций, шагов и внешних вызовов
//   - tracing.go — OpenTelemetry спаны на транзакцию и шаг
//
// Все сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
