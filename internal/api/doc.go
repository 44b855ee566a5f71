// Package api содержит HTTP API сервер рейтинга.
//
// Структура:
//   - handler.go             — Handler с DI (registry, recorder, хранилища, publisher)
//   - routes.go              — регистрация маршрутов
//   - middleware.go          — middleware (correlation id, logging, recovery)
//   - response.go            — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                 — Data Transfer Objects (request/response)
//   - rate_handler.go        — /rate и /rate-async
//   - flow_handler.go        — /orchestrators: flows и шаги
//   - transaction_handler.go — /transactions
//   - admin_handler.go       — правила, маппинги и lookup-таблицы
package api
