// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением; топология объявляется заново после reconnect
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - rate.requested        — асинхронный запрос на рейтинг
//   - transaction.completed — итог транзакции
//   - <event_type>          — события шага publish_event
//
// Exchanges:
//   - rating.requests — запросы на рейтинг (direct)
//   - rating.events   — бизнес-события (topic)
//   - rating.dlq      — dead letter queue
package mq
