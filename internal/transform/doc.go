// Package transform — Transformation Engine.
//
// Выполняет трансформации полей (direct, lookup, multiply, date, expression, ...)
// и применяет маппинги с политикой ошибок на уровне поля.
// Набор типов закрыт: неизвестный тип — ошибка конфигурации.
package transform
