// Package registry — реестр flows и шагов.
//
// Registry поверх repo.FlowStore:
//   - GetFlow(product line, endpoint) — шаги по step_order, неактивные включены
//   - CRUD flows и шагов с проверкой конфигурации при сохранении
//   - Reorder — атомарная перестановка всех шагов
//   - AutoGenerate — flow из встроенного шаблона (xml, json)
//   - Опциональный кэш чтений (Redis), сбрасывается при любой мутации
package registry
