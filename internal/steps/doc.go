// Package steps содержит обработчики типов шагов flow.
//
// # Обзор
//
// Каждый тип шага (domain.StepType) реализуется Handler и регистрируется
// в Registry. Executor получает обработчик по типу, передаёт ему копию
// рабочего документа и типизированную конфигурацию:
//
//	type Handler interface {
//	    Type() domain.StepType
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Response.Doc — документ после шага (nil — не изменился),
// Response.Output — краткий итог для журнала шагов.
//
// # Registry
//
//	registry := steps.DefaultRegistry(deps)
//	h, err := registry.Get(domain.StepApplyRules)
//	if err != nil {
//	    // неизвестный тип
//	}
//
// # Типы шагов
//
//   - validate_request   — JSON Schema (gojsonschema) и обязательные поля
//   - field_mapping      — transform.Engine.ApplyMappings
//   - apply_rules        — rules.Evaluate; отложенные надбавки в RunState
//   - format_transform   — json поддерево или XML/SOAP строка
//   - call_rating_engine — HTTP или mock движок рейтинга
//   - call_external_api  — HTTP вызов внешней системы
//   - call_orchestrator  — flow другого продукта или удалённый оркестратор
//   - publish_event      — публикация события в RabbitMQ
//   - enrich             — слияние записи lookup-таблицы
//   - generate_value     — uuid, ksuid, timestamp, date
//   - run_custom_flow    — именованный под-flow или присваивания
//
// # Внешние вызовы
//
// HTTP шаги используют общий httpCaller: per-attempt таймаут (timeout_ms),
// retry по domain.RetryPolicy (fixed/exponential backoff, on_status).
// Исчерпание попыток — ошибка external_call.
//
// # Ошибки
//
// Обработчики возвращают *domain.StepError с категорией (validation,
// mapping, rule_rejected, external_call, config, ...). Executor записывает
// её в журнал шага и переводит транзакцию в FAILED.
package steps
