// Package orchestrator выполняет flows рейтинга.
//
// Orchestrator отвечает за:
//   - Загрузку активного flow для (product line, endpoint)
//   - Последовательный запуск шагов через steps.Registry
//   - Пропуск неактивных шагов, шагов с ложным run condition и шагов, отменённых правилом
//   - Машину состояний транзакции RECEIVED → VALIDATING → PROCESSING → COMPLETED/FAILED
//   - Запись журнала шагов и счётчиков через recorder
//   - Iterative шаги: элементы массива обрабатываются ограниченным пулом (errgroup)
//   - Отмену: дальнейшие шаги не запускаются, журнал до точки отмены сохраняется
//   - Вложенные flows для call_orchestrator и run_custom_flow
//
// Результат — RateResponse с полным stepResults при любом исходе.
package orchestrator
