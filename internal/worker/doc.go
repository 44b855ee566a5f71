// Package worker выполняет асинхронные запросы рейтинга.
//
// # Обзор
//
// Worker — stateless компонент, который потребляет очередь rating.requests.
// API ставит туда запрос с заранее выданным ID транзакции (POST /rate-async),
// воркер выполняет flow через Orchestrator, а итог уходит в
// rating.transactions.completed как обычно.
//
// Экземпляры масштабируются горизонтально и потребляют одну очередь.
//
//	w := worker.New(worker.Config{
//	    Rater:    orch,
//	    Recorder: rec,
//	    Conn:     mqConn,
//	    Logger:   logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Обработка сообщения
//
//  1. Разбор RateRequestedPayload (ошибка — сообщение уходит в DLQ)
//  2. Orchestrator.Rate с TransactionID и CorrelationID из сообщения
//  3. FAILED транзакция — штатный исход, сообщение подтверждается
//  4. Повторная доставка: транзакция с этим ID уже есть, сообщение подтверждается
//
// # Sweep
//
// Если воркер упал посреди flow, транзакция остаётся в RECEIVED, VALIDATING
// или PROCESSING. Периодический sweep переводит такие транзакции в FAILED,
// когда они не менялись дольше StaleAfter. Журнал шагов не трогается.
package worker
