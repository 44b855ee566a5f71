// Package cli реализует ratingctl — инструмент командной строки для rating API.
//
// # Обзор
//
// CLI работает через HTTP и не импортирует внутренние пакеты сервиса.
// Он нужен, чтобы собирать flows, запускать рейтинг и разбирать журнал транзакций.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для rating API. Разбирает envelope ответов (data, list, error).
// Ответ /rate читается напрямую: неуспешный рейтинг тоже несёт stepResults.
//
//	client := cli.NewClient("http://localhost:8080")
//	result, err := client.Rate("HO3", "", cli.RateRequest{Payload: payload})
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr: ratingctl tx list --json | jq .
//
// ## Commands
//
//   - rate PRODUCT [ENDPOINT]
//   - flow: list, show, generate, activate, deactivate, delete
//   - step: list, add, delete, reorder
//   - tx: list, show, steps
//
// Группы создаются фабриками (NewFlowCmd и т.д.), которые принимают clientFn
// и outputFn для ленивого создания Client и Output после разбора флагов.
package cli
