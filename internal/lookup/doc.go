// Package lookup хранит справочные таблицы для lookup-трансформаций и enrich.
//
// Таблицы читаются без блокировок из снимка и обновляются вне транзакций:
// по cron-расписанию (Refresher) или при изменении через API (Put).
package lookup
