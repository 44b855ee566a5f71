// Package repo содержит хранилища на PostgreSQL (pgx) и встроенные миграции схемы.
//
// Интерфейсы FlowStore, RuleStore, MappingStore, LookupStore и TransactionStore
// реализуются здесь и в пакете memstore (in-memory, для тестов и локального запуска).
package repo
