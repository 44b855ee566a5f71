package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
)

// FlowStore — хранилище flows и их шагов.
type FlowStore interface {
	// GetFlow возвращает flow для (product line, endpoint) с шагами по StepOrder.
	GetFlow(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, error)
	GetFlowByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	ListFlows(ctx context.Context, productLineCode string) ([]domain.Flow, error)

	// CreateFlow создаёт flow вместе с шагами в одной транзакции.
	CreateFlow(ctx context.Context, flow *domain.Flow) error
	UpdateFlow(ctx context.Context, flow *domain.Flow) error
	DeleteFlow(ctx context.Context, id uuid.UUID) error

	AddStep(ctx context.Context, step *domain.Step) error
	UpdateStep(ctx context.Context, step *domain.Step) error
	DeleteStep(ctx context.Context, flowID, stepID uuid.UUID) error

	// ReorderSteps атомарно назначает шагам порядок 1..N по списку ID.
	// Список должен быть перестановкой всех шагов flow, иначе ErrConflict.
	ReorderSteps(ctx context.Context, flowID uuid.UUID, order []uuid.UUID) ([]domain.Step, error)
}

// RuleStore — хранилище бизнес-правил.
type RuleStore interface {
	ListRules(ctx context.Context, productLineCode string) ([]domain.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
	CreateRule(ctx context.Context, rule *domain.Rule) error
	UpdateRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// MappingStore — хранилище наборов field mappings.
type MappingStore interface {
	ListMappings(ctx context.Context, productLineCode string) ([]domain.Mapping, error)
	GetMapping(ctx context.Context, id uuid.UUID) (*domain.Mapping, error)

	// FindMapping возвращает первый (по имени) набор продукта для направления.
	FindMapping(ctx context.Context, productLineCode string, direction domain.MappingDirection) (*domain.Mapping, error)
	CreateMapping(ctx context.Context, m *domain.Mapping) error
	UpdateMapping(ctx context.Context, m *domain.Mapping) error
	DeleteMapping(ctx context.Context, id uuid.UUID) error
}

// LookupStore — хранилище справочников.
type LookupStore interface {
	ListLookupTables(ctx context.Context) ([]domain.LookupTable, error)
	GetLookupTable(ctx context.Context, key string) (*domain.LookupTable, error)
	PutLookupTable(ctx context.Context, table *domain.LookupTable) error
	DeleteLookupTable(ctx context.Context, key string) error
}

// TransactionStore — хранилище транзакций и журналов шагов.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)

	// UpdateTransaction применяет patch атомарно.
	// Недопустимый переход статуса — ErrInvalidState.
	UpdateTransaction(ctx context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.Transaction, error)

	AppendStepLog(ctx context.Context, log *domain.StepLog) error
	ListStepLogs(ctx context.Context, transactionID uuid.UUID) ([]domain.StepLog, error)
}
