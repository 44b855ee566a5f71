package steps

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/rules"
	"github.com/shaiso/ratingflow/internal/transform"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrMissingDependency — обработчику не передана нужная зависимость.
	ErrMissingDependency = errors.New("step dependency is not configured")

	// ErrNestingTooDeep — слишком глубокая вложенность под-flow.
	ErrNestingTooDeep = errors.New("sub-flow nesting too deep")
)

// MaxFlowDepth — максимальная глубина вложенности run_custom_flow и call_orchestrator.
const MaxFlowDepth = 5

// Handler — обработчик типа шага.
//
// Каждый тип шага (field_mapping, apply_rules, call_rating_engine, ...)
// реализует этот интерфейс и регистрируется в Registry.
type Handler interface {
	// Type возвращает тип шага.
	Type() domain.StepType

	// Execute выполняет шаг над req.Doc.
	// Обработчик может менять req.Doc: executor передаёт копию.
	// Обработчик должен проверять ctx.Done() на блокирующих операциях.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// Step — определение шага.
	Step *domain.Step

	// Config — декодированная типизированная конфигурация.
	Config domain.StepConfig

	// Doc — рабочий документ (для iterative шагов — элемент массива).
	Doc map[string]any

	// Root — документ транзакции. Для one_time шагов совпадает с Doc.
	// Для iterative шагов доступен только для чтения.
	Root map[string]any

	// Index — индекс элемента для iterative шагов.
	Index *int

	// Run — состояние выполнения транзакции.
	Run *RunState
}

// Response — результат выполнения шага.
type Response struct {
	// Doc — рабочий документ после шага. nil — документ не изменился.
	Doc map[string]any

	// Output — краткий итог шага для stepResults (может быть nil).
	Output map[string]any
}

// NewResponse создаёт Response.
func NewResponse(doc map[string]any, output map[string]any) *Response {
	return &Response{Doc: doc, Output: output}
}

// TemplateContext строит контекст шаблонов для конфигурации внешних вызовов.
func (r *Request) TemplateContext() *engine.Context {
	tc := engine.NewContext(r.Doc)
	if r.Run != nil {
		if r.Run.Scope != nil {
			tc.Scope = r.Run.Scope
		}
		tc.SetMeta("transaction_id", r.Run.TransactionID.String())
		tc.SetMeta("correlation_id", r.Run.CorrelationID)
		tc.SetMeta("product_line_code", r.Run.ProductLineCode)
		tc.SetMeta("endpoint_path", r.Run.EndpointPath)
	}
	if r.Step != nil {
		tc.SetMeta("step_name", r.Step.Name)
	}
	return tc
}

// RunState — изменяемое состояние одной транзакции, общее для её шагов.
//
// Отложенные корректировки, пропуски шагов и флаги разделяются
// с вложенными под-flow через Child.
type RunState struct {
	TransactionID   uuid.UUID
	CorrelationID   string
	ProductLineCode string
	EndpointPath    string
	Scope           map[string]any
	Depth           int

	shared *runShared
}

type runShared struct {
	mu       sync.Mutex
	deferred []rules.Adjustment
	skip     map[string]bool
	flags    []rules.Flag
}

// NewRunState создаёт состояние для новой транзакции.
func NewRunState(transactionID uuid.UUID, correlationID, productLineCode, endpointPath string, scope map[string]any) *RunState {
	return &RunState{
		TransactionID:   transactionID,
		CorrelationID:   correlationID,
		ProductLineCode: productLineCode,
		EndpointPath:    endpointPath,
		Scope:           scope,
		shared:          &runShared{skip: make(map[string]bool)},
	}
}

// Child возвращает состояние для вложенного flow.
// Пустой productLineCode оставляет продукт родителя.
func (s *RunState) Child(productLineCode, endpointPath string) (*RunState, error) {
	if s.Depth+1 > MaxFlowDepth {
		return nil, domain.NewStepError(domain.KindConfig, "", "sub-flow nesting exceeds limit", ErrNestingTooDeep)
	}
	child := *s
	child.Depth++
	if productLineCode != "" {
		child.ProductLineCode = productLineCode
	}
	if endpointPath != "" {
		child.EndpointPath = endpointPath
	}
	return &child, nil
}

// Isolated возвращает копию состояния с собственными отложенными
// корректировками, пропусками и флагами. Для flow другого продукта.
func (s *RunState) Isolated() *RunState {
	iso := *s
	iso.shared = &runShared{skip: make(map[string]bool)}
	return &iso
}

// Defer запоминает корректировки, чьё целевое поле ещё не появилось.
func (s *RunState) Defer(adjs ...rules.Adjustment) {
	if len(adjs) == 0 {
		return
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.deferred = append(s.shared.deferred, adjs...)
}

// Deferred возвращает копию ожидающих корректировок.
func (s *RunState) Deferred() []rules.Adjustment {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return append([]rules.Adjustment(nil), s.shared.deferred...)
}

// ApplyDeferred применяет к doc корректировки, чьи поля уже есть.
func (s *RunState) ApplyDeferred(doc map[string]any) []rules.Adjustment {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	if len(s.shared.deferred) == 0 {
		return nil
	}
	applied, remaining := rules.ApplyDeferred(doc, s.shared.deferred)
	s.shared.deferred = remaining
	return applied
}

// SkipStep помечает шаг с именем name как пропускаемый в этом запуске.
func (s *RunState) SkipStep(names ...string) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	for _, n := range names {
		s.shared.skip[n] = true
	}
}

// ShouldSkip возвращает true, если правило пометило шаг на пропуск.
func (s *RunState) ShouldSkip(name string) bool {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return s.shared.skip[name]
}

// AddFlags добавляет флаги правил.
func (s *RunState) AddFlags(flags ...rules.Flag) {
	if len(flags) == 0 {
		return
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.flags = append(s.shared.flags, flags...)
}

// Flags возвращает копию флагов.
func (s *RunState) Flags() []rules.Flag {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return append([]rules.Flag(nil), s.shared.flags...)
}

// MappingSource — источник сохранённых наборов field mappings.
type MappingSource interface {
	GetMapping(ctx context.Context, id uuid.UUID) (*domain.Mapping, error)
	FindMapping(ctx context.Context, productLineCode string, direction domain.MappingDirection) (*domain.Mapping, error)
}

// RuleSource — источник правил продукта.
type RuleSource interface {
	ListRules(ctx context.Context, productLineCode string) ([]domain.Rule, error)
}

// EventPublisher публикует бизнес-события.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey, eventType, correlationID string, payload any) error
}

// FlowRunner выполняет вложенный flow над документом и возвращает результат.
type FlowRunner interface {
	RunFlow(ctx context.Context, productLineCode, endpointPath string, doc map[string]any, run *RunState) (map[string]any, error)
}

// Deps — зависимости обработчиков.
type Deps struct {
	Transform  *transform.Engine
	Mappings   MappingSource
	Rules      RuleSource
	Lookups    transform.LookupSource
	Publisher  EventPublisher
	HTTPClient *http.Client
	Flows      FlowRunner
}
