package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// FlowStatus — статус flow.
type FlowStatus string

const (
	// FlowStatusDraft — flow редактируется, запросы на него не принимаются.
	FlowStatusDraft FlowStatus = "draft"

	// FlowStatusActive — flow принимает запросы на рейтинг.
	FlowStatusActive FlowStatus = "active"
)

// Valid возвращает true для известных статусов.
func (s FlowStatus) Valid() bool {
	return s == FlowStatusDraft || s == FlowStatusActive
}

// Flow — исполняемый pipeline для пары (product line, endpoint).
//
// Flow — это упорядоченный список шагов. Один продукт может иметь
// несколько flows: например "rate" и "init-rate".
// Удаление flow каскадно удаляет его шаги.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// ProductLineCode — код продуктовой линейки (например, "HO3", "AUTO-CA").
	ProductLineCode string `json:"product_line_code"`

	// EndpointPath — имя endpoint'а ("rate", "init-rate", ...).
	EndpointPath string `json:"endpoint_path"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// Status — draft или active.
	Status FlowStatus `json:"status"`

	// Steps — шаги, отсортированные по StepOrder.
	// Неактивные шаги тоже здесь: их пропускает executor, а не реестр.
	Steps []Step `json:"steps"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// SortSteps сортирует шаги по StepOrder.
func (f *Flow) SortSteps() {
	sort.SliceStable(f.Steps, func(i, j int) bool {
		return f.Steps[i].StepOrder < f.Steps[j].StepOrder
	})
}

// FindStep возвращает шаг по ID.
func (f *Flow) FindStep(id uuid.UUID) (*Step, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], true
		}
	}
	return nil, false
}

// NextStepOrder возвращает порядковый номер для шага, добавляемого в конец.
func (f *Flow) NextStepOrder() int {
	next := 1
	for _, s := range f.Steps {
		if s.StepOrder >= next {
			next = s.StepOrder + 1
		}
	}
	return next
}

// StepActivity — сколько раз выполняется шаг в рамках транзакции.
type StepActivity string

const (
	// ActivityOneTime — шаг выполняется ровно один раз.
	ActivityOneTime StepActivity = "one_time"

	// ActivityIterative — шаг выполняется для каждого элемента массива IteratePath.
	ActivityIterative StepActivity = "iterative"
)

// Step — одна типизированная единица работы во flow.
type Step struct {
	// ID — уникальный идентификатор шага.
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на родительский flow.
	FlowID uuid.UUID `json:"flow_id"`

	// StepOrder — позиция в flow. Уникальна в рамках flow.
	StepOrder int `json:"step_order"`

	// StepType — тип шага (закрытое перечисление).
	StepType StepType `json:"step_type"`

	// Name — имя шага. По нему на шаг ссылается действие skip_step.
	Name string `json:"name"`

	// Config — конфигурация, зависящая от типа.
	// Декодируется в типизированную структуру через DecodeStepConfig.
	Config map[string]any `json:"config,omitempty"`

	// IsActive — неактивные шаги пропускаются (статус SKIPPED).
	IsActive bool `json:"is_active"`

	// RunCondition — выражение; если оно ложно, шаг пропускается.
	// Например: "policy.state == 'CA' && coverage.limit > 500000"
	RunCondition string `json:"run_condition,omitempty"`

	// Activity — one_time (по умолчанию) или iterative.
	Activity StepActivity `json:"activity,omitempty"`

	// IteratePath — путь к массиву для iterative шагов.
	IteratePath string `json:"iterate_path,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// IsIterative возвращает true для шагов, выполняемых по элементам массива.
func (s *Step) IsIterative() bool {
	return s.Activity == ActivityIterative
}

// StepType — тип шага.
type StepType string

// Типы шагов.
const (
	StepValidateRequest  StepType = "validate_request"
	StepFieldMapping     StepType = "field_mapping"
	StepApplyRules       StepType = "apply_rules"
	StepFormatTransform  StepType = "format_transform"
	StepCallRatingEngine StepType = "call_rating_engine"
	StepCallExternalAPI  StepType = "call_external_api"
	StepCallOrchestrator StepType = "call_orchestrator"
	StepPublishEvent     StepType = "publish_event"
	StepEnrich           StepType = "enrich"
	StepGenerateValue    StepType = "generate_value"
	StepRunCustomFlow    StepType = "run_custom_flow"
)

// AllStepTypes — полный список типов шагов.
var AllStepTypes = []StepType{
	StepValidateRequest,
	StepFieldMapping,
	StepApplyRules,
	StepFormatTransform,
	StepCallRatingEngine,
	StepCallExternalAPI,
	StepCallOrchestrator,
	StepPublishEvent,
	StepEnrich,
	StepGenerateValue,
	StepRunCustomFlow,
}

// Valid возвращает true, если тип входит в закрытое перечисление.
func (t StepType) Valid() bool {
	for _, known := range AllStepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsExternal возвращает true для шагов, блокирующихся на сетевом I/O.
func (t StepType) IsExternal() bool {
	switch t {
	case StepCallRatingEngine, StepCallExternalAPI, StepCallOrchestrator, StepPublishEvent:
		return true
	default:
		return false
	}
}

// RetryPolicy — политика повторных попыток внешнего вызова.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" validate:"gte=0,lte=10"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty" validate:"omitempty,oneof=fixed exponential"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" validate:"gte=0"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" validate:"gte=0"`

	// OnStatus — HTTP статусы, при которых делать retry.
	// Пусто — retry на любой 5xx и сетевые ошибки.
	OnStatus []int `json:"on_status,omitempty"`
}
