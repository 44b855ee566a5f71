package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 10 << 20

// Rate DTOs

// RateRequestBody — тело POST /rate/{code}.
type RateRequestBody struct {
	Payload map[string]any `json:"payload"`
	Scope   map[string]any `json:"scope,omitempty"`
}

// RateAcceptedResponse — ответ на асинхронный запрос рейтинга.
type RateAcceptedResponse struct {
	TransactionID   uuid.UUID `json:"transactionId"`
	CorrelationID   string    `json:"correlationId"`
	ProductLineCode string    `json:"productLineCode"`
	EndpointPath    string    `json:"endpointPath"`
	Status          string    `json:"status"`
}

// Flow DTOs

// FlowRequest — запрос на создание или обновление flow.
type FlowRequest struct {
	Name   string            `json:"name,omitempty"`
	Status domain.FlowStatus `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
	Steps  []StepRequest     `json:"steps,omitempty" validate:"dive"`
}

// StepRequest — запрос на создание или обновление шага.
type StepRequest struct {
	StepType     domain.StepType     `json:"step_type" validate:"required"`
	Name         string              `json:"name" validate:"required"`
	StepOrder    int                 `json:"step_order,omitempty" validate:"gte=0"`
	Config       map[string]any      `json:"config,omitempty"`
	IsActive     *bool               `json:"is_active,omitempty"`
	RunCondition string              `json:"run_condition,omitempty"`
	Activity     domain.StepActivity `json:"activity,omitempty"`
	IteratePath  string              `json:"iterate_path,omitempty"`
}

// ToDomain конвертирует запрос в domain.Step. Шаг по умолчанию активен.
func (s StepRequest) ToDomain() domain.Step {
	active := true
	if s.IsActive != nil {
		active = *s.IsActive
	}
	return domain.Step{
		StepType:     s.StepType,
		Name:         s.Name,
		StepOrder:    s.StepOrder,
		Config:       s.Config,
		IsActive:     active,
		RunCondition: s.RunCondition,
		Activity:     s.Activity,
		IteratePath:  s.IteratePath,
	}
}

// ReorderRequest — новый порядок шагов (перестановка всех ID).
type ReorderRequest struct {
	StepIDs []uuid.UUID `json:"step_ids" validate:"required,min=1"`
}

// AutoGenerateRequest — генерация flow из шаблона.
type AutoGenerateRequest struct {
	Format    string `json:"format" validate:"required"`
	EngineURL string `json:"engine_url,omitempty" validate:"omitempty,url"`
	Name      string `json:"name,omitempty"`
	Activate  bool   `json:"activate,omitempty"`
}

// Transaction DTOs

// TransactionResponse — транзакция в API.
type TransactionResponse struct {
	ID              uuid.UUID                `json:"id"`
	CorrelationID   string                   `json:"correlation_id"`
	ProductLineCode string                   `json:"product_line_code"`
	EndpointPath    string                   `json:"endpoint_path"`
	Status          domain.TransactionStatus `json:"status"`
	Scope           map[string]any           `json:"scope,omitempty"`
	RequestPayload  map[string]any           `json:"request_payload,omitempty"`
	ResponsePayload map[string]any           `json:"response_payload,omitempty"`
	PremiumResult   *float64                 `json:"premium_result,omitempty"`
	ErrorMessage    string                   `json:"error_message,omitempty"`
	DurationMs      int64                    `json:"duration_ms"`
	StepCount       int                      `json:"step_count"`
	CompletedSteps  int                      `json:"completed_steps"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
}

// TransactionFromDomain конвертирует domain.Transaction в TransactionResponse.
func TransactionFromDomain(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              t.ID,
		CorrelationID:   t.CorrelationID,
		ProductLineCode: t.ProductLineCode,
		EndpointPath:    t.EndpointPath,
		Status:          t.Status,
		Scope:           t.Scope,
		RequestPayload:  t.RequestPayload,
		ResponsePayload: t.ResponsePayload,
		PremiumResult:   t.PremiumResult,
		ErrorMessage:    t.ErrorMessage,
		DurationMs:      t.DurationMs,
		StepCount:       t.StepCount,
		CompletedSteps:  t.CompletedSteps,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

// Lookup DTOs

// LookupTableRequest — содержимое lookup-таблицы.
type LookupTableRequest struct {
	Name    string         `json:"name,omitempty"`
	Entries map[string]any `json:"entries" validate:"required"`
}

// --- helpers ---

// decodeBody читает JSON тело и валидирует его тегами validate.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	if err := domain.Validator().Struct(dst); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	return true
}

// parseID разбирает UUID из path параметра.
func parseID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, fmt.Sprintf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt парсит целый query параметр с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

// decodeJSON читает JSON тело без валидации.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
