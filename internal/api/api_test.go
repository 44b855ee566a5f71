package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/lookup"
	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/recorder"
	"github.com/shaiso/ratingflow/internal/registry"
	"github.com/shaiso/ratingflow/internal/repo/memstore"
	"github.com/shaiso/ratingflow/internal/steps"
	"github.com/shaiso/ratingflow/internal/transform"
)

type enqueueSpy struct {
	mu       sync.Mutex
	corrIDs  []string
	payloads []mq.RateRequestedPayload
}

func (e *enqueueSpy) PublishRateRequested(_ context.Context, correlationID string, p mq.RateRequestedPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.corrIDs = append(e.corrIDs, correlationID)
	e.payloads = append(e.payloads, p)
	return nil
}

type testServer struct {
	mux    *http.ServeMux
	store  *memstore.Store
	tables *lookup.Tables
	queue  *enqueueSpy
}

func newTestServer(t *testing.T, withQueue bool) *testServer {
	t.Helper()
	store := memstore.New()
	tables := lookup.New(store, nil)
	reg := registry.New(registry.Config{Store: store})
	rec := recorder.New(store, nil)

	orch := orchestrator.New(orchestrator.Config{
		Flows:    reg,
		Recorder: rec,
		Deps: steps.Deps{
			Transform: transform.New(tables),
			Mappings:  store,
			Rules:     store,
			Lookups:   tables,
		},
	})

	cfg := Config{
		Rater:    orch,
		Registry: reg,
		Recorder: rec,
		Rules:    store,
		Mappings: store,
		Lookups:  store,
		Tables:   tables,
	}
	var queue *enqueueSpy
	if withQueue {
		queue = &enqueueSpy{}
		cfg.Publisher = queue
	}

	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)
	return &testServer{mux: mux, store: store, tables: tables, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type dataEnvelope[T any] struct {
	Data  T   `json:"data"`
	Total int `json:"total"`
}

// ratingFlow — маппинг, правила и mock-движок.
func ratingFlow() FlowRequest {
	return FlowRequest{
		Status: domain.FlowStatusActive,
		Steps: []StepRequest{
			{StepType: domain.StepFieldMapping, Name: "map", Config: map[string]any{
				"fields": []any{
					map[string]any{"source_path": "policy.state", "target_path": "state", "is_required": true},
				},
			}},
			{StepType: domain.StepApplyRules, Name: "rules"},
			{StepType: domain.StepCallRatingEngine, Name: "rate", Config: map[string]any{"mode": "mock", "premium": 1000}},
		},
	}
}

func surchargeRule(state string, rate float64) domain.Rule {
	return domain.Rule{
		Name:       "surcharge-" + state,
		IsActive:   true,
		Conditions: []domain.Condition{{Field: "state", Operator: domain.OpEq, Value: state}},
		Actions:    []domain.Action{{ActionType: domain.ActionSurcharge, TargetField: "premium", Value: rate}},
	}
}

func TestRate_Completed(t *testing.T) {
	s := newTestServer(t, false)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orchestrators/HO3/flow/rate", ratingFlow()).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products/HO3/rules", surchargeRule("CA", 15)).Code)

	rec := s.do(t, http.MethodPost, "/rate/HO3", RateRequestBody{
		Payload: map[string]any{"policy": map[string]any{"state": "CA"}},
	}, "x-correlation-id", "corr-1")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-1", rec.Header().Get("x-correlation-id"))

	resp := decode[orchestrator.RateResponse](t, rec)
	assert.Equal(t, orchestrator.RateStatusCompleted, resp.Status)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	require.NotNil(t, resp.Premium)
	assert.InDelta(t, 1150.0, *resp.Premium, 1e-9)
	assert.Len(t, resp.StepResults, 3)

	// Транзакция и журнал доступны через API
	tx := decode[dataEnvelope[TransactionResponse]](t, s.do(t, http.MethodGet, "/transactions/"+resp.TransactionID.String(), nil))
	assert.Equal(t, domain.TxCompleted, tx.Data.Status)
	assert.Equal(t, 3, tx.Data.CompletedSteps)

	logs := decode[dataEnvelope[[]domain.StepLog]](t, s.do(t, http.MethodGet, "/transactions/"+resp.TransactionID.String()+"/steps", nil))
	assert.Equal(t, 3, logs.Total)

	list := decode[dataEnvelope[[]TransactionResponse]](t, s.do(t, http.MethodGet, "/transactions?product_line_code=HO3&status=COMPLETED", nil))
	assert.Equal(t, 1, list.Total)
}

func TestRate_GeneratesCorrelationID(t *testing.T) {
	s := newTestServer(t, false)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orchestrators/HO3/flow/rate", ratingFlow()).Code)

	rec := s.do(t, http.MethodPost, "/rate/HO3", RateRequestBody{
		Payload: map[string]any{"policy": map[string]any{"state": "TX"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("x-correlation-id")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, decode[orchestrator.RateResponse](t, rec).CorrelationID)
}

func TestRate_FailureStatuses(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		rule     *domain.Rule
		wantCode int
		wantKind domain.ErrorKind
	}{
		{
			name:     "missing required field",
			payload:  map[string]any{"policy": map[string]any{}},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: domain.KindMapping,
		},
		{
			name:    "rule rejects",
			payload: map[string]any{"policy": map[string]any{"state": "FL"}},
			rule: &domain.Rule{
				Name:       "no-florida",
				IsActive:   true,
				Conditions: []domain.Condition{{Field: "state", Operator: domain.OpEq, Value: "FL"}},
				Actions:    []domain.Action{{ActionType: domain.ActionReject, Value: "not writing in FL"}},
			},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: domain.KindRuleRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orchestrators/HO3/flow/rate", ratingFlow()).Code)
			if tt.rule != nil {
				require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products/HO3/rules", tt.rule).Code)
			}

			rec := s.do(t, http.MethodPost, "/rate/HO3", RateRequestBody{Payload: tt.payload})
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			resp := decode[orchestrator.RateResponse](t, rec)
			assert.Equal(t, orchestrator.RateStatusFailed, resp.Status)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			assert.NotEmpty(t, resp.StepResults)
			assert.Equal(t, domain.StepLogFailed, resp.StepResults[len(resp.StepResults)-1].Status)
		})
	}
}

func TestRate_Errors(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/rate/NOPE", RateRequestBody{Payload: map[string]any{"a": 1}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decode[ErrorResponse](t, rec).Error.Code)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orchestrators/HO3/flow/draft", FlowRequest{}).Code)
	rec = s.do(t, http.MethodPost, "/rate/HO3/draft", RateRequestBody{Payload: map[string]any{"a": 1}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ErrCodeInvalidState, decode[ErrorResponse](t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/rate/HO3", bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	s.mux.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRateAsync(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		s := newTestServer(t, true)
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orchestrators/HO3/flow/init-rate", ratingFlow()).Code)

		rec := s.do(t, http.MethodPost, "/rate-async/HO3/init-rate", RateRequestBody{
			Payload: map[string]any{"policy": map[string]any{"state": "CA"}},
		}, "x-correlation-id", "async-1")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		body := decode[dataEnvelope[RateAcceptedResponse]](t, rec)
		assert.Equal(t, "queued", body.Data.Status)
		assert.Equal(t, "init-rate", body.Data.EndpointPath)

		require.Len(t, s.queue.payloads, 1)
		assert.Equal(t, body.Data.TransactionID, s.queue.payloads[0].TransactionID)
		assert.Equal(t, "async-1", s.queue.corrIDs[0])
	})

	t.Run("unknown flow is not queued", func(t *testing.T) {
		s := newTestServer(t, true)
		rec := s.do(t, http.MethodPost, "/rate-async/HO3", RateRequestBody{Payload: map[string]any{"a": 1}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, s.queue.payloads)
	})

	t.Run("no publisher", func(t *testing.T) {
		s := newTestServer(t, false)
		rec := s.do(t, http.MethodPost, "/rate-async/HO3", RateRequestBody{Payload: map[string]any{"a": 1}})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, ErrCodeUnavailable, decode[ErrorResponse](t, rec).Error.Code)
	})
}

func TestFlowAPI(t *testing.T) {
	s := newTestServer(t, false)
	base := "/orchestrators/AUTO/flow/rate"

	rec := s.do(t, http.MethodPost, base, FlowRequest{Name: "auto"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, base, FlowRequest{}).Code)

	// Пустой flow нельзя активировать
	rec = s.do(t, http.MethodPut, base, FlowRequest{Status: domain.FlowStatusActive})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeConfig, decode[ErrorResponse](t, rec).Error.Code)

	var ids []uuid.UUID
	for _, name := range []string{"a", "b", "c"} {
		rec := s.do(t, http.MethodPost, base+"/steps", StepRequest{
			StepType: domain.StepGenerateValue,
			Name:     name,
			Config:   map[string]any{"generator": "uuid", "target_path": "ids." + name},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		step := decode[dataEnvelope[domain.Step]](t, rec).Data
		ids = append(ids, step.ID)
	}

	// Неизвестный тип шага — ошибка конфигурации
	rec = s.do(t, http.MethodPost, base+"/steps", StepRequest{StepType: "teleport", Name: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, base+"/steps/reorder", ReorderRequest{StepIDs: []uuid.UUID{ids[2], ids[0], ids[1]}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	listed := decode[dataEnvelope[[]domain.Step]](t, s.do(t, http.MethodGet, base+"/steps", nil))
	require.Len(t, listed.Data, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{listed.Data[0].Name, listed.Data[1].Name, listed.Data[2].Name})
	assert.Equal(t, []int{1, 2, 3}, []int{listed.Data[0].StepOrder, listed.Data[1].StepOrder, listed.Data[2].StepOrder})

	assert.Equal(t, http.StatusConflict,
		s.do(t, http.MethodPut, base+"/steps/reorder", ReorderRequest{StepIDs: []uuid.UUID{ids[0]}}).Code)

	rec = s.do(t, http.MethodPut, base+"/steps/"+ids[0].String(), StepRequest{
		StepType: domain.StepGenerateValue,
		Name:     "a2",
		Config:   map[string]any{"generator": "ksuid", "target_path": "ids.a"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[dataEnvelope[domain.Step]](t, rec).Data.StepOrder)

	rec = s.do(t, http.MethodGet, base+"/steps/"+ids[0].String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[dataEnvelope[domain.Step]](t, rec).Data
	assert.Equal(t, "a2", got.Name)
	assert.Equal(t, 2, got.StepOrder)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base+"/steps/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, base+"/steps/not-a-uuid", nil).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, base+"/steps/"+ids[1].String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, base+"/steps/"+uuid.NewString(), nil).Code)

	rec = s.do(t, http.MethodPut, base, FlowRequest{Status: domain.FlowStatusActive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	flows := decode[dataEnvelope[[]domain.Flow]](t, s.do(t, http.MethodGet, "/orchestrators?product_line_code=AUTO", nil))
	assert.Equal(t, 1, flows.Total)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base, nil).Code)
}

func TestFlowAPI_AutoGenerate(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/orchestrators/HO3/flow/rate/auto-generate", AutoGenerateRequest{Format: "json", Activate: true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	flow := decode[dataEnvelope[domain.Flow]](t, rec).Data
	assert.Equal(t, domain.FlowStatusActive, flow.Status)
	assert.NotEmpty(t, flow.Steps)

	rec = s.do(t, http.MethodPost, "/orchestrators/HO3/flow/other/auto-generate", AutoGenerateRequest{Format: "csv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeConfig, decode[ErrorResponse](t, rec).Error.Code)
}

func TestRulesAPI(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/products/HO3/rules", surchargeRule("CA", 10))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decode[dataEnvelope[domain.Rule]](t, rec).Data
	assert.Equal(t, "HO3", rule.ProductLineCode)
	assert.NotEqual(t, uuid.Nil, rule.ID)

	bad := surchargeRule("CA", 10)
	bad.Conditions[0].Operator = "~~"
	rec = s.do(t, http.MethodPost, "/products/HO3/rules", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeConfig, decode[ErrorResponse](t, rec).Error.Code)

	updated := surchargeRule("NY", 20)
	rec = s.do(t, http.MethodPut, "/products/HO3/rules/"+rule.ID.String(), updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "surcharge-NY", decode[dataEnvelope[domain.Rule]](t, rec).Data.Name)

	// Правило другого продукта не видно
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/products/AUTO/rules/"+rule.ID.String(), nil).Code)

	list := decode[dataEnvelope[[]domain.Rule]](t, s.do(t, http.MethodGet, "/products/HO3/rules", nil))
	assert.Equal(t, 1, list.Total)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/products/HO3/rules/"+rule.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/products/HO3/rules/"+rule.ID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/products/HO3/rules/not-a-uuid", nil).Code)
}

func TestMappingsAPI(t *testing.T) {
	s := newTestServer(t, false)

	m := domain.Mapping{
		Direction: domain.DirectionRequest,
		Name:      "request",
		Fields:    []domain.FieldMapping{{SourcePath: "policy.state", TargetPath: "state"}},
	}
	rec := s.do(t, http.MethodPost, "/products/HO3/mappings", m)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[dataEnvelope[domain.Mapping]](t, rec).Data

	m.Fields = append(m.Fields, domain.FieldMapping{
		TargetPath:         "factor",
		TransformationType: domain.TransformExpression,
		TransformConfig:    map[string]any{"expression": "1 +"},
	})
	rec = s.do(t, http.MethodPut, "/products/HO3/mappings/"+created.ID.String(), m)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeConfig, decode[ErrorResponse](t, rec).Error.Code)

	m.Direction = "sideways"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/products/HO3/mappings", m).Code)

	got := decode[dataEnvelope[domain.Mapping]](t, s.do(t, http.MethodGet, "/products/HO3/mappings/"+created.ID.String(), nil))
	assert.Len(t, got.Data.Fields, 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/products/HO3/mappings/"+created.ID.String(), nil).Code)
	list := decode[dataEnvelope[[]domain.Mapping]](t, s.do(t, http.MethodGet, "/products/HO3/mappings", nil))
	assert.Equal(t, 0, list.Total)
}

func TestLookupTablesAPI(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPut, "/lookup-tables/territory", LookupTableRequest{
		Name:    "Territory factors",
		Entries: map[string]any{"CA": 1.2, "NY": 1.1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Кэш обновлён без reload
	v, ok := s.tables.Lookup("territory", "ca")
	require.True(t, ok)
	assert.InDelta(t, 1.2, v, 1e-9)

	got := decode[dataEnvelope[domain.LookupTable]](t, s.do(t, http.MethodGet, "/lookup-tables/territory", nil))
	assert.Equal(t, "Territory factors", got.Data.Name)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/lookup-tables/empty", LookupTableRequest{}).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/lookup-tables/reload", nil).Code)

	list := decode[dataEnvelope[[]domain.LookupTable]](t, s.do(t, http.MethodGet, "/lookup-tables", nil))
	assert.Equal(t, 1, list.Total)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/lookup-tables/territory", nil).Code)
	_, ok = s.tables.Lookup("territory", "CA")
	assert.False(t, ok)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/lookup-tables/territory", nil).Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(Recovery(slog.Default()), CorrelationID())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
