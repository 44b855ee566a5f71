package steps

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/rules"
	"github.com/shaiso/ratingflow/internal/transform"
)

// --- fakes ---

type fakeRules struct {
	rules []domain.Rule
}

func (f *fakeRules) ListRules(_ context.Context, _ string) ([]domain.Rule, error) {
	return f.rules, nil
}

type fakeMappings struct {
	byDirection map[domain.MappingDirection]*domain.Mapping
}

func (f *fakeMappings) GetMapping(_ context.Context, id uuid.UUID) (*domain.Mapping, error) {
	for _, m := range f.byDirection {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeMappings) FindMapping(_ context.Context, _ string, d domain.MappingDirection) (*domain.Mapping, error) {
	if m, ok := f.byDirection[d]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

type fakeLookups map[string]map[string]any

func (f fakeLookups) Lookup(table, key string) (any, bool) {
	v, ok := f[table][key]
	return v, ok
}

type publishedEvent struct {
	routingKey, eventType, correlationID string
	payload                              any
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) PublishEvent(_ context.Context, routingKey, eventType, correlationID string, payload any) error {
	f.events = append(f.events, publishedEvent{routingKey, eventType, correlationID, payload})
	return nil
}

type fakeFlows struct {
	calls []string
	run   func(doc map[string]any) map[string]any
}

func (f *fakeFlows) RunFlow(_ context.Context, code, endpoint string, doc map[string]any, run *RunState) (map[string]any, error) {
	f.calls = append(f.calls, code+"/"+endpoint)
	if run.Depth == 0 {
		return nil, errors.New("child run expected")
	}
	return f.run(doc), nil
}

// newRequest декодирует конфигурацию так же, как executor.
func newRequest(t *testing.T, st domain.StepType, cfg map[string]any, doc map[string]any) *Request {
	t.Helper()
	step := &domain.Step{ID: uuid.New(), Name: string(st), StepType: st, Config: cfg, IsActive: true}
	decoded, err := domain.DecodeStepConfig(st, cfg)
	require.NoError(t, err)
	return &Request{
		Step:   step,
		Config: decoded,
		Doc:    doc,
		Root:   doc,
		Run:    NewRunState(uuid.New(), "corr-1", "HO3", "rate", map[string]any{"state": "CA"}),
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Count())

	r.Register(NewGenerateValueHandler())
	assert.Equal(t, 1, r.Count())

	h, err := r.Get(domain.StepGenerateValue)
	require.NoError(t, err)
	assert.Equal(t, domain.StepGenerateValue, h.Type())

	_, err = r.Get("unknown")
	assert.True(t, errors.Is(err, ErrStepNotFound))

	assert.True(t, r.Has(domain.StepGenerateValue))
	r.Unregister(domain.StepGenerateValue)
	assert.False(t, r.Has(domain.StepGenerateValue))
}

func TestDefaultRegistry_CoversAllStepTypes(t *testing.T) {
	r := DefaultRegistry(Deps{})

	for _, st := range domain.AllStepTypes {
		assert.True(t, r.Has(st), "missing handler for %s", st)
	}
	assert.Len(t, r.Types(), len(domain.AllStepTypes))
}

// --- RunState ---

func TestRunState_DeferredSharedWithChild(t *testing.T) {
	run := NewRunState(uuid.New(), "c", "HO3", "rate", nil)
	child, err := run.Child("AUTO", "")
	require.NoError(t, err)
	assert.Equal(t, "AUTO", child.ProductLineCode)
	assert.Equal(t, "rate", child.EndpointPath)
	assert.Equal(t, 1, child.Depth)

	child.Defer(rules.Adjustment{RuleName: "r", ActionType: domain.ActionSurcharge, TargetField: "premium", Rate: 0.1})
	child.SkipStep("enrich-zone")

	assert.Len(t, run.Deferred(), 1)
	assert.True(t, run.ShouldSkip("enrich-zone"))

	doc := map[string]any{}
	assert.Empty(t, run.ApplyDeferred(doc))

	doc["premium"] = 100.0
	applied := run.ApplyDeferred(doc)
	require.Len(t, applied, 1)
	assert.InDelta(t, 110.0, doc["premium"], 1e-9)
	assert.Empty(t, run.Deferred())
}

func TestRunState_Isolated(t *testing.T) {
	run := NewRunState(uuid.New(), "c", "HO3", "rate", nil)
	iso := run.Isolated()
	iso.SkipStep("x")
	iso.AddFlags(rules.Flag{RuleName: "r"})

	assert.False(t, run.ShouldSkip("x"))
	assert.Empty(t, run.Flags())
	assert.Len(t, iso.Flags(), 1)
}

func TestRunState_ChildDepthLimit(t *testing.T) {
	run := NewRunState(uuid.New(), "c", "HO3", "rate", nil)
	var err error
	for i := 0; i < MaxFlowDepth; i++ {
		run, err = run.Child("", "")
		require.NoError(t, err)
	}
	_, err = run.Child("", "")
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

// --- validate_request ---

func TestValidateRequest(t *testing.T) {
	cfg := map[string]any{
		"required_fields": []any{"policy.state"},
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"coverage"},
		},
	}

	tests := []struct {
		name      string
		doc       map[string]any
		wantError bool
	}{
		{
			name: "valid",
			doc:  map[string]any{"policy": map[string]any{"state": "CA"}, "coverage": map[string]any{"limit": 1.0}},
		},
		{
			name:      "missing required field",
			doc:       map[string]any{"policy": map[string]any{"state": ""}, "coverage": map[string]any{}},
			wantError: true,
		},
		{
			name:      "schema violation",
			doc:       map[string]any{"policy": map[string]any{"state": "CA"}},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, domain.StepValidateRequest, cfg, tt.doc)
			resp, err := NewValidateRequestHandler().Execute(context.Background(), req)
			if tt.wantError {
				require.Error(t, err)
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Nil(t, resp.Doc)
		})
	}
}

// --- field_mapping ---

func TestFieldMapping_InlineMerge(t *testing.T) {
	h := NewFieldMappingHandler(transform.New(nil), nil)
	req := newRequest(t, domain.StepFieldMapping, map[string]any{
		"fields": []any{
			map[string]any{"source_path": "policy.state", "target_path": "state"},
			map[string]any{"source_path": "coverage.limit", "target_path": "limit_k",
				"transformation_type": "divide", "transform_config": map[string]any{"divisor": 1000}},
		},
	}, map[string]any{"policy": map[string]any{"state": "CA"}, "coverage": map[string]any{"limit": 1000000.0}})

	resp, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "CA", resp.Doc["state"])
	assert.InDelta(t, 1000.0, resp.Doc["limit_k"], 1e-9)
	assert.Contains(t, resp.Doc, "policy")
	assert.Equal(t, 2, resp.Output["mapped"])
}

func TestFieldMapping_StoredMappingReplace(t *testing.T) {
	mapping := &domain.Mapping{
		ID:        uuid.New(),
		Name:      "ho3-request",
		Direction: domain.DirectionRequest,
		Fields:    []domain.FieldMapping{{SourcePath: "policy.state", TargetPath: "riskState"}},
	}
	h := NewFieldMappingHandler(transform.New(nil), &fakeMappings{
		byDirection: map[domain.MappingDirection]*domain.Mapping{domain.DirectionRequest: mapping},
	})
	req := newRequest(t, domain.StepFieldMapping, map[string]any{"direction": "request", "mode": "replace"},
		map[string]any{"policy": map[string]any{"state": "NY"}})

	resp, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"riskState": "NY"}, resp.Doc)
	assert.Equal(t, "mapping:ho3-request", resp.Output["source"])
}

func TestFieldMapping_MissingStore(t *testing.T) {
	h := NewFieldMappingHandler(nil, nil)
	req := newRequest(t, domain.StepFieldMapping, map[string]any{"direction": "request"}, map[string]any{})

	_, err := h.Execute(context.Background(), req)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
}

// --- apply_rules ---

func surchargeRule(state string, rate float64) domain.Rule {
	return domain.Rule{
		ID:       uuid.New(),
		Name:     "surcharge-" + state,
		IsActive: true,
		Conditions: []domain.Condition{
			{Field: "state", Operator: domain.OpEq, Value: state},
		},
		Actions: []domain.Action{
			{ActionType: domain.ActionSurcharge, TargetField: "premium", Value: rate},
		},
	}
}

func TestApplyRules(t *testing.T) {
	tests := []struct {
		name        string
		doc         map[string]any
		wantPremium any
		wantDefer   int
	}{
		{name: "applies surcharge", doc: map[string]any{"state": "NY", "premium": 1000.0}, wantPremium: 1100.0},
		{name: "no match leaves premium", doc: map[string]any{"state": "CA", "premium": 1000.0}, wantPremium: 1000.0},
		{name: "defers when premium missing", doc: map[string]any{"state": "NY"}, wantDefer: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewApplyRulesHandler(&fakeRules{rules: []domain.Rule{surchargeRule("NY", 0.10)}})
			req := newRequest(t, domain.StepApplyRules, nil, tt.doc)

			resp, err := h.Execute(context.Background(), req)
			require.NoError(t, err)
			if tt.wantPremium != nil {
				assert.InDelta(t, tt.wantPremium, resp.Doc["premium"], 1e-9)
			}
			assert.Len(t, req.Run.Deferred(), tt.wantDefer)
		})
	}
}

func TestApplyRules_Reject(t *testing.T) {
	rule := domain.Rule{
		ID:         uuid.New(),
		Name:       "no-fl",
		IsActive:   true,
		Conditions: []domain.Condition{{Field: "state", Operator: domain.OpEq, Value: "FL"}},
		Actions:    []domain.Action{{ActionType: domain.ActionReject, Value: "FL not written"}},
	}
	h := NewApplyRulesHandler(&fakeRules{rules: []domain.Rule{rule}})
	req := newRequest(t, domain.StepApplyRules, nil, map[string]any{"state": "FL"})

	_, err := h.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRuleRejected))
	assert.Contains(t, err.Error(), "FL not written")
}

func TestApplyRules_FilterByIDs(t *testing.T) {
	ny := surchargeRule("NY", 0.10)
	other := surchargeRule("NY", 0.50)
	h := NewApplyRulesHandler(&fakeRules{rules: []domain.Rule{ny, other}})
	req := newRequest(t, domain.StepApplyRules, map[string]any{"rule_ids": []any{ny.ID.String()}},
		map[string]any{"state": "NY", "premium": 100.0})

	resp, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, resp.Doc["premium"], 1e-9)
}

// --- format_transform ---

func TestEncodeXML(t *testing.T) {
	data, err := EncodeXML("quote", map[string]any{
		"state":   "CA",
		"limit":   1000000.0,
		"drivers": []any{"a", "b"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "<quote><drivers>a</drivers><drivers>b</drivers><limit>1000000</limit><state>CA</state></quote>", string(data))

	data, err = EncodeXML("quote", map[string]any{"state": "CA"}, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><quote>`))
	assert.True(t, strings.HasSuffix(string(data), `</quote></soapenv:Body></soapenv:Envelope>`))
}

func TestFormatTransform(t *testing.T) {
	doc := func() map[string]any {
		return map[string]any{"policy": map[string]any{"state": "CA"}, "meta": "x"}
	}

	t.Run("json subtree replaces document", func(t *testing.T) {
		req := newRequest(t, domain.StepFormatTransform, map[string]any{"format": "json", "source_path": "policy"}, doc())
		resp, err := NewFormatTransformHandler(nil).Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"state": "CA"}, resp.Doc)
	})

	t.Run("xml stored at target path", func(t *testing.T) {
		req := newRequest(t, domain.StepFormatTransform, map[string]any{
			"format": "xml", "source_path": "policy", "root_element": "Policy", "target_path": "soap",
		}, doc())
		resp, err := NewFormatTransformHandler(nil).Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "<Policy><state>CA</state></Policy>", resp.Doc["soap"])
	})

	t.Run("missing source path", func(t *testing.T) {
		req := newRequest(t, domain.StepFormatTransform, map[string]any{"format": "json", "source_path": "nope"}, doc())
		_, err := NewFormatTransformHandler(nil).Execute(context.Background(), req)
		assert.Equal(t, domain.KindTransform, domain.KindOf(err))
	})
}

// --- call_rating_engine / call_external_api ---

func TestCallRatingEngine_Mock(t *testing.T) {
	req := newRequest(t, domain.StepCallRatingEngine, map[string]any{"mode": "mock", "premium": 1000}, map[string]any{"state": "CA"})

	resp, err := NewCallRatingEngineHandler(nil).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, resp.Doc["premium"])
	assert.Equal(t, "mock", resp.Output["mode"])
}

func TestCallRatingEngine_HTTP(t *testing.T) {
	var gotCorrelation, gotProduct string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("x-correlation-id")
		gotProduct = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"premium": 812.5}`))
	}))
	defer server.Close()

	req := newRequest(t, domain.StepCallRatingEngine, map[string]any{
		"url":     server.URL + "/rate/{{ .Meta.product_line_code }}",
		"headers": map[string]any{"x-correlation-id": "{{ .Meta.correlation_id }}"},
	}, map[string]any{"state": "CA"})

	resp, err := NewCallRatingEngineHandler(server.Client()).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 812.5, resp.Doc["premium"])
	assert.Equal(t, "corr-1", gotCorrelation)
	assert.Equal(t, "/rate/HO3", gotProduct)
	assert.Equal(t, "CA", gotBody["state"])
}

func TestCallExternalAPI_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"zone": "Z1"}`))
	}))
	defer server.Close()

	req := newRequest(t, domain.StepCallExternalAPI, map[string]any{
		"url":           server.URL,
		"response_path": "geo",
		"retry":         map[string]any{"max_attempts": 3, "initial_delay_ms": 1},
	}, map[string]any{})

	resp, err := NewCallExternalAPIHandler(server.Client()).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, map[string]any{"zone": "Z1"}, resp.Doc["geo"])
}

func TestCallExternalAPI_Exhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	req := newRequest(t, domain.StepCallExternalAPI, map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"max_attempts": 2, "initial_delay_ms": 1},
	}, map[string]any{})

	_, err := NewCallExternalAPIHandler(server.Client()).Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExternalCall))
	assert.True(t, IsHTTPError(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallExternalAPI_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	req := newRequest(t, domain.StepCallExternalAPI, map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"max_attempts": 5, "initial_delay_ms": 1},
	}, map[string]any{})

	_, err := NewCallExternalAPIHandler(server.Client()).Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallExternalAPI_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	req := newRequest(t, domain.StepCallExternalAPI, map[string]any{"url": server.URL, "timeout_ms": 20}, map[string]any{})

	_, err := NewCallExternalAPIHandler(server.Client()).Execute(context.Background(), req)
	assert.Equal(t, domain.KindExternalCall, domain.KindOf(err))
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		policy  *domain.RetryPolicy
		want    time.Duration
	}{
		{"nil policy", 1, nil, time.Second},
		{"fixed", 3, &domain.RetryPolicy{Backoff: "fixed", InitialDelayMs: 200}, 200 * time.Millisecond},
		{"exponential", 3, &domain.RetryPolicy{Backoff: "exponential", InitialDelayMs: 100}, 400 * time.Millisecond},
		{"capped", 10, &domain.RetryPolicy{Backoff: "exponential", InitialDelayMs: 100, MaxDelayMs: 500}, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoff(tt.attempt, tt.policy))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(0, errors.New("dial"), nil))
	assert.True(t, shouldRetry(503, nil, nil))
	assert.False(t, shouldRetry(404, nil, nil))
	assert.True(t, shouldRetry(429, nil, &domain.RetryPolicy{OnStatus: []int{429}}))
	assert.False(t, shouldRetry(500, nil, &domain.RetryPolicy{OnStatus: []int{429}}))
}

// --- call_orchestrator / run_custom_flow ---

func TestCallOrchestrator_InProcess(t *testing.T) {
	flows := &fakeFlows{run: func(doc map[string]any) map[string]any {
		doc["premium"] = 250.0
		return doc
	}}
	req := newRequest(t, domain.StepCallOrchestrator, map[string]any{
		"product_line_code": "UMBRELLA", "endpoint_path": "rate", "response_path": "umbrella",
	}, map[string]any{"state": "CA"})

	resp, err := NewCallOrchestratorHandler(flows, nil).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"UMBRELLA/rate"}, flows.calls)
	assert.Equal(t, 250.0, resp.Doc["umbrella"].(map[string]any)["premium"])
	_, leaked := resp.Doc["premium"]
	assert.False(t, leaked)
}

func TestRunCustomFlow(t *testing.T) {
	t.Run("assignments", func(t *testing.T) {
		req := newRequest(t, domain.StepRunCustomFlow, map[string]any{
			"assignments": []any{
				map[string]any{"target": "total", "expression": "base * factor"},
				map[string]any{"target": "big", "expression": "total > 100"},
			},
		}, map[string]any{"base": 50.0, "factor": 3.0})

		resp, err := NewRunCustomFlowHandler(nil).Execute(context.Background(), req)
		require.NoError(t, err)
		assert.InDelta(t, 150.0, resp.Doc["total"], 1e-9)
		assert.Equal(t, true, resp.Doc["big"])
	})

	t.Run("named sub-flow", func(t *testing.T) {
		flows := &fakeFlows{run: func(doc map[string]any) map[string]any {
			doc["tier"] = "gold"
			return doc
		}}
		req := newRequest(t, domain.StepRunCustomFlow, map[string]any{"flow_name": "tiering"}, map[string]any{})

		resp, err := NewRunCustomFlowHandler(flows).Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{CustomFlowProduct + "/tiering"}, flows.calls)
		assert.Equal(t, "gold", resp.Doc["tier"])
	})
}

// --- publish_event / enrich / generate_value ---

func TestPublishEvent(t *testing.T) {
	pub := &fakePublisher{}
	req := newRequest(t, domain.StepPublishEvent, map[string]any{"routing_key": "quote.rated", "payload_path": "policy"},
		map[string]any{"policy": map[string]any{"number": "P-1"}})

	resp, err := NewPublishEventHandler(pub).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp.Doc)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "quote.rated", pub.events[0].eventType)
	assert.Equal(t, "corr-1", pub.events[0].correlationID)
	assert.Equal(t, map[string]any{"number": "P-1"}, pub.events[0].payload)
}

func TestEnrich(t *testing.T) {
	lookups := fakeLookups{"ZONES": {"90210": map[string]any{"zone": "Z1", "factor": 1.2}}}

	tests := []struct {
		name      string
		cfg       map[string]any
		doc       map[string]any
		wantKind  domain.ErrorKind
		wantValue any
	}{
		{
			name:      "hit",
			cfg:       map[string]any{"table_key": "ZONES", "key_path": "zip", "target_path": "territory"},
			doc:       map[string]any{"zip": "90210"},
			wantValue: map[string]any{"zone": "Z1", "factor": 1.2},
		},
		{
			name:      "merge into existing object",
			cfg:       map[string]any{"table_key": "ZONES", "key_path": "zip", "target_path": "territory", "merge": true},
			doc:       map[string]any{"zip": "90210", "territory": map[string]any{"code": "T"}},
			wantValue: map[string]any{"code": "T", "zone": "Z1", "factor": 1.2},
		},
		{
			name: "miss optional",
			cfg:  map[string]any{"table_key": "ZONES", "key_path": "zip", "target_path": "territory"},
			doc:  map[string]any{"zip": "00000"},
		},
		{
			name:     "miss required",
			cfg:      map[string]any{"table_key": "ZONES", "key_path": "zip", "target_path": "territory", "required": true},
			doc:      map[string]any{"zip": "00000"},
			wantKind: domain.KindMapping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, domain.StepEnrich, tt.cfg, tt.doc)
			resp, err := NewEnrichHandler(lookups).Execute(context.Background(), req)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			if tt.wantValue == nil {
				assert.Nil(t, resp.Doc)
				return
			}
			assert.Equal(t, tt.wantValue, resp.Doc["territory"])
		})
	}
}

func TestGenerateValue(t *testing.T) {
	fixed := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	h := NewGenerateValueHandler()
	h.now = func() time.Time { return fixed }

	tests := []struct {
		cfg   map[string]any
		check func(t *testing.T, v any)
	}{
		{map[string]any{"generator": "uuid", "target_path": "id"}, func(t *testing.T, v any) {
			_, err := uuid.Parse(v.(string))
			assert.NoError(t, err)
		}},
		{map[string]any{"generator": "ksuid", "target_path": "id"}, func(t *testing.T, v any) {
			assert.Len(t, v.(string), 27)
		}},
		{map[string]any{"generator": "timestamp", "target_path": "id"}, func(t *testing.T, v any) {
			assert.Equal(t, "2024-03-05T10:30:00Z", v)
		}},
		{map[string]any{"generator": "date", "target_path": "id", "format": "MM/DD/YYYY"}, func(t *testing.T, v any) {
			assert.Equal(t, "03/05/2024", v)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.cfg["generator"].(string), func(t *testing.T) {
			req := newRequest(t, domain.StepGenerateValue, tt.cfg, map[string]any{})
			resp, err := h.Execute(context.Background(), req)
			require.NoError(t, err)
			tt.check(t, resp.Doc["id"])
		})
	}

	t.Run("only_if_empty keeps existing", func(t *testing.T) {
		req := newRequest(t, domain.StepGenerateValue,
			map[string]any{"generator": "uuid", "target_path": "id", "only_if_empty": true},
			map[string]any{"id": "keep"})
		resp, err := h.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, resp.Doc)
		assert.Equal(t, "keep", req.Doc["id"])
	})
}
