package registry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/repo"
	"github.com/shaiso/ratingflow/internal/repo/memstore"
)

type mapCache struct {
	mu      sync.Mutex
	flows   map[string]*domain.Flow
	hits    int
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{flows: make(map[string]*domain.Flow)}
}

func (c *mapCache) Get(_ context.Context, code, endpoint string) (*domain.Flow, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[code+"/"+endpoint]
	if ok {
		c.hits++
		cp := *f
		cp.Steps = append([]domain.Step(nil), f.Steps...)
		return &cp, true, nil
	}
	return nil, false, nil
}

func (c *mapCache) Set(_ context.Context, flow *domain.Flow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *flow
	c.flows[flow.ProductLineCode+"/"+flow.EndpointPath] = &cp
	return nil
}

func (c *mapCache) Delete(_ context.Context, code, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.flows, code+"/"+endpoint)
	return nil
}

func genStep(name string) domain.Step {
	return domain.Step{
		StepType: domain.StepGenerateValue,
		Name:     name,
		IsActive: true,
		Config:   map[string]any{"generator": "uuid", "target_path": "ids." + name},
	}
}

func newRegistry(t *testing.T) (*Registry, *mapCache) {
	t.Helper()
	cache := newMapCache()
	return New(Config{Store: memstore.New(), Cache: cache}), cache
}

func TestCreateFlow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		flow    domain.Flow
		wantErr error
	}{
		{
			name: "draft without steps",
			flow: domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate"},
		},
		{
			name: "active with steps",
			flow: domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Status: domain.FlowStatusActive,
				Steps: []domain.Step{genStep("a"), genStep("b")}},
		},
		{
			name:    "active without steps",
			flow:    domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Status: domain.FlowStatusActive},
			wantErr: ErrInvalidFlow,
		},
		{
			name:    "missing endpoint",
			flow:    domain.Flow{ProductLineCode: "HO3"},
			wantErr: ErrInvalidFlow,
		},
		{
			name: "unknown step type",
			flow: domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate",
				Steps: []domain.Step{{StepType: "shell", Name: "x", IsActive: true}}},
			wantErr: domain.ErrConfig,
		},
		{
			name: "invalid step config",
			flow: domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate",
				Steps: []domain.Step{{StepType: domain.StepGenerateValue, Name: "x", IsActive: true,
					Config: map[string]any{"generator": "dice"}}}},
			wantErr: ErrInvalidFlow,
		},
		{
			name: "bad run condition",
			flow: domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate",
				Steps: []domain.Step{func() domain.Step {
					s := genStep("a")
					s.RunCondition = "state =="
					return s
				}()}},
			wantErr: domain.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRegistry(t)
			flow := tt.flow
			err := r.CreateFlow(ctx, &flow)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, flow.ID)

			got, err := r.GetFlow(ctx, "HO3", "rate")
			require.NoError(t, err)
			require.Len(t, got.Steps, len(tt.flow.Steps))
			for i, s := range got.Steps {
				assert.Equal(t, i+1, s.StepOrder)
				assert.Equal(t, flow.ID, s.FlowID)
			}
		})
	}
}

func TestCreateFlow_Duplicate(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CreateFlow(ctx, &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate"}))
	err := r.CreateFlow(ctx, &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate"})
	assert.True(t, errors.Is(err, repo.ErrAlreadyExists))
}

func TestGetFlow_IncludesInactiveSorted(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	a, b, c := genStep("a"), genStep("b"), genStep("c")
	a.StepOrder, b.StepOrder, c.StepOrder = 30, 10, 20
	b.IsActive = false
	require.NoError(t, r.CreateFlow(ctx, &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Steps: []domain.Step{a, b, c}}))

	flow, err := r.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	names := []string{}
	for _, s := range flow.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"b", "c", "a"}, names)
	assert.False(t, flow.Steps[0].IsActive)

	_, err = r.GetFlow(ctx, "HO3", "missing")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestStepCRUD(t *testing.T) {
	r, cache := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.CreateFlow(ctx, &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Steps: []domain.Step{genStep("a")}}))

	// прогреваем кэш
	_, err := r.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	_, err = r.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	b := genStep("b")
	added, err := r.AddStep(ctx, "HO3", "rate", &b)
	require.NoError(t, err)
	assert.Equal(t, 2, added.StepOrder)

	flow, err := r.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	require.Len(t, flow.Steps, 2, "cache must be invalidated after AddStep")

	dup := genStep("b")
	_, err = r.AddStep(ctx, "HO3", "rate", &dup)
	assert.True(t, errors.Is(err, repo.ErrAlreadyExists))

	bad := genStep("c")
	bad.Config = map[string]any{"generator": "uuid"}
	_, err = r.AddStep(ctx, "HO3", "rate", &bad)
	assert.True(t, errors.Is(err, ErrInvalidFlow))

	update := *added
	update.IsActive = false
	update.StepOrder = 0
	updated, err := r.UpdateStep(ctx, "HO3", "rate", &update)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.StepOrder)
	assert.False(t, updated.IsActive)

	missing := genStep("zzz")
	missing.ID = uuid.New()
	_, err = r.UpdateStep(ctx, "HO3", "rate", &missing)
	assert.True(t, errors.Is(err, ErrStepNotFound))

	require.NoError(t, r.DeleteStep(ctx, "HO3", "rate", added.ID))
	flow, err = r.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	assert.Len(t, flow.Steps, 1)

	assert.True(t, errors.Is(r.DeleteStep(ctx, "HO3", "rate", added.ID), ErrStepNotFound))
	assert.GreaterOrEqual(t, cache.deletes, 3)
}

func TestReorder_AnyPermutation(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	var defs []domain.Step
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		defs = append(defs, genStep(n))
	}
	flow := &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Steps: defs}
	require.NoError(t, r.CreateFlow(ctx, flow))

	ids := make([]uuid.UUID, len(flow.Steps))
	for i, s := range flow.Steps {
		ids[i] = s.ID
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		order := append([]uuid.UUID(nil), ids...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		steps, err := r.Reorder(ctx, "HO3", "rate", order)
		require.NoError(t, err)

		got, err := r.GetFlow(ctx, "HO3", "rate")
		require.NoError(t, err)
		require.Len(t, got.Steps, len(order))
		for i, s := range got.Steps {
			assert.Equal(t, i+1, s.StepOrder)
			assert.Equal(t, order[i], s.ID)
			assert.Equal(t, steps[i].ID, s.ID)
		}
	}
}

func TestReorder_RejectsPartialOrder(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	flow := &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate", Steps: []domain.Step{genStep("a"), genStep("b")}}
	require.NoError(t, r.CreateFlow(ctx, flow))

	tests := []struct {
		name  string
		order []uuid.UUID
	}{
		{"missing step", []uuid.UUID{flow.Steps[0].ID}},
		{"duplicate", []uuid.UUID{flow.Steps[0].ID, flow.Steps[0].ID}},
		{"foreign id", []uuid.UUID{flow.Steps[0].ID, uuid.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reorder(ctx, "HO3", "rate", tt.order)
			assert.True(t, errors.Is(err, repo.ErrConflict), "got %v", err)

			got, err := r.GetFlow(ctx, "HO3", "rate")
			require.NoError(t, err)
			assert.Equal(t, flow.Steps[0].ID, got.Steps[0].ID)
			assert.Equal(t, 1, got.Steps[0].StepOrder)
		})
	}
}

func TestUpdateAndDeleteFlow(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.CreateFlow(ctx, &domain.Flow{ProductLineCode: "HO3", EndpointPath: "rate"}))

	_, err := r.UpdateFlow(ctx, "HO3", "rate", "", domain.FlowStatusActive)
	assert.True(t, errors.Is(err, ErrInvalidFlow), "empty flow cannot be activated")

	a := genStep("a")
	_, err = r.AddStep(ctx, "HO3", "rate", &a)
	require.NoError(t, err)

	flow, err := r.UpdateFlow(ctx, "HO3", "rate", "Homeowners", domain.FlowStatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowStatusActive, flow.Status)
	assert.Equal(t, "Homeowners", flow.Name)

	require.NoError(t, r.DeleteFlow(ctx, "HO3", "rate"))
	_, err = r.GetFlow(ctx, "HO3", "rate")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestAutoGenerate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		format    string
		wantSteps []domain.StepType
	}{
		{
			format: "json",
			wantSteps: []domain.StepType{
				domain.StepValidateRequest, domain.StepFieldMapping, domain.StepApplyRules,
				domain.StepCallRatingEngine, domain.StepFieldMapping,
			},
		},
		{
			format: "XML",
			wantSteps: []domain.StepType{
				domain.StepValidateRequest, domain.StepGenerateValue, domain.StepFieldMapping,
				domain.StepApplyRules, domain.StepFormatTransform, domain.StepCallRatingEngine,
				domain.StepFieldMapping, domain.StepGenerateValue,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			r, _ := newRegistry(t)
			flow, err := r.AutoGenerate(ctx, "HO3", "rate", tt.format, GenerateOptions{EngineURL: "http://engine.local/rate"})
			require.NoError(t, err)
			assert.Equal(t, domain.FlowStatusDraft, flow.Status)

			got, err := r.GetFlow(ctx, "HO3", "rate")
			require.NoError(t, err)
			types := make([]domain.StepType, len(got.Steps))
			for i, s := range got.Steps {
				types[i] = s.StepType
				assert.Equal(t, i+1, s.StepOrder)
				if s.StepType == domain.StepCallRatingEngine {
					assert.Equal(t, "http", s.Config["mode"])
					assert.Equal(t, "http://engine.local/rate", s.Config["url"])
				}
			}
			assert.Equal(t, tt.wantSteps, types)
		})
	}

	r, _ := newRegistry(t)
	_, err := r.AutoGenerate(ctx, "HO3", "rate", "csv", GenerateOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTemplate))
	assert.Equal(t, []string{"json", "xml"}, TemplateFormats())
}
