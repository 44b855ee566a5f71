package memstore

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/repo"
)

func seedFlow(t *testing.T, s *Store, n int) *domain.Flow {
	t.Helper()
	flow := &domain.Flow{
		ID:              uuid.New(),
		ProductLineCode: "HO3",
		EndpointPath:    "rate",
		Name:            "HO3 rate",
		Status:          domain.FlowStatusActive,
	}
	for i := 0; i < n; i++ {
		flow.Steps = append(flow.Steps, domain.Step{
			ID:        uuid.New(),
			FlowID:    flow.ID,
			StepOrder: i + 1,
			StepType:  domain.StepGenerateValue,
			Name:      "step-" + string(rune('a'+i)),
			IsActive:  true,
		})
	}
	require.NoError(t, s.CreateFlow(context.Background(), flow))
	return flow
}

func TestReorderSteps_AnyPermutation(t *testing.T) {
	ctx := context.Background()
	s := New()
	flow := seedFlow(t, s, 6)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 25; round++ {
		ids := make([]uuid.UUID, len(flow.Steps))
		for i, st := range flow.Steps {
			ids[i] = st.ID
		}
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		steps, err := s.ReorderSteps(ctx, flow.ID, ids)
		require.NoError(t, err)

		seen := map[int]bool{}
		for i, st := range steps {
			assert.Equal(t, ids[i], st.ID)
			assert.Equal(t, i+1, st.StepOrder)
			assert.False(t, seen[st.StepOrder])
			seen[st.StepOrder] = true
		}
	}
}

func TestReorderSteps_RejectsMismatchedSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	flow := seedFlow(t, s, 3)

	_, err := s.ReorderSteps(ctx, flow.ID, []uuid.UUID{flow.Steps[0].ID, flow.Steps[1].ID})
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, err := s.GetFlowByID(ctx, flow.ID)
	require.NoError(t, err)
	for i, st := range got.Steps {
		assert.Equal(t, flow.Steps[i].ID, st.ID)
		assert.Equal(t, i+1, st.StepOrder)
	}

	_, err = s.ReorderSteps(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSteps_UniqueOrderAndName(t *testing.T) {
	ctx := context.Background()
	s := New()
	flow := seedFlow(t, s, 2)

	dup := domain.Step{ID: uuid.New(), FlowID: flow.ID, StepOrder: 1, StepType: domain.StepGenerateValue, Name: "other"}
	assert.ErrorIs(t, s.AddStep(ctx, &dup), repo.ErrAlreadyExists)

	dup = domain.Step{ID: uuid.New(), FlowID: flow.ID, StepOrder: 9, StepType: domain.StepGenerateValue, Name: "step-a"}
	assert.ErrorIs(t, s.AddStep(ctx, &dup), repo.ErrAlreadyExists)

	ok := domain.Step{ID: uuid.New(), FlowID: flow.ID, StepOrder: 3, StepType: domain.StepGenerateValue, Name: "step-c"}
	require.NoError(t, s.AddStep(ctx, &ok))

	require.NoError(t, s.DeleteStep(ctx, flow.ID, flow.Steps[0].ID))
	got, err := s.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, "step-b", got.Steps[0].Name)
}

func TestGetFlow_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedFlow(t, s, 1)

	got, err := s.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	got.Steps[0].Name = "mutated"

	again, err := s.GetFlow(ctx, "HO3", "rate")
	require.NoError(t, err)
	assert.Equal(t, "step-a", again.Steps[0].Name)
}

func TestUpdateTransaction_Guarded(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx := &domain.Transaction{ID: uuid.New(), ProductLineCode: "HO3", Status: domain.TxReceived, CreatedAt: time.Now()}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	status := func(st domain.TransactionStatus) *domain.TransactionStatus { return &st }

	_, err := s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{Status: status(domain.TxCompleted)})
	assert.ErrorIs(t, err, repo.ErrInvalidState)

	got, err := s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{Status: status(domain.TxProcessing), StepCountDelta: 1, CompletedStepsDelta: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.TxProcessing, got.Status)

	got, err = s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{StepCountDelta: -5, CompletedStepsDelta: -5})
	require.NoError(t, err)
	assert.Equal(t, 1, got.StepCount)
	assert.Equal(t, 1, got.CompletedSteps)

	got, err = s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{Status: status(domain.TxCompleted)})
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)

	_, err = s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{Status: status(domain.TxFailed)})
	assert.ErrorIs(t, err, repo.ErrInvalidState)

	_, err = s.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{StepCountDelta: 1})
	assert.ErrorIs(t, err, repo.ErrInvalidState)
}

func TestListTransactions_Filter(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		code := "HO3"
		if i%2 == 1 {
			code = "AUTO"
		}
		require.NoError(t, s.CreateTransaction(ctx, &domain.Transaction{
			ID: uuid.New(), ProductLineCode: code, CorrelationID: "c", Status: domain.TxCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, total, err := s.ListTransactions(ctx, domain.TransactionFilter{ProductLineCode: "HO3", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	list, total, err = s.ListTransactions(ctx, domain.TransactionFilter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, list)
}

func TestLookupTables_CaseInsensitiveKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutLookupTable(ctx, &domain.LookupTable{Key: "territory", Entries: map[string]any{"CA": "T1"}}))

	got, err := s.GetLookupTable(ctx, "TERRITORY")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.Entries["CA"])

	require.NoError(t, s.DeleteLookupTable(ctx, "Territory"))
	_, err = s.GetLookupTable(ctx, "territory")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
