package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TxReceived, TxValidating, true},
		{TxReceived, TxProcessing, true},
		{TxReceived, TxFailed, true},
		{TxReceived, TxCompleted, false},
		{TxValidating, TxProcessing, true},
		{TxValidating, TxFailed, true},
		{TxValidating, TxCompleted, false},
		{TxProcessing, TxCompleted, true},
		{TxProcessing, TxFailed, true},
		{TxProcessing, TxValidating, false},
		{TxProcessing, TxProcessing, true},
		{TxCompleted, TxFailed, false},
		{TxFailed, TxProcessing, false},
		{TxCompleted, TxCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTransactionPatch_CountersMonotonic(t *testing.T) {
	tx := &Transaction{Status: TxProcessing, StepCount: 2, CompletedSteps: 2}
	now := time.Now()

	p := &TransactionPatch{StepCountDelta: 1, CompletedStepsDelta: 1}
	p.Apply(tx, now)
	assert.Equal(t, 3, tx.StepCount)
	assert.Equal(t, 3, tx.CompletedSteps)

	negative := &TransactionPatch{StepCountDelta: -5, CompletedStepsDelta: -5}
	negative.Apply(tx, now)
	assert.Equal(t, 3, tx.StepCount)
	assert.Equal(t, 3, tx.CompletedSteps)

	done := TxCompleted
	(&TransactionPatch{Status: &done}).Apply(tx, now)
	assert.Equal(t, TxCompleted, tx.Status)
	require.NotNil(t, tx.CompletedAt)
}

func TestStepError_Is(t *testing.T) {
	err := fmt.Errorf("step premium: %w", NewTransformError("premium", "division by zero"))

	assert.True(t, errors.Is(err, ErrTransform))
	assert.False(t, errors.Is(err, ErrMapping))
	assert.Equal(t, KindTransform, KindOf(err))
	assert.True(t, IsFieldError(err))
	assert.Equal(t, "transform: premium: division by zero", errors.Unwrap(err).Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("wrap: %w", context.Canceled)))
	assert.Equal(t, KindRuleRejected, KindOf(fmt.Errorf("wrap: %w", ErrRuleRejected)))
	assert.Equal(t, KindTransform, KindOf(errors.New("plain")))
}

func TestDecodeStepConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     StepType
		raw     map[string]any
		wantErr bool
	}{
		{
			name: "mock rating engine without url",
			typ:  StepCallRatingEngine,
			raw:  map[string]any{"mode": "mock", "premium": 1000},
		},
		{
			name:    "http rating engine without url",
			typ:     StepCallRatingEngine,
			raw:     map[string]any{"mode": "http"},
			wantErr: true,
		},
		{
			name: "external api with retry",
			typ:  StepCallExternalAPI,
			raw: map[string]any{
				"url":   "http://rating.local/v1/rate",
				"retry": map[string]any{"max_attempts": 3, "backoff": "exponential"},
			},
		},
		{
			name:    "retry with unknown backoff",
			typ:     StepCallExternalAPI,
			raw:     map[string]any{"url": "http://x.local", "retry": map[string]any{"backoff": "linear"}},
			wantErr: true,
		},
		{
			name:    "publish event without routing key",
			typ:     StepPublishEvent,
			raw:     map[string]any{},
			wantErr: true,
		},
		{
			name: "field mapping inline",
			typ:  StepFieldMapping,
			raw: map[string]any{"fields": []any{
				map[string]any{"source_path": "policy.state", "target_path": "state"},
			}},
		},
		{
			name:    "field mapping with nothing",
			typ:     StepFieldMapping,
			raw:     map[string]any{},
			wantErr: true,
		},
		{
			name:    "generate value unknown generator",
			typ:     StepGenerateValue,
			raw:     map[string]any{"generator": "serial", "target_path": "ref"},
			wantErr: true,
		},
		{
			name:    "unknown step type",
			typ:     StepType("shell"),
			wantErr: true,
		},
		{
			name: "apply rules without ids",
			typ:  StepApplyRules,
			raw:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeStepConfig(tt.typ, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, cfg.StepType())
		})
	}
}

func TestDecodeStepConfigAs(t *testing.T) {
	step := &Step{
		Name:     "rate",
		StepType: StepCallRatingEngine,
		Config:   map[string]any{"mode": "mock", "premium": 1000.0},
	}

	cfg, err := DecodeStepConfigAs[*CallRatingEngineConfig](step)
	require.NoError(t, err)
	require.NotNil(t, cfg.Premium)
	assert.Equal(t, 1000.0, *cfg.Premium)
	assert.Equal(t, "mock", cfg.Mode)
}

func TestFlow_SortAndNextOrder(t *testing.T) {
	f := &Flow{Steps: []Step{{Name: "c", StepOrder: 3}, {Name: "a", StepOrder: 1}, {Name: "b", StepOrder: 2}}}
	f.SortSteps()

	assert.Equal(t, "a", f.Steps[0].Name)
	assert.Equal(t, "c", f.Steps[2].Name)
	assert.Equal(t, 4, f.NextStepOrder())
}
