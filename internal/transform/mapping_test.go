package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
)

func TestApplyMappings(t *testing.T) {
	e := newTestEngine()
	src := map[string]any{
		"policy":   map[string]any{"state": "CA", "effective": "2024-01-15"},
		"coverage": map[string]any{"limit": 1000000.0},
	}

	fields := []domain.FieldMapping{
		{SourcePath: "coverage.limit", TargetPath: "rating.units", TransformationType: domain.TransformPerUnit,
			TransformConfig: map[string]any{"unit_size": 1000}, SortOrder: 2},
		{SourcePath: "policy.state", TargetPath: "rating.state", SortOrder: 1},
		{SourcePath: "policy.state", TargetPath: "rating.territory", TransformationType: domain.TransformLookup,
			TransformConfig: map[string]any{"table_key": "territory"}, SortOrder: 3},
		{SourcePath: "policy.effective", TargetPath: "rating.effective", TransformationType: domain.TransformDate,
			TransformConfig: map[string]any{"format": "MM/DD/YYYY"}, SortOrder: 4},
		{TargetPath: "rating.program", TransformationType: domain.TransformConstant,
			TransformConfig: map[string]any{"value": "HO3"}, SortOrder: 5},
	}

	dst := map[string]any{}
	res, err := e.ApplyMappings(fields, src, dst)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"rating": map[string]any{
		"state":     "CA",
		"units":     1000.0,
		"territory": "T1",
		"effective": "01/15/2024",
		"program":   "HO3",
	}}, dst)
	assert.Equal(t, 5, res.Count(OutcomeMapped))
	assert.Equal(t, "rating.state", res.Fields[0].TargetPath)
}

func TestApplyMappings_FieldPolicy(t *testing.T) {
	e := newTestEngine()
	src := map[string]any{"state": "TX", "amount": "abc"}

	tests := []struct {
		name    string
		field   domain.FieldMapping
		want    any
		present bool
		outcome string
		errKind domain.ErrorKind
	}{
		{
			name:    "required missing without default",
			field:   domain.FieldMapping{SourcePath: "zip", TargetPath: "out", IsRequired: true},
			errKind: domain.KindMapping,
		},
		{
			name:    "required missing with default",
			field:   domain.FieldMapping{SourcePath: "zip", TargetPath: "out", IsRequired: true, DefaultValue: "00000"},
			want:    "00000",
			present: true,
			outcome: OutcomeDefaulted,
		},
		{
			name:    "optional missing",
			field:   domain.FieldMapping{SourcePath: "zip", TargetPath: "out"},
			outcome: OutcomeOmitted,
		},
		{
			name: "required transform failure",
			field: domain.FieldMapping{SourcePath: "amount", TargetPath: "out", IsRequired: true,
				TransformationType: domain.TransformMultiply, TransformConfig: map[string]any{"factor": 2}},
			errKind: domain.KindMapping,
		},
		{
			name: "lookup miss falls back to default",
			field: domain.FieldMapping{SourcePath: "state", TargetPath: "out", IsRequired: true, DefaultValue: "T0",
				TransformationType: domain.TransformLookup, TransformConfig: map[string]any{"table_key": "territory"}},
			want:    "T0",
			present: true,
			outcome: OutcomeDefaulted,
		},
		{
			name:    "skip omit",
			field:   domain.FieldMapping{SourcePath: "state", TargetPath: "out", SkipMapping: true, DefaultValue: "X"},
			outcome: OutcomeOmitted,
		},
		{
			name: "skip default",
			field: domain.FieldMapping{SourcePath: "state", TargetPath: "out", SkipMapping: true,
				SkipBehavior: domain.SkipDefault, DefaultValue: "X"},
			want:    "X",
			present: true,
			outcome: OutcomeDefaulted,
		},
		{
			name: "unknown type is fatal even with default",
			field: domain.FieldMapping{SourcePath: "state", TargetPath: "out", DefaultValue: "X",
				TransformationType: "eval"},
			errKind: domain.KindConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := map[string]any{}
			res, err := e.ApplyMappings([]domain.FieldMapping{tt.field}, src, dst)

			if tt.errKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errKind, domain.KindOf(err))
				return
			}
			require.NoError(t, err)

			v, ok := dst["out"]
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.want, v)
			require.Len(t, res.Fields, 1)
			assert.Equal(t, tt.outcome, res.Fields[0].Outcome)
		})
	}
}
