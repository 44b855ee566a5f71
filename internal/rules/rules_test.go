package rules

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
)

func surchargeRule(state string, rate float64) domain.Rule {
	return domain.Rule{
		ID:       uuid.New(),
		Name:     state + " surcharge",
		IsActive: true,
		Conditions: []domain.Condition{
			{Field: "state", Operator: domain.OpEq, Value: state},
		},
		Actions: []domain.Action{
			{ActionType: domain.ActionSurcharge, TargetField: "premium", Value: rate},
		},
	}
}

func TestEvaluate_NYSurcharge(t *testing.T) {
	rules := []domain.Rule{surchargeRule("NY", 0.10)}

	out, outcome, err := Evaluate(rules, map[string]any{"state": "NY", "premium": 1000.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1100.0, out["premium"])
	assert.Len(t, outcome.Applied, 1)

	out, outcome, err = Evaluate(rules, map[string]any{"state": "CA", "premium": 1000.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, out["premium"])
	assert.Empty(t, outcome.Applied)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"state": "NY", "premium": 500.0}
	_, _, err := Evaluate([]domain.Rule{surchargeRule("NY", 10)}, in, nil)
	require.NoError(t, err)
	assert.Equal(t, 500.0, in["premium"])
}

func TestEvaluate_PercentAndDiscount(t *testing.T) {
	rules := []domain.Rule{
		surchargeRule("CA", 15),
		{
			Name: "loyalty", IsActive: true, Priority: 10,
			Actions: []domain.Action{{ActionType: domain.ActionDiscount, TargetField: "premium", Value: 0.5}},
		},
	}

	out, _, err := Evaluate(rules, map[string]any{"state": "CA", "premium": 1000.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 575.0, out["premium"])
}

func TestEvaluate_DeferredAdjustment(t *testing.T) {
	out, outcome, err := Evaluate([]domain.Rule{surchargeRule("CA", 15)}, map[string]any{"state": "CA"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "premium")
	require.Len(t, outcome.Deferred, 1)
	assert.Equal(t, 0.15, outcome.Deferred[0].Rate)

	out["premium"] = 1000.0
	applied, remaining := ApplyDeferred(out, outcome.Deferred)
	assert.Len(t, applied, 1)
	assert.Empty(t, remaining)
	assert.Equal(t, 1150.0, out["premium"])
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	rules := []domain.Rule{
		{Name: "second", Priority: 2, IsActive: true,
			Actions: []domain.Action{{ActionType: domain.ActionMultiply, TargetField: "x", Value: 2}}},
		{Name: "first", Priority: 1, IsActive: true,
			Actions: []domain.Action{{ActionType: domain.ActionAdd, TargetField: "x", Value: 3}}},
	}

	out, _, err := Evaluate(rules, map[string]any{"x": 1.0}, nil)
	require.NoError(t, err)
	// (1 + 3) * 2
	assert.Equal(t, 8.0, out["x"])
}

func TestEvaluate_Actions(t *testing.T) {
	rule := domain.Rule{
		Name: "all", IsActive: true,
		Actions: []domain.Action{
			{ActionType: domain.ActionSet, TargetField: "tier", Value: "gold", SortOrder: 1},
			{ActionType: domain.ActionIncrement, TargetField: "count", SortOrder: 2},
			{ActionType: domain.ActionDecrement, TargetField: "credits", Value: 5, SortOrder: 3},
			{ActionType: domain.ActionDivide, TargetField: "limit", Value: 1000, SortOrder: 4},
			{ActionType: domain.ActionCopyField, TargetField: "copy.state", Value: "state", SortOrder: 5},
			{ActionType: domain.ActionAppend, TargetField: "notes", Value: "reviewed", SortOrder: 6},
			{ActionType: domain.ActionFlag, Value: "manual_review", SortOrder: 7},
			{ActionType: domain.ActionSkipStep, Value: "call-legacy", SortOrder: 8},
		},
	}
	doc := map[string]any{"count": 1.0, "credits": 10.0, "limit": 250000.0, "state": "CA"}

	out, outcome, err := Evaluate([]domain.Rule{rule}, doc, nil)
	require.NoError(t, err)

	assert.Equal(t, "gold", out["tier"])
	assert.Equal(t, 2.0, out["count"])
	assert.Equal(t, 5.0, out["credits"])
	assert.Equal(t, 250.0, out["limit"])
	assert.Equal(t, map[string]any{"state": "CA"}, out["copy"])
	assert.Equal(t, []any{"reviewed"}, out["notes"])
	require.Len(t, outcome.Flags, 1)
	assert.Equal(t, "manual_review", outcome.Flags[0].Value)
	assert.Equal(t, []string{"call-legacy"}, outcome.SkipSteps)
	assert.Empty(t, outcome.FieldErrors)
}

func TestEvaluate_MissingTargetIsFieldError(t *testing.T) {
	rule := domain.Rule{
		Name: "bump", IsActive: true,
		Actions: []domain.Action{
			{ActionType: domain.ActionAdd, TargetField: "missing", Value: 1, SortOrder: 1},
			{ActionType: domain.ActionSet, TargetField: "after", Value: true, SortOrder: 2},
		},
	}

	out, outcome, err := Evaluate([]domain.Rule{rule}, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Len(t, outcome.FieldErrors, 1)
	assert.Equal(t, true, out["after"])
}

func TestEvaluate_Reject(t *testing.T) {
	rule := domain.Rule{
		Name: "no coastal", IsActive: true,
		Conditions: []domain.Condition{{Field: "coastal", Operator: domain.OpEq, Value: true}},
		Actions:    []domain.Action{{ActionType: domain.ActionReject, Value: "coastal risks are not written"}},
	}

	_, _, err := Evaluate([]domain.Rule{rule}, map[string]any{"coastal": true}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRuleRejected)
	assert.Equal(t, domain.KindRuleRejected, domain.KindOf(err))
	assert.Contains(t, err.Error(), "coastal risks are not written")
}

func TestEvaluate_ScopeSelection(t *testing.T) {
	rule := surchargeRule("CA", 0.1)
	rule.Conditions = nil
	rule.ScopeTags = []domain.ScopeTag{{Dimension: "transaction_type", Value: "new_business"}}

	tests := []struct {
		name  string
		scope map[string]any
		want  float64
	}{
		{"matching scope", map[string]any{"transaction_type": "NEW_BUSINESS"}, 110},
		{"other scope", map[string]any{"transaction_type": "renewal"}, 100},
		{"no scope", nil, 100},
		{"list scope", map[string]any{"transaction_type": []any{"renewal", "new_business"}}, 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := Evaluate([]domain.Rule{rule}, map[string]any{"premium": 100.0}, tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["premium"])
		})
	}

	inactive := surchargeRule("CA", 0.1)
	inactive.IsActive = false
	out, _, err := Evaluate([]domain.Rule{inactive}, map[string]any{"state": "CA", "premium": 100.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out["premium"])
}

func TestMatchScope_Wildcard(t *testing.T) {
	tags := []domain.ScopeTag{{Dimension: "state", Value: "*"}}
	assert.True(t, MatchScope(tags, map[string]any{"state": "TX"}))
	assert.False(t, MatchScope(tags, map[string]any{"coverage": "A"}))
}

// Условия одной группы — AND, разных групп — OR.
func TestEvaluateConditions_LogicalGroups(t *testing.T) {
	conds := []domain.Condition{
		{Field: "state", Operator: domain.OpEq, Value: "CA", LogicalGroup: 1},
		{Field: "limit", Operator: domain.OpGt, Value: 500000, LogicalGroup: 1},
		{Field: "state", Operator: domain.OpEq, Value: "NY", LogicalGroup: 2},
	}

	tests := []struct {
		name string
		doc  map[string]any
		want bool
	}{
		{"group 1 all true", map[string]any{"state": "CA", "limit": 1000000.0}, true},
		{"group 1 partial", map[string]any{"state": "CA", "limit": 100000.0}, false},
		{"group 2 true", map[string]any{"state": "NY", "limit": 1.0}, true},
		{"none", map[string]any{"state": "TX"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateConditions(conds, tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Operators(t *testing.T) {
	doc := map[string]any{
		"state":   "CA",
		"limit":   750000.0,
		"name":    "Acme Holdings",
		"tags":    []any{"coastal", "frame"},
		"empty":   "",
		"zip":     "94105",
		"numeric": "42",
	}

	tests := []struct {
		op    domain.Operator
		field string
		value any
		want  bool
	}{
		{domain.OpEq, "numeric", 42, true},
		{domain.OpNeq, "state", "NY", true},
		{domain.OpGte, "limit", 750000, true},
		{domain.OpLt, "limit", "1000000", true},
		{domain.OpLte, "missing", 5, false},
		{domain.OpContains, "name", "Hold", true},
		{domain.OpContains, "tags", "coastal", true},
		{domain.OpNotContain, "tags", "brick", true},
		{domain.OpStartsWith, "name", "Acme", true},
		{domain.OpEndsWith, "name", "Inc", false},
		{domain.OpIn, "state", []any{"CA", "NV"}, true},
		{domain.OpIn, "state", "NY, NV", false},
		{domain.OpNotIn, "state", []any{"NY"}, true},
		{domain.OpIsNull, "missing", nil, true},
		{domain.OpIsNotNull, "state", nil, true},
		{domain.OpIsEmpty, "empty", nil, true},
		{domain.OpIsNotEmpty, "tags", nil, true},
		{domain.OpBetween, "limit", []any{500000, 1000000}, true},
		{domain.OpBetween, "limit", map[string]any{"min": 1, "max": 10}, false},
		{domain.OpRegex, "zip", `^9\d{4}$`, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.op)+" "+tt.field, func(t *testing.T) {
			got, err := EvaluateCondition(domain.Condition{Field: tt.field, Operator: tt.op, Value: tt.value}, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Malformed(t *testing.T) {
	tests := []domain.Condition{
		{Field: "x", Operator: "~=", Value: 1},
		{Field: "x", Operator: domain.OpRegex, Value: "("},
		{Field: "x", Operator: domain.OpBetween, Value: 5},
		{Field: "x", Operator: domain.OpIn, Value: 5},
	}

	for _, c := range tests {
		t.Run(string(c.Operator), func(t *testing.T) {
			_, err := EvaluateCondition(c, map[string]any{"x": 1.0})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrRuleEvaluation)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := surchargeRule("CA", 15)
	valid.ProductLineCode = "HO3"
	require.NoError(t, Validate(&valid))

	tests := []struct {
		name   string
		mutate func(r *domain.Rule)
	}{
		{"no actions", func(r *domain.Rule) { r.Actions = nil }},
		{"unknown operator", func(r *domain.Rule) { r.Conditions[0].Operator = "like" }},
		{"unknown action", func(r *domain.Rule) { r.Actions[0].ActionType = "delete" }},
		{"missing target", func(r *domain.Rule) { r.Actions[0].TargetField = "" }},
		{"bad regex", func(r *domain.Rule) {
			r.Conditions[0] = domain.Condition{Field: "zip", Operator: domain.OpRegex, Value: "[a-"}
		}},
		{"non-numeric rate", func(r *domain.Rule) { r.Actions[0].Value = "lots" }},
		{"ambiguous rate", func(r *domain.Rule) { r.Actions[0].Value = 1 }},
		{"bool rate", func(r *domain.Rule) { r.Actions[0].Value = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := surchargeRule("CA", 15)
			r.ProductLineCode = "HO3"
			tt.mutate(&r)
			err := Validate(&r)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{in: 15, want: 0.15},
		{in: 0.1, want: 0.1},
		{in: -20.0, want: -0.2},
		{in: "1%", want: 0.01},
		{in: "100%", want: 1},
		{in: " 2.5 % ", want: 0.025},
		{in: "12.5", want: 0.125},
		{in: 1, wantErr: true},
		{in: -1.0, wantErr: true},
		{in: "abc%", wantErr: true},
		{in: true, wantErr: true},
		{in: nil, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "rate %v", tt.in)
			continue
		}
		require.NoError(t, err, "rate %v", tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, "rate %v", tt.in)
	}
}

func TestEvaluate_PercentString(t *testing.T) {
	rule := domain.Rule{
		Name: "one percent", IsActive: true,
		Actions: []domain.Action{{ActionType: domain.ActionSurcharge, TargetField: "premium", Value: "1%"}},
	}

	out, _, err := Evaluate([]domain.Rule{rule}, map[string]any{"premium": 1000.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, out["premium"])
}

func TestEvaluate_NumericActionsRejectBool(t *testing.T) {
	rule := domain.Rule{
		Name: "bool target", IsActive: true,
		Actions: []domain.Action{
			{ActionType: domain.ActionMultiply, TargetField: "insured", Value: 2, SortOrder: 1},
			{ActionType: domain.ActionSurcharge, TargetField: "insured", Value: 10, SortOrder: 2},
		},
	}

	out, outcome, err := Evaluate([]domain.Rule{rule}, map[string]any{"insured": true}, nil)
	require.NoError(t, err)
	assert.Len(t, outcome.FieldErrors, 2)
	assert.Equal(t, true, out["insured"])
}

func TestAdjustment_ApplyDecimal(t *testing.T) {
	tests := []struct {
		name   string
		action domain.ActionType
		rate   float64
		in     float64
		want   float64
	}{
		{"surcharge", domain.ActionSurcharge, 0.15, 1000, 1150},
		{"discount", domain.ActionDiscount, 0.1, 333.33, 299.997},
		{"binary float trap", domain.ActionSurcharge, 0.1, 0.7, 0.77},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := map[string]any{"premium": tt.in}
			adj := Adjustment{ActionType: tt.action, TargetField: "premium", Rate: tt.rate}
			require.NoError(t, adj.Apply(doc))
			assert.Equal(t, tt.want, doc["premium"])
		})
	}
}
