package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	doc := testDoc()
	doc["premium"] = 1000.0
	doc["name"] = "ann"

	tests := []struct {
		expr string
		want any
	}{
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"-premium / 4", -250.0},
		{"premium * 1.15", 1000.0 * 1.15},
		{"10 % 4", 2.0},
		{"policy.state == 'CA'", true},
		{`policy.state != "CA"`, false},
		{"coverage.limit > 500000 && policy.state == 'CA'", true},
		{"coverage.limit < 500000 or policy.state == 'CA'", true},
		{"not (policy.state == 'CA')", false},
		{"!missing", true},
		{"missing == null", true},
		{"policy.drivers[1].age >= 21", false},
		{"policy.state in ['CA', 'NY']", true},
		{"'TX' in ['CA', 'NY']", false},
		{"'HO-' + 3", "HO-3"},
		{"upper(name)", "ANN"},
		{"len(policy.drivers)", 2.0},
		{"round(2.345, 2)", 2.35},
		{"max(1, premium, 3)", 1000.0},
		{"if(coverage.limit > 1, 'high', 'low')", "high"},
		{"coalesce(missing, '', 'x')", "x"},
		{"concat(policy.state, '-', 1)", "CA-1"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, doc)
			require.NoError(t, err)
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, got, 1e-9)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	doc := testDoc()

	syntax := []string{
		"",
		"1 +",
		"(1 + 2",
		"'unterminated",
		"policy.state = 'CA'",
		"exec('rm -rf /')",
		"a ; b",
	}
	for _, src := range syntax {
		t.Run("syntax "+src, func(t *testing.T) {
			_, err := Evaluate(src, doc)
			assert.ErrorIs(t, err, ErrExpressionSyntax)
		})
	}

	runtime := []string{
		"1 / 0",
		"policy.state * 2",
		"missing - 1",
		"abs('x')",
	}
	for _, src := range runtime {
		t.Run("eval "+src, func(t *testing.T) {
			_, err := Evaluate(src, doc)
			assert.ErrorIs(t, err, ErrExpressionEval)
		})
	}
}

func TestEvaluateBool(t *testing.T) {
	ok, err := EvaluateBool("", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateBool("policy.state == 'NY'", testDoc())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NoSideEffects(t *testing.T) {
	doc := testDoc()
	before := Clone(doc)

	_, err := Evaluate("policy.state == 'CA' && len(policy.drivers) > 0", doc)
	require.NoError(t, err)
	assert.Equal(t, before, doc)
}

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in       float64
		decimals int
		want     float64
	}{
		{2.5, 0, 3},
		{-2.5, 0, -3},
		{1.005, 2, 1.01},
		{1.004, 2, 1.0},
		{1234.5678, 1, 1234.6},
		{0.125, 2, 0.13},
		{10, 0, 10},
		{7.0, -1, 7},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundHalfUp(tt.in, tt.decimals), "round(%v, %d)", tt.in, tt.decimals)
	}
}
