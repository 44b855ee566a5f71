package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() map[string]any {
	return map[string]any{
		"policy": map[string]any{
			"state": "CA",
			"drivers": []any{
				map[string]any{"name": "Ann", "age": 34.0},
				map[string]any{"name": "Bob", "age": 19.0},
			},
		},
		"coverage": map[string]any{"limit": 1000000.0},
	}
}

func TestGet(t *testing.T) {
	doc := testDoc()

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"policy.state", "CA", true},
		{"coverage.limit", 1000000.0, true},
		{"policy.drivers[1].name", "Bob", true},
		{"policy.drivers.0.age", 34.0, true},
		{"policy.drivers[5].name", nil, false},
		{"policy.missing", nil, false},
		{"policy.state.inner", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := Get(doc, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestSet(t *testing.T) {
	doc := testDoc()

	require.NoError(t, Set(doc, "rating.premium", 1150.0))
	v, ok := Get(doc, "rating.premium")
	require.True(t, ok)
	assert.Equal(t, 1150.0, v)

	require.NoError(t, Set(doc, "policy.drivers[0].age", 35.0))
	v, _ = Get(doc, "policy.drivers[0].age")
	assert.Equal(t, 35.0, v)

	assert.ErrorIs(t, Set(doc, "policy.drivers[9].age", 1), ErrInvalidPath)
	assert.ErrorIs(t, Set(doc, "policy.state.code", 1), ErrInvalidPath)
	assert.ErrorIs(t, Set(doc, "a..b", 1), ErrInvalidPath)
}

func TestDelete(t *testing.T) {
	doc := testDoc()
	Delete(doc, "policy.state")
	_, ok := Get(doc, "policy.state")
	assert.False(t, ok)

	Delete(doc, "nothing.here")
}

func TestClone_Independent(t *testing.T) {
	doc := testDoc()
	snapshot := Clone(doc)

	require.NoError(t, Set(doc, "policy.drivers[0].name", "Changed"))
	require.NoError(t, Set(doc, "coverage.limit", 1.0))

	v, _ := Get(snapshot, "policy.drivers[0].name")
	assert.Equal(t, "Ann", v)
	v, _ = Get(snapshot, "coverage.limit")
	assert.Equal(t, 1000000.0, v)
}

func TestMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	Merge(dst, map[string]any{"a": map[string]any{"y": 3, "z": 4}, "c": "new"})

	assert.Equal(t, map[string]any{"x": 1, "y": 3, "z": 4}, dst["a"])
	assert.Equal(t, 1, dst["b"])
	assert.Equal(t, "new", dst["c"])
}
