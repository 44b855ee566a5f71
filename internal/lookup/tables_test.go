package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/ratingflow/internal/domain"
)

type fakeSource struct {
	tables []domain.LookupTable
	err    error
}

func (f *fakeSource) ListLookupTables(context.Context) ([]domain.LookupTable, error) {
	return f.tables, f.err
}

func TestTables_ReloadAndLookup(t *testing.T) {
	src := &fakeSource{tables: []domain.LookupTable{
		{Key: "territory", Entries: map[string]any{"ca": "T1", "NY": "T2"}},
	}}
	tables := New(src, nil)

	_, ok := tables.Lookup("territory", "CA")
	assert.False(t, ok)

	require.NoError(t, tables.Reload(context.Background()))

	v, ok := tables.Lookup("territory", "ca")
	require.True(t, ok)
	assert.Equal(t, "T1", v)

	_, ok = tables.Lookup("territory", "TX")
	assert.False(t, ok)
	assert.False(t, tables.LoadedAt().IsZero())
}

func TestTables_ReloadErrorKeepsSnapshot(t *testing.T) {
	src := &fakeSource{tables: []domain.LookupTable{{Key: "t", Entries: map[string]any{"a": 1}}}}
	tables := New(src, nil)
	require.NoError(t, tables.Reload(context.Background()))

	src.err = errors.New("db down")
	require.Error(t, tables.Reload(context.Background()))

	v, ok := tables.Lookup("t", "A")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestTables_PutRemove(t *testing.T) {
	tables := New(nil, nil)
	tables.Put(domain.LookupTable{Key: "construction", Entries: map[string]any{"frame": 1.2}})

	v, ok := tables.Lookup("construction", "FRAME")
	require.True(t, ok)
	assert.Equal(t, 1.2, v)

	table, ok := tables.Table("construction")
	require.True(t, ok)
	assert.Len(t, table, 1)

	tables.Remove("construction")
	_, ok = tables.Table("construction")
	assert.False(t, ok)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("@every 1m"))
	assert.Error(t, ValidateSchedule("every minute"))

	_, err := NewRefresher(New(nil, nil), "bad", nil)
	assert.Error(t, err)
}
