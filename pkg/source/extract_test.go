package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/schema"
)

func strptr(s string) *string { return &s }

type fakeSource struct {
	rows    []Row
	fields  []schema.Field
	queries []Query
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Type() string { return "fake" }

func (f *fakeSource) Query(_ context.Context, q Query) ([]Row, error) {
	f.queries = append(f.queries, q)
	return f.rows, nil
}

func (f *fakeSource) DiscoverFields(context.Context, string) ([]schema.Field, error) {
	return f.fields, nil
}
func (f *fakeSource) Tables(context.Context) ([]string, error) { return nil, nil }
func (f *fakeSource) Ping(context.Context) error               { return nil }
func (f *fakeSource) Close(context.Context) error              { return nil }

func TestExtractConstantsNeverQueried(t *testing.T) {
	table := &schema.Table{
		Name: "users",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "tenant", Value: strptr("acme")},
		},
	}
	src := &fakeSource{rows: []Row{{"id": int64(1)}, {"id": int64(2)}}}

	rows, err := Extract(context.Background(), src, table, Filter{})
	require.NoError(t, err)

	require.Len(t, src.queries, 1)
	require.Len(t, src.queries[0].Fields, 1)
	assert.Equal(t, "id", src.queries[0].Fields[0].Name)

	// Every row carries the constant
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "acme", row["tenant"])
	}
}

func TestExtractFullyConstantTableSkipsQuery(t *testing.T) {
	table := &schema.Table{
		Name: "markers",
		Fields: []schema.Field{
			{Name: "tenant", Value: strptr("acme")},
		},
	}
	src := &fakeSource{}

	rows, err := Extract(context.Background(), src, table, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, src.queries, "a table with only constants needs no source query")
}

func TestExtractAppliesStaticFilter(t *testing.T) {
	table := &schema.Table{
		Name:   "users",
		Fields: []schema.Field{{Name: "id"}},
		Filter: "deleted = 0",
	}
	src := &fakeSource{}

	_, err := Extract(context.Background(), src, table, Filter{})
	require.NoError(t, err)
	assert.Equal(t, "deleted = 0", src.queries[0].Filter.Expr)

	// An explicit expression wins over the table default
	src.queries = nil
	_, err = Extract(context.Background(), src, table, Filter{Expr: "id > 10"})
	require.NoError(t, err)
	assert.Equal(t, "id > 10", src.queries[0].Filter.Expr)
}

func TestExtractPassesPartitionScope(t *testing.T) {
	table := &schema.Table{
		Name:   "orders",
		Fields: []schema.Field{{Name: "id"}, {Name: "region"}},
	}
	src := &fakeSource{}

	scope := Filter{Equals: []schema.KV{{Key: "region", Value: "west"}}}
	_, err := Extract(context.Background(), src, table, scope)
	require.NoError(t, err)
	assert.Equal(t, scope.Equals, src.queries[0].Filter.Equals)
}

func TestCheckSchema(t *testing.T) {
	table := &schema.Table{
		Name: "users",
		Fields: []schema.Field{
			{Name: "id"},
			{Name: "full_name", Source: "name"},
			{Name: "tenant", Value: strptr("acme")},
		},
	}

	src := &fakeSource{fields: []schema.Field{{Name: "id"}, {Name: "name"}}}
	assert.NoError(t, CheckSchema(context.Background(), src, table))

	// Constant fields are never checked against the source
	src = &fakeSource{fields: []schema.Field{{Name: "id"}, {Name: "name"}, {Name: "extra"}}}
	assert.NoError(t, CheckSchema(context.Background(), src, table))

	src = &fakeSource{fields: []schema.Field{{Name: "id"}}}
	err := CheckSchema(context.Background(), src, table)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), "name")
	assert.False(t, errors.IsRetryable(err), "schema mismatches are not transient")
}

func TestRegistry(t *testing.T) {
	Register("stub", func(*config.DatasourceConfig) (Source, error) {
		return &fakeSource{}, nil
	})
	assert.Contains(t, List(), "stub")

	src, err := Create(&config.DatasourceConfig{Type: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "fake", src.Name())

	_, err = Create(&config.DatasourceConfig{Type: "unknown"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
