package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

// fakeSource records queries and returns canned rows
type fakeSource struct {
	rows    []source.Row
	queries []source.Query
	err     error
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Type() string { return "fake" }

func (f *fakeSource) Query(_ context.Context, q source.Query) ([]source.Row, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeSource) DiscoverFields(context.Context, string) ([]schema.Field, error) {
	return nil, nil
}
func (f *fakeSource) Tables(context.Context) ([]string, error) { return nil, nil }
func (f *fakeSource) Ping(context.Context) error               { return nil }
func (f *fakeSource) Close(context.Context) error              { return nil }

func partitionedTable() *schema.Table {
	return &schema.Table{
		Name: "enrollments",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "course_id"},
			{Name: "updated_at", Source: "modified", Type: schema.TypeDatetime},
		},
		Partitions: &schema.Partitioning{
			Fields:         []string{"course_id"},
			TimestampField: "updated_at",
			Interval:       48 * time.Hour,
		},
	}
}

func TestPlanNoPartitionScheme(t *testing.T) {
	base := schema.BasePartitions{{Key: "org", Value: "acme"}}
	p := New(base)
	src := &fakeSource{}

	keys, err := p.Plan(context.Background(), src, &schema.Table{Name: "users"}, false)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "org=acme", keys[0].Path())
	assert.Empty(t, src.queries, "an unpartitioned table needs no discovery query")
}

func TestPlanIncrementalWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p := New(nil, WithClock(func() time.Time { return now }))
	src := &fakeSource{rows: []source.Row{
		{"course_id": "b"},
		{"course_id": "a"},
	}}

	keys, err := p.Plan(context.Background(), src, partitionedTable(), false)
	require.NoError(t, err)

	require.Len(t, src.queries, 1)
	q := src.queries[0]
	assert.True(t, q.Distinct)
	assert.Equal(t, "enrollments", q.Table)
	require.Len(t, q.Fields, 1)
	assert.Equal(t, "course_id", q.Fields[0].Name)
	require.NotNil(t, q.Filter.Window)
	assert.Equal(t, "modified", q.Filter.Window.Field, "window uses the source column name")
	assert.Equal(t, now.Add(-48*time.Hour), q.Filter.Window.Since)

	// Output is sorted by path
	require.Len(t, keys, 2)
	assert.Equal(t, "course_id=a", keys[0].Path())
	assert.Equal(t, "course_id=b", keys[1].Path())
}

func TestPlanForceIgnoresWindow(t *testing.T) {
	p := New(nil)
	src := &fakeSource{rows: []source.Row{{"course_id": "a"}}}

	_, err := p.Plan(context.Background(), src, partitionedTable(), true)
	require.NoError(t, err)

	require.Len(t, src.queries, 1)
	assert.Nil(t, src.queries[0].Filter.Window)
}

func TestPlanNonIncrementalHasNoWindow(t *testing.T) {
	p := New(nil)
	table := partitionedTable()
	table.Partitions.TimestampField = ""
	table.Partitions.Interval = 0
	src := &fakeSource{rows: []source.Row{{"course_id": "a"}}}

	_, err := p.Plan(context.Background(), src, table, false)
	require.NoError(t, err)
	assert.Nil(t, src.queries[0].Filter.Window)
}

func TestPlanEmptyIsValid(t *testing.T) {
	p := New(nil)
	src := &fakeSource{}

	keys, err := p.Plan(context.Background(), src, partitionedTable(), false)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPlanRendersPartitionValues(t *testing.T) {
	p := New(nil)
	table := &schema.Table{
		Name: "events",
		Fields: []schema.Field{
			{Name: "day", Type: schema.TypeDatetime},
			{Name: "payload"},
		},
		Partitions: &schema.Partitioning{Fields: []string{"day"}},
	}
	src := &fakeSource{rows: []source.Row{
		{"day": time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}}

	keys, err := p.Plan(context.Background(), src, table, false)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	v, ok := keys[0].FieldValue("day")
	require.True(t, ok)
	assert.Equal(t, "2026-01-02 00:00:00.000000", v)
}

func TestPlanDeterministic(t *testing.T) {
	p := New(nil)
	table := partitionedTable()
	src := &fakeSource{rows: []source.Row{
		{"course_id": "c"}, {"course_id": "a"}, {"course_id": "b"},
	}}

	first, err := p.Plan(context.Background(), src, table, true)
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), src, table, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPartitionFilter(t *testing.T) {
	key := schema.PartitionKey{
		Base:   []schema.KV{{Key: "org", Value: "acme"}},
		Fields: []schema.KV{{Key: "course_id", Value: "a"}},
	}

	f := PartitionFilter(key)
	assert.Equal(t, []schema.KV{{Key: "course_id", Value: "a"}}, f.Equals,
		"base partitions are fixed per installation and never queried")
}
