package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/catalog"
	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/layout"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/planner"
	"github.com/lakelift/lakelift/pkg/retry"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.Config{Level: "fatal", Encoding: "json"})
	os.Exit(m.Run())
}

// tableSource serves canned rows for named tables, with enough filter
// support for planning and partition-scoped extraction
type tableSource struct {
	mu     sync.Mutex
	tables map[string][]source.Row
	fields map[string][]schema.Field
	errs   map[string]error
}

func (f *tableSource) Name() string { return "fixture" }
func (f *tableSource) Type() string { return "fixture" }

func (f *tableSource) Query(_ context.Context, q source.Query) ([]source.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[q.Table]; err != nil {
		return nil, err
	}

	var out []source.Row
	seen := map[string]bool{}
	for _, row := range f.tables[q.Table] {
		if !rowMatches(row, q.Filter) {
			continue
		}
		projected := source.Row{}
		for _, fld := range q.Fields {
			projected[fld.Name] = row[fld.SourceName()]
		}
		if q.Distinct {
			var sb strings.Builder
			for _, fld := range q.Fields {
				v, _ := schema.FormatValue(fld.SemanticType(), projected[fld.Name])
				sb.WriteString(v)
				sb.WriteByte('\x1f')
			}
			if seen[sb.String()] {
				continue
			}
			seen[sb.String()] = true
		}
		out = append(out, projected)
	}
	return out, nil
}

func rowMatches(row source.Row, f source.Filter) bool {
	for _, kv := range f.Equals {
		v, _ := schema.FormatValue(schema.TypeString, row[kv.Key])
		if v != kv.Value {
			return false
		}
	}
	if f.Window != nil {
		ts, ok := row[f.Window.Field].(time.Time)
		if !ok || ts.Before(f.Window.Since) {
			return false
		}
	}
	return true
}

func (f *tableSource) DiscoverFields(_ context.Context, table string) ([]schema.Field, error) {
	if fields, ok := f.fields[table]; ok {
		return fields, nil
	}
	// Derive from the first row
	rows := f.tables[table]
	if len(rows) == 0 {
		return nil, nil
	}
	var fields []schema.Field
	for name := range rows[0] {
		fields = append(fields, schema.Field{Name: name})
	}
	return fields, nil
}

func (f *tableSource) Tables(context.Context) ([]string, error) { return nil, nil }
func (f *tableSource) Ping(context.Context) error               { return nil }
func (f *tableSource) Close(context.Context) error              { return nil }

// memStore keeps written objects in memory
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) BaseURI() string            { return "mem://lake" }
func (m *memStore) Ping(context.Context) error { return nil }

// recordingCatalog captures catalog calls and can fail registration
type recordingCatalog struct {
	mu          sync.Mutex
	tables      []catalog.TableDef
	registered  map[string][]catalog.Partition
	registerErr error
}

func newRecordingCatalog() *recordingCatalog {
	return &recordingCatalog{registered: map[string][]catalog.Partition{}}
}

func (c *recordingCatalog) EnsureTable(_ context.Context, def catalog.TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = append(c.tables, def)
	return nil
}

func (c *recordingCatalog) RegisterPartitions(_ context.Context, table string, parts []catalog.Partition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registerErr != nil {
		return c.registerErr
	}
	c.registered[table] = append(c.registered[table], parts...)
	return nil
}

func (c *recordingCatalog) EnsureView(context.Context, catalog.ViewDef) error { return nil }
func (c *recordingCatalog) DropTable(context.Context, string) error           { return nil }
func (c *recordingCatalog) DropView(context.Context, string) error            { return nil }
func (c *recordingCatalog) Query(context.Context, string) ([][]string, error) { return nil, nil }
func (c *recordingCatalog) Ping(context.Context) error                        { return nil }

func ordersTable() schema.Table {
	return schema.Table{
		Name: "orders",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "region"},
			{Name: "amount", Type: schema.TypeFloat},
		},
		Partitions: &schema.Partitioning{Fields: []string{"region"}},
	}
}

func ordersRows() []source.Row {
	return []source.Row{
		{"id": int64(1), "region": "west", "amount": 9.5},
		{"id": int64(2), "region": "east", "amount": 3.0},
		{"id": int64(3), "region": "west", "amount": 1.25},
	}
}

func testConfig(tables ...schema.Table) *config.Config {
	cfg := config.Default()
	cfg.Datalake.Provider = "none"
	cfg.Datalake.Bucket = "lake"
	cfg.Datalake.BasePrefix = "lake"
	cfg.Run.TableWorkers = 2
	cfg.Run.PartitionWorkers = 2
	cfg.Datasources = []config.DatasourceConfig{
		{Name: "shop", Type: "fixture", Tables: tables},
	}
	return cfg
}

func testPipeline(cfg *config.Config, store *memStore, cat catalog.Catalog) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		catalog: cat,
		planner: planner.New(cfg.Datalake.BasePartitions),
		writer:  layout.NewWriter(store, cfg.Datalake.BasePrefix),
		retry:   retry.NoRetryPolicy(),
		log:     zap.NewNop(),
	}
}

func TestRunTableEndToEnd(t *testing.T) {
	cfg := testConfig(ordersTable())
	src := &tableSource{tables: map[string][]source.Row{"orders": ordersRows()}}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)

	table := ordersTable()
	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	assert.Empty(t, report.Error)
	assert.False(t, report.Failed())
	assert.Equal(t, 2, report.PartitionsPlanned)
	assert.Equal(t, 2, report.PartitionsWritten)
	assert.Equal(t, 2, report.PartitionsRegistered)
	assert.Equal(t, 0, report.RegistrationFailures)
	assert.Equal(t, 3, report.Rows)

	// Files land under the Hive layout with partition columns stripped
	west, ok := store.objects["lake/orders/region=west/orders.csv"]
	require.True(t, ok)
	assert.Equal(t, "id,amount\n1,9.5\n3,1.25\n", string(west))

	east, ok := store.objects["lake/orders/region=east/orders.csv"]
	require.True(t, ok)
	assert.Equal(t, "id,amount\n2,3\n", string(east))

	// The table was declared before registration, at its storage prefix
	require.Len(t, cat.tables, 1)
	assert.Equal(t, "lake_raw_orders", cat.tables[0].Name)
	assert.Equal(t, "mem://lake/lake/orders/", cat.tables[0].Location)

	parts := cat.registered["lake_raw_orders"]
	require.Len(t, parts, 2)
	locations := []string{parts[0].Location, parts[1].Location}
	assert.Contains(t, locations, "mem://lake/lake/orders/region=west/")
	assert.Contains(t, locations, "mem://lake/lake/orders/region=east/")
}

func TestRunTableRegistrationFailure(t *testing.T) {
	cfg := testConfig(ordersTable())
	src := &tableSource{tables: map[string][]source.Row{"orders": ordersRows()}}
	store := newMemStore()
	cat := newRecordingCatalog()
	cat.registerErr = errors.New(errors.ErrorTypeRegistration, "athena unavailable")
	p := testPipeline(cfg, store, cat)

	table := ordersTable()
	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	// Files are in place, the catalog is behind: written-not-registered
	assert.Equal(t, 2, report.PartitionsWritten)
	assert.Equal(t, 0, report.PartitionsRegistered)
	assert.Equal(t, 2, report.RegistrationFailures)
	assert.True(t, report.Failed())
	assert.Len(t, store.objects, 2)
}

func TestRunTableSchemaMismatch(t *testing.T) {
	cfg := testConfig(ordersTable())
	src := &tableSource{
		tables: map[string][]source.Row{"orders": ordersRows()},
		fields: map[string][]schema.Field{
			"orders": {{Name: "id"}, {Name: "region"}}, // amount is gone
		},
	}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)

	table := ordersTable()
	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	assert.True(t, report.Failed())
	assert.Contains(t, report.Error, "amount")
	assert.Empty(t, store.objects, "nothing is written for a mismatched table")
	assert.Empty(t, cat.tables)
}

func TestRunTableEmptyPlanIsNoOp(t *testing.T) {
	cfg := testConfig(ordersTable())
	src := &tableSource{
		tables: map[string][]source.Row{"orders": nil},
		fields: map[string][]schema.Field{
			"orders": {{Name: "id"}, {Name: "region"}, {Name: "amount"}},
		},
	}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)

	table := ordersTable()
	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	assert.False(t, report.Failed())
	assert.Equal(t, 0, report.PartitionsPlanned)
	assert.Empty(t, store.objects)
	assert.Empty(t, cat.tables, "an empty plan touches neither storage nor catalog")
}

func TestRunTableRerunIsIdempotent(t *testing.T) {
	cfg := testConfig(ordersTable())
	src := &tableSource{tables: map[string][]source.Row{"orders": ordersRows()}}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)

	table := ordersTable()
	first := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)
	firstWest := append([]byte(nil), store.objects["lake/orders/region=west/orders.csv"]...)

	second := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	assert.False(t, first.Failed())
	assert.False(t, second.Failed())
	assert.Equal(t, firstWest, store.objects["lake/orders/region=west/orders.csv"],
		"rewriting the same partition reproduces the same bytes")
	assert.Len(t, store.objects, 2)
}

func TestRunTableIncrementalRewritesOnlyTouchedPartitions(t *testing.T) {
	table := schema.Table{
		Name: "orders",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "region"},
			{Name: "amount", Type: schema.TypeFloat},
			{Name: "updated_at", Type: schema.TypeDatetime},
		},
		Partitions: &schema.Partitioning{
			Fields:         []string{"region"},
			TimestampField: "updated_at",
			Interval:       48 * time.Hour,
		},
	}

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)
	stale := now.Add(-200 * time.Hour)

	cfg := testConfig(table)
	src := &tableSource{tables: map[string][]source.Row{"orders": {
		{"id": int64(1), "region": "EU", "amount": 9.5, "updated_at": fresh},
		{"id": int64(2), "region": "EU", "amount": 1.25, "updated_at": stale},
		{"id": int64(3), "region": "US", "amount": 3.0, "updated_at": stale},
	}}}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)
	p.planner = planner.New(cfg.Datalake.BasePartitions,
		planner.WithClock(func() time.Time { return now }))

	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &table, false)

	assert.False(t, report.Failed())
	assert.Equal(t, 1, report.PartitionsPlanned, "the window discovers only the touched partition")
	assert.Equal(t, 1, report.PartitionsWritten)

	// The partition rewrite carries no window: every row of the touched
	// partition is extracted, stale ones included
	eu, ok := store.objects["lake/orders/region=EU/orders.csv"]
	require.True(t, ok)
	assert.Equal(t,
		"id,amount,updated_at\n"+
			"1,9.5,2026-08-30 11:00:00.000000\n"+
			"2,1.25,2026-08-22 04:00:00.000000\n",
		string(eu))

	_, ok = store.objects["lake/orders/region=US/orders.csv"]
	assert.False(t, ok, "untouched partitions are left alone")

	parts := cat.registered["lake_raw_orders"]
	require.Len(t, parts, 1)
	assert.Equal(t, "mem://lake/lake/orders/region=EU/", parts[0].Location)
}

func TestRunTableUnpartitioned(t *testing.T) {
	users := schema.Table{
		Name: "users",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "email"},
		},
	}
	cfg := testConfig(users)
	src := &tableSource{tables: map[string][]source.Row{
		"users": {{"id": int64(1), "email": "a@example.com"}},
	}}
	store := newMemStore()
	cat := newRecordingCatalog()
	p := testPipeline(cfg, store, cat)

	report := p.runTable(context.Background(), &cfg.Datasources[0], src, &users, false)

	assert.False(t, report.Failed())
	assert.Equal(t, 1, report.PartitionsPlanned)
	assert.Equal(t, "id,email\n1,a@example.com\n", string(store.objects["lake/users/users.csv"]))
}

func TestRunSelection(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		ds   string
		tbl  string
		want bool
	}{
		{"empty selects all", Selection{}, "shop", "orders", true},
		{"datasource match", Selection{Datasource: "shop"}, "shop", "orders", true},
		{"datasource mismatch", Selection{Datasource: "crm"}, "shop", "orders", false},
		{"table match", Selection{Tables: []string{"orders"}}, "shop", "orders", true},
		{"table mismatch", Selection{Tables: []string{"users"}}, "shop", "orders", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.wants(tt.ds, tt.tbl))
		})
	}
}

func TestRunReportJSON(t *testing.T) {
	report := &RunReport{
		StartedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Tables: []TableReport{
			{Datasource: "shop", Table: "orders", PartitionsWritten: 2, PartitionsRegistered: 2},
			{Datasource: "shop", Table: "users", Error: "schema: field missing"},
			{Datasource: "shop", Table: "events", PartitionsWritten: 1, RegistrationFailures: 1},
		},
	}

	assert.Equal(t, 2, report.FailedTables())

	out, err := report.JSON()
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte(`"orders"`)))
	assert.True(t, bytes.Contains(out, []byte(`"schema: field missing"`)))
}
