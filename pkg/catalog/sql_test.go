package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakelift/lakelift/pkg/schema"
)

func strptr(s string) *string { return &s }

func enrollmentsTable() *schema.Table {
	return &schema.Table{
		Name: "enrollments",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "course_id"},
			{Name: "score", Type: schema.TypeFloat},
			{Name: "active", Type: schema.TypeBoolean},
			{Name: "updated_at", Type: schema.TypeDatetime},
			{Name: "tenant", Value: strptr("acme")},
		},
		Partitions: &schema.Partitioning{Fields: []string{"course_id"}},
	}
}

func TestBuildCreateTable(t *testing.T) {
	base := schema.BasePartitions{{Key: "org", Value: "acme"}}
	def := TableDefFor(enrollmentsTable(), base, "lake", "s3://bucket/lake/enrollments/")

	sql := BuildCreateTable(def)

	assert.Contains(t, sql, "CREATE EXTERNAL TABLE IF NOT EXISTS `lake_raw_enrollments`")
	// Raw columns are all strings regardless of semantic type; the serde
	// only yields strings
	assert.Contains(t, sql, "`id` string, `score` string, `active` string, `updated_at` string, `tenant` string")
	assert.Contains(t, sql, "PARTITIONED BY (`org` string, `course_id` string)")
	assert.NotContains(t, sql, "`course_id` string,", "partition columns may not repeat in the column list")
	assert.Contains(t, sql, "org.apache.hadoop.hive.serde2.OpenCSVSerde")
	assert.Contains(t, sql, `'escapeChar'='\\'`)
	assert.Contains(t, sql, `'quoteChar'='"'`)
	assert.Contains(t, sql, `'separatorChar'=','`)
	assert.Contains(t, sql, "LOCATION 's3://bucket/lake/enrollments/'")
	assert.Contains(t, sql, "'skip.header.line.count'='1'")
}

func TestBuildAddPartitions(t *testing.T) {
	parts := []Partition{
		{
			Values:   []schema.KV{{Key: "org", Value: "acme"}, {Key: "course_id", Value: "a"}},
			Location: "s3://bucket/lake/enrollments/org=acme/course_id=a/",
		},
		{
			Values:   []schema.KV{{Key: "org", Value: "acme"}, {Key: "course_id", Value: "it's"}},
			Location: "s3://bucket/lake/enrollments/org=acme/course_id=it%27s/",
		},
	}

	sql := BuildAddPartitions("lake_raw_enrollments", parts)

	assert.Contains(t, sql, "ALTER TABLE `lake_raw_enrollments` ADD IF NOT EXISTS")
	assert.Contains(t, sql, "PARTITION (`org` = 'acme', `course_id` = 'a') LOCATION 's3://bucket/lake/enrollments/org=acme/course_id=a/'")
	assert.Contains(t, sql, "`course_id` = 'it''s'", "single quotes in values are escaped")
}

func TestBuildCreateView(t *testing.T) {
	base := schema.BasePartitions{{Key: "org", Value: "acme"}}
	def := ViewDefFor(enrollmentsTable(), base, "lake")

	sql := BuildCreateView(def)

	assert.Contains(t, sql, `CREATE OR REPLACE VIEW "lake_table_enrollments" AS`)
	assert.Contains(t, sql, `FROM "lake_raw_enrollments"`)
	assert.Contains(t, sql, `CAST(NULLIF("id", '\N') AS BIGINT) AS "id"`)
	assert.Contains(t, sql, `CAST(NULLIF("score", '\N') AS DOUBLE) AS "score"`)
	assert.Contains(t, sql, `CAST(NULLIF("active", '\N') AS BOOLEAN) AS "active"`)
	assert.Contains(t, sql, `CAST(NULLIF("updated_at", '\N') AS TIMESTAMP) AS "updated_at"`)
	// String columns get the null marker normalized without a cast
	assert.Contains(t, sql, `CASE WHEN "tenant" = '\N' THEN NULL ELSE "tenant" END AS "tenant"`)
	// Partition columns pass through untouched
	assert.Contains(t, sql, `"org"`)
	assert.Contains(t, sql, `"course_id"`)
	assert.NotContains(t, sql, `NULLIF("course_id"`)
}

func TestBuildDrops(t *testing.T) {
	assert.Equal(t, "DROP TABLE IF EXISTS `lake_raw_enrollments`", BuildDropTable("lake_raw_enrollments"))
	assert.Equal(t, `DROP VIEW IF EXISTS "lake_table_enrollments"`, BuildDropView("lake_table_enrollments"))
}

func TestTableDefFor(t *testing.T) {
	base := schema.BasePartitions{{Key: "org", Value: "acme"}}
	def := TableDefFor(enrollmentsTable(), base, "lake", "s3://bucket/lake/enrollments/")

	assert.Equal(t, "lake_raw_enrollments", def.Name)
	assert.Equal(t, "s3://bucket/lake/enrollments/", def.Location)

	// Content columns only; the partition field is carried as a key
	names := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "score", "active", "updated_at", "tenant"}, names)

	require.Len(t, def.PartitionKeys, 2)
	assert.Equal(t, "org", def.PartitionKeys[0].Name)
	assert.Equal(t, "course_id", def.PartitionKeys[1].Name)
}

func TestNopCatalog(t *testing.T) {
	var c Nop
	assert.NoError(t, c.EnsureTable(nil, TableDef{}))
	assert.NoError(t, c.RegisterPartitions(nil, "t", nil))
	assert.NoError(t, c.EnsureView(nil, ViewDef{}))
	assert.NoError(t, c.DropTable(nil, "t"))
	assert.NoError(t, c.DropView(nil, "v"))
	assert.NoError(t, c.Ping(nil))
}
