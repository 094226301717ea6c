package catalog

import (
	"fmt"
	"strings"

	"github.com/lakelift/lakelift/pkg/schema"
)

// Raw tables are CSV-backed through OpenCSVSerde, which only yields
// strings; every raw column is declared string and the view applies the
// semantic casts. Partition columns are likewise strings resolved from
// the Hive-style path.

// BuildCreateTable renders the CREATE EXTERNAL TABLE statement for a
// raw CSV-backed table. IF NOT EXISTS keeps the call non-mutating when
// the table already exists.
func BuildCreateTable(def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = fmt.Sprintf("`%s` string", c.Name)
	}

	partitionSection := ""
	if len(def.PartitionKeys) > 0 {
		parts := make([]string, len(def.PartitionKeys))
		for i, c := range def.PartitionKeys {
			parts[i] = fmt.Sprintf("`%s` string", c.Name)
		}
		partitionSection = fmt.Sprintf("\nPARTITIONED BY (%s)", strings.Join(parts, ", "))
	}

	return fmt.Sprintf(`CREATE EXTERNAL TABLE IF NOT EXISTS `+"`%s`"+` (%s)%s
ROW FORMAT SERDE 'org.apache.hadoop.hive.serde2.OpenCSVSerde'
WITH SERDEPROPERTIES ('escapeChar'='\\', 'quoteChar'='"', 'separatorChar'=',')
STORED AS INPUTFORMAT 'org.apache.hadoop.mapred.TextInputFormat'
OUTPUTFORMAT 'org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat'
LOCATION '%s'
TBLPROPERTIES ('classification'='csv', 'skip.header.line.count'='1', 'compressionType'='none', 'typeOfData'='file')`,
		def.Name, strings.Join(cols, ", "), partitionSection, def.Location)
}

// BuildAddPartitions renders a single batched ALTER TABLE ADD statement
// registering every partition of a run. IF NOT EXISTS makes
// re-registration a no-op.
func BuildAddPartitions(table string, parts []Partition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ALTER TABLE `%s` ADD IF NOT EXISTS", table)

	for _, p := range parts {
		specs := make([]string, len(p.Values))
		for i, kv := range p.Values {
			specs[i] = fmt.Sprintf("`%s` = '%s'", kv.Key, escapeLiteral(kv.Value))
		}
		fmt.Fprintf(&sb, "\nPARTITION (%s) LOCATION '%s'", strings.Join(specs, ", "), p.Location)
	}

	return sb.String()
}

// BuildCreateView renders the CREATE OR REPLACE VIEW statement applying
// semantic casts over a raw table. The null marker written by the
// layout writer is normalized to a real NULL; numeric and date columns
// are cast to their engine types; partition columns pass through.
func BuildCreateView(def ViewDef) string {
	selects := make([]string, 0, len(def.Columns)+len(def.PartitionKeys))
	for _, c := range def.Columns {
		selects = append(selects, viewColumn(c))
	}
	for _, c := range def.PartitionKeys {
		selects = append(selects, fmt.Sprintf("\"%s\"", c.Name))
	}

	return fmt.Sprintf("CREATE OR REPLACE VIEW \"%s\" AS\nSELECT\n  %s\nFROM \"%s\"",
		def.Name, strings.Join(selects, ",\n  "), def.RawTable)
}

// viewColumn renders one projected column with its cast
func viewColumn(c Column) string {
	name := fmt.Sprintf("\"%s\"", c.Name)

	engineType := ""
	switch c.Type {
	case schema.TypeInteger:
		engineType = "BIGINT"
	case schema.TypeFloat:
		engineType = "DOUBLE"
	case schema.TypeDatetime:
		engineType = "TIMESTAMP"
	case schema.TypeBoolean:
		engineType = "BOOLEAN"
	}

	if engineType == "" {
		return fmt.Sprintf("CASE WHEN %s = '%s' THEN NULL ELSE %s END AS %s",
			name, schema.NullMarker, name, name)
	}
	return fmt.Sprintf("CAST(NULLIF(%s, '%s') AS %s) AS %s",
		name, schema.NullMarker, engineType, name)
}

// BuildDropTable renders the DROP TABLE statement
func BuildDropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)
}

// BuildDropView renders the DROP VIEW statement
func BuildDropView(view string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS \"%s\"", view)
}

// escapeLiteral escapes single quotes in a SQL string literal
func escapeLiteral(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// TableDefFor builds the TableDef of one extracted table
func TableDefFor(table *schema.Table, base schema.BasePartitions, basePrefix, location string) TableDef {
	def := TableDef{
		Name:     table.RawTableName(basePrefix),
		Location: location,
	}
	for _, f := range table.ContentFields() {
		def.Columns = append(def.Columns, Column{Name: f.Name, Type: f.SemanticType()})
	}
	for _, kv := range base {
		def.PartitionKeys = append(def.PartitionKeys, Column{Name: kv.Key, Type: schema.TypeString})
	}
	for _, name := range table.PartitionFields() {
		f, _ := table.FieldByName(name)
		def.PartitionKeys = append(def.PartitionKeys, Column{Name: name, Type: f.SemanticType()})
	}
	return def
}

// ViewDefFor builds the ViewDef of one extracted table
func ViewDefFor(table *schema.Table, base schema.BasePartitions, basePrefix string) ViewDef {
	def := ViewDef{
		Name:     table.ViewName(basePrefix),
		RawTable: table.RawTableName(basePrefix),
	}
	for _, f := range table.ContentFields() {
		def.Columns = append(def.Columns, Column{Name: f.Name, Type: f.SemanticType()})
	}
	for _, kv := range base {
		def.PartitionKeys = append(def.PartitionKeys, Column{Name: kv.Key, Type: schema.TypeString})
	}
	for _, name := range table.PartitionFields() {
		def.PartitionKeys = append(def.PartitionKeys, Column{Name: name, Type: schema.TypeString})
	}
	return def
}
