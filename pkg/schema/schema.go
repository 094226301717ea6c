// Package schema defines the table definition model: fields, partition
// schemes and the concrete partition keys computed for a run.
//
// Table definitions are loaded once per run from the settings file and
// validated eagerly. They are immutable for the run's duration.
package schema

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lakelift/lakelift/pkg/errors"
)

// FieldType is the semantic type of a field
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeDatetime FieldType = "datetime"
	TypeBoolean  FieldType = "boolean"
)

// FieldKind distinguishes fields read from the source from fields
// emitted with a fixed literal value.
type FieldKind int

const (
	// KindQueried fields are read from the source column or document path.
	KindQueried FieldKind = iota
	// KindConstant fields never appear in a source query; every output
	// row carries the declared literal. Used to backfill fields absent
	// from a given source so downstream consumers see a stable schema.
	KindConstant
)

// Field describes a single output column of a table.
type Field struct {
	// Name is the output column name
	Name string `yaml:"name" json:"name"`
	// Source is the source column or dotted document path. Defaults to Name.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Type is the semantic type. Defaults to string.
	Type FieldType `yaml:"type,omitempty" json:"type,omitempty"`
	// Value, when set, makes this a constant field
	Value *string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Kind returns the field kind
func (f Field) Kind() FieldKind {
	if f.Value != nil {
		return KindConstant
	}
	return KindQueried
}

// SourceName returns the column or path queried for this field
func (f Field) SourceName() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// SemanticType returns the declared type, defaulting to string
func (f Field) SemanticType() FieldType {
	if f.Type == "" {
		return TypeString
	}
	return f.Type
}

// Partitioning describes how a table is split into partition files and,
// optionally, the incremental policy used to narrow a run.
type Partitioning struct {
	// Fields is the ordered list of partition field names
	Fields []string `yaml:"partition_fields" json:"partition_fields"`
	// TimestampField, when set together with Interval, enables
	// incremental runs: only partitions with rows whose timestamp falls
	// inside the lookback window are rewritten.
	TimestampField string `yaml:"timestamp_field,omitempty" json:"timestamp_field,omitempty"`
	// Interval is the incremental lookback window. It must be chosen at
	// least as large as the source's update cadence; late-arriving
	// changes outside the window are missed.
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// Incremental reports whether an incremental policy is configured
func (p *Partitioning) Incremental() bool {
	return p != nil && p.TimestampField != "" && p.Interval > 0
}

// Table is the static description of one extracted table.
type Table struct {
	// Name is the source table (or collection, or file stem) name
	Name string `yaml:"name" json:"name"`
	// Fields is the ordered list of output fields
	Fields []Field `yaml:"fields" json:"fields"`
	// Partitions is the optional partition scheme
	Partitions *Partitioning `yaml:"partitions,omitempty" json:"partitions,omitempty"`
	// DatalakeTable overrides the destination raw table name
	DatalakeTable string `yaml:"datalake_table_name,omitempty" json:"datalake_table_name,omitempty"`
	// DatalakeView overrides the destination view name
	DatalakeView string `yaml:"datalake_table_view,omitempty" json:"datalake_table_view,omitempty"`
	// Filter is an optional static filter expression applied to every
	// extraction query (source-specific syntax)
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// KV is one partition key/value pair
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BasePartitions is the ordered set of fixed key/value pairs applied to
// every table of an installation, prepended to every storage path ahead
// of field-based partitions.
type BasePartitions []KV

// Keys returns the base partition keys in declaration order
func (b BasePartitions) Keys() []string {
	keys := make([]string, len(b))
	for i, kv := range b {
		keys[i] = kv.Key
	}
	return keys
}

// PartitionKey is a concrete assignment of values to base partition keys
// and partition field names. It is computed fresh per run and never
// persisted; the storage path it produces is the only durable trace.
type PartitionKey struct {
	Base   []KV
	Fields []KV
}

// Pairs returns all pairs, base partitions first, in declaration order
func (k PartitionKey) Pairs() []KV {
	pairs := make([]KV, 0, len(k.Base)+len(k.Fields))
	pairs = append(pairs, k.Base...)
	pairs = append(pairs, k.Fields...)
	return pairs
}

// PathSegments renders each pair in Hive style (key=value), values
// percent-escaped, keys in fixed declaration order.
func (k PartitionKey) PathSegments() []string {
	pairs := k.Pairs()
	segments := make([]string, len(pairs))
	for i, kv := range pairs {
		segments[i] = kv.Key + "=" + pathEscape(kv.Value)
	}
	return segments
}

// pathEscape percent-encodes a partition value for use in a storage
// key. Spaces encode as %20, not +, keeping keys byte-compatible with
// partitions already present in the lake.
func pathEscape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// Path renders the partition key as a storage path fragment
func (k PartitionKey) Path() string {
	return strings.Join(k.PathSegments(), "/")
}

func (k PartitionKey) String() string {
	return k.Path()
}

// FieldValue returns the value assigned to a partition field
func (k PartitionKey) FieldValue(name string) (string, bool) {
	for _, kv := range k.Fields {
		if kv.Key == name {
			return kv.Value, true
		}
	}
	return "", false
}

// SortKeys orders partition keys lexicographically by rendered path.
// Ordering is irrelevant to correctness; it keeps logs and tests stable.
func SortKeys(keys []PartitionKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Path() < keys[j].Path()
	})
}

// FieldNames returns the output column names in declaration order
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName looks up a field by output name
func (t *Table) FieldByName(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PartitionFields returns the partition field names, or nil when the
// table has no partition scheme
func (t *Table) PartitionFields() []string {
	if t.Partitions == nil {
		return nil
	}
	return t.Partitions.Fields
}

// IsPartitionField reports whether name is a declared partition field
func (t *Table) IsPartitionField(name string) bool {
	for _, p := range t.PartitionFields() {
		if p == name {
			return true
		}
	}
	return false
}

// ContentFields returns the fields serialized into partition file
// content: every declared field except partition fields, in declaration
// order. Partition field values are recoverable from the storage path
// and are not duplicated in content.
func (t *Table) ContentFields() []Field {
	fields := make([]Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if !t.IsPartitionField(f.Name) {
			fields = append(fields, f)
		}
	}
	return fields
}

// QueriedFields returns the fields that must be read from the source.
// Constant fields never appear in any query.
func (t *Table) QueriedFields() []Field {
	fields := make([]Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Kind() == KindQueried {
			fields = append(fields, f)
		}
	}
	return fields
}

// RawTableName returns the destination catalog table name
func (t *Table) RawTableName(basePrefix string) string {
	if t.DatalakeTable != "" {
		return t.DatalakeTable
	}
	return fmt.Sprintf("%s_raw_%s", basePrefix, t.Name)
}

// ViewName returns the destination catalog view name
func (t *Table) ViewName(basePrefix string) string {
	if t.DatalakeView != "" {
		return t.DatalakeView
	}
	return fmt.Sprintf("%s_table_%s", basePrefix, t.Name)
}

var validTypes = map[FieldType]bool{
	TypeString:   true,
	TypeInteger:  true,
	TypeFloat:    true,
	TypeDatetime: true,
	TypeBoolean:  true,
}

// Validate checks the table definition against the base partitions it
// will be combined with. It fails with a config error if partition or
// timestamp fields are not declared field names, if a constant field is
// marked as a partition field, or if base partition keys collide with
// partition field names.
func (t *Table) Validate(base BasePartitions) error {
	if t.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "table name is required")
	}
	if len(t.Fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "table %s declares no fields", t.Name)
	}

	seen := make(map[string]Field, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "table %s has a field without a name", t.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "table %s declares field %s twice", t.Name, f.Name)
		}
		if f.Type != "" && !validTypes[f.Type] {
			return errors.Newf(errors.ErrorTypeConfig, "table %s field %s has unknown type %q", t.Name, f.Name, f.Type)
		}
		seen[f.Name] = f
	}

	baseKeys := make(map[string]bool, len(base))
	for _, kv := range base {
		if kv.Key == "" {
			return errors.New(errors.ErrorTypeConfig, "base partition with empty key")
		}
		if baseKeys[kv.Key] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate base partition key %s", kv.Key)
		}
		baseKeys[kv.Key] = true
	}

	if t.Partitions == nil {
		return nil
	}

	if len(t.Partitions.Fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "table %s declares a partition scheme without partition fields", t.Name)
	}

	for _, name := range t.Partitions.Fields {
		f, ok := seen[name]
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "table %s partition field %s is not a declared field", t.Name, name)
		}
		// Partitioning must be on real data
		if f.Kind() == KindConstant {
			return errors.Newf(errors.ErrorTypeConfig, "table %s partition field %s has a constant value override", t.Name, name)
		}
		if baseKeys[name] {
			return errors.Newf(errors.ErrorTypeConfig, "table %s partition field %s collides with a base partition key", t.Name, name)
		}
	}

	if t.Partitions.TimestampField != "" {
		f, ok := seen[t.Partitions.TimestampField]
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "table %s timestamp field %s is not a declared field", t.Name, t.Partitions.TimestampField)
		}
		if f.SemanticType() != TypeDatetime {
			return errors.Newf(errors.ErrorTypeConfig, "table %s timestamp field %s must be of type datetime", t.Name, t.Partitions.TimestampField)
		}
		if t.Partitions.Interval <= 0 {
			return errors.Newf(errors.ErrorTypeConfig, "table %s sets timestamp_field without a positive interval", t.Name)
		}
	} else if t.Partitions.Interval > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "table %s sets interval without a timestamp_field", t.Name)
	}

	return nil
}
