// Package catalog defines the metadata-service contract that makes
// written partition files queryable, and the SQL text builders shared
// by its implementations.
package catalog

import (
	"context"

	"github.com/lakelift/lakelift/pkg/schema"
)

// Column is one (name, semantic type) pair of a catalog table
type Column struct {
	Name string
	Type schema.FieldType
}

// TableDef describes the destination table of one extracted table.
// Columns exclude partition fields; partition columns are declared
// separately and resolved from the storage path by the query engine.
type TableDef struct {
	// Name is the catalog table name
	Name string
	// Columns are the content columns in declaration order
	Columns []Column
	// PartitionKeys are the partition columns, base partitions first
	PartitionKeys []Column
	// Location is the table's storage prefix (no partition subdirs)
	Location string
}

// ViewDef describes the type-cast projection over a raw table
type ViewDef struct {
	// Name is the view name
	Name string
	// RawTable is the raw table the view selects from
	RawTable string
	// Columns are the raw content columns with their semantic types
	Columns []Column
	// PartitionKeys are selected unchanged
	PartitionKeys []Column
}

// Partition is one concrete partition registration
type Partition struct {
	// Values are the partition values in key declaration order
	Values []schema.KV
	// Location is the partition's storage prefix
	Location string
}

// Catalog keeps table and partition metadata consistent with what was
// written to storage.
type Catalog interface {
	// EnsureTable creates the table if absent. An existing table is
	// never mutated; schema evolution is out of scope.
	EnsureTable(ctx context.Context, def TableDef) error

	// RegisterPartitions informs the catalog of written partitions,
	// batched per table. Idempotent: re-registering an existing
	// partition at the same location is a no-op. Tolerates an empty
	// batch.
	RegisterPartitions(ctx context.Context, table string, parts []Partition) error

	// EnsureView creates or replaces the type-cast view. Always
	// drop-and-recreate; the view text fully determines behavior and
	// must match the current field set.
	EnsureView(ctx context.Context, def ViewDef) error

	// DropTable removes a table definition
	DropTable(ctx context.Context, table string) error

	// DropView removes a view
	DropView(ctx context.Context, view string) error

	// Query runs a SQL query and returns rows of rendered values
	Query(ctx context.Context, sql string) ([][]string, error)

	// Ping verifies the catalog is reachable
	Ping(ctx context.Context) error
}

// Nop is a catalog that records nothing. Used when no catalog is
// configured; extraction still writes files.
type Nop struct{}

func (Nop) EnsureTable(context.Context, TableDef) error                   { return nil }
func (Nop) RegisterPartitions(context.Context, string, []Partition) error { return nil }
func (Nop) EnsureView(context.Context, ViewDef) error                     { return nil }
func (Nop) DropTable(context.Context, string) error                       { return nil }
func (Nop) DropView(context.Context, string) error                        { return nil }
func (Nop) Query(context.Context, string) ([][]string, error)             { return nil, nil }
func (Nop) Ping(context.Context) error                                    { return nil }
