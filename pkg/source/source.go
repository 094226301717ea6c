// Package source defines the datasource contract shared by all
// connectors: a filtered query surface and schema discovery. Connectors
// register themselves at init time and are instantiated by type name
// from the settings file.
package source

import (
	"context"
	"time"

	"github.com/lakelift/lakelift/pkg/schema"
)

// Row is one extracted row, keyed by output field name
type Row map[string]interface{}

// TimeWindow scopes a query to rows whose timestamp field falls within
// [Since, now]. Used for incremental partition discovery.
type TimeWindow struct {
	Field string
	Since time.Time
}

// Filter narrows a query. All set parts apply conjunctively.
type Filter struct {
	// Equals restricts rows to exact field/value matches, used to scope
	// an extraction to a single partition
	Equals []schema.KV
	// Window restricts rows to a recent time window
	Window *TimeWindow
	// Expr is an optional source-specific filter expression from the
	// table definition
	Expr string
}

// Query describes one read against a datasource. Only queried fields
// appear here; constant-override fields are substituted by the caller
// and never reach a source.
type Query struct {
	// Table is the source table, collection or file stem
	Table string
	// Fields are the fields to read, in output order
	Fields []schema.Field
	// Filter narrows the row set
	Filter Filter
	// Distinct collapses the result to distinct value combinations
	Distinct bool
}

// Source is a datasource connector. Implementations are stateless
// beyond their connection parameters and safe for concurrent queries up
// to the run's configured partition worker bound.
type Source interface {
	// Name returns the configured datasource name
	Name() string

	// Type returns the connector type (mysql, postgres, mongodb, csv)
	Type() string

	// Query executes a filtered read and returns the rows with the
	// requested fields. Connectivity failures are reported as
	// connection errors (retryable); a declared field missing from the
	// source surfaces as a schema error.
	Query(ctx context.Context, q Query) ([]Row, error)

	// DiscoverFields inspects the source and returns its field list
	DiscoverFields(ctx context.Context, table string) ([]schema.Field, error)

	// Tables lists the tables available in the source
	Tables(ctx context.Context) ([]string, error)

	// Ping verifies connectivity
	Ping(ctx context.Context) error

	// Close releases the connection
	Close(ctx context.Context) error
}
