// Package postgres implements the relational source connector for
// PostgreSQL databases.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/config"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

func init() {
	source.Register("postgres", func(cfg *config.DatasourceConfig) (source.Source, error) {
		return NewSource(cfg)
	})
}

// Source reads rows from a PostgreSQL database
type Source struct {
	name string
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewSource creates a connection pool for the configured DSN. The pool
// is established lazily; connectivity surfaces on first use or Ping.
func NewSource(cfg *config.DatasourceConfig) (*Source, error) {
	if cfg.DSN == "" {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeConfig, "datasource %s: dsn is required for postgres", cfg.Name)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConfig, "invalid postgres dsn")
	}
	poolCfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to create postgres pool")
	}

	return &Source{
		name: cfg.Name,
		pool: pool,
		log:  logger.With(zap.String("source", cfg.Name), zap.String("type", "postgres")),
	}, nil
}

// Name returns the configured datasource name
func (s *Source) Name() string { return s.name }

// Type returns the connector type
func (s *Source) Type() string { return "postgres" }

// Query executes a filtered SELECT against the table
func (s *Source) Query(ctx context.Context, q source.Query) ([]source.Row, error) {
	stmt, args := buildSelect(q)
	s.log.Debug("querying postgres", zap.String("query", stmt))

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err, "postgres query failed")
	}
	defer rows.Close()

	var out []source.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to read row values")
		}

		row := make(source.Row, len(q.Fields))
		for i, f := range q.Fields {
			if i < len(values) {
				row[f.Name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "postgres result iteration failed")
	}

	return out, nil
}

// DiscoverFields reads the table's columns from information_schema
func (s *Source) DiscoverFields(ctx context.Context, table string) ([]schema.Field, error) {
	const q = `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = current_schema()
		ORDER BY ordinal_position`

	rows, err := s.pool.Query(ctx, q, table)
	if err != nil {
		return nil, classify(err, "failed to query information_schema")
	}
	defer rows.Close()

	var fields []schema.Field
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to scan column metadata")
		}
		fields = append(fields, schema.Field{Name: name, Type: semanticType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to read column metadata")
	}
	if len(fields) == 0 {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "table %s not found", table)
	}

	return fields, nil
}

// Tables lists the tables in the current schema
func (s *Source) Tables(ctx context.Context) ([]string, error) {
	const q = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, classify(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Ping verifies connectivity
func (s *Source) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "postgres ping failed")
	}
	return nil
}

// Close releases the connection pool
func (s *Source) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// buildSelect renders a parameterized SELECT for the query
func buildSelect(q source.Query) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}

	for i, f := range q.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", f.SourceName())
	}
	fmt.Fprintf(&sb, " FROM %q", q.Table)

	var clauses []string
	var args []interface{}
	for _, kv := range q.Filter.Equals {
		args = append(args, kv.Value)
		clauses = append(clauses, fmt.Sprintf("%q = $%d", kv.Key, len(args)))
	}
	if w := q.Filter.Window; w != nil {
		args = append(args, w.Since)
		clauses = append(clauses, fmt.Sprintf("%q >= $%d", w.Field, len(args)))
	}
	if q.Filter.Expr != "" {
		clauses = append(clauses, "("+q.Filter.Expr+")")
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	return sb.String(), args
}

// semanticType maps a PostgreSQL data type to the table model's field types
func semanticType(dataType string) schema.FieldType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "smallserial", "serial", "bigserial":
		return schema.TypeInteger
	case "real", "double precision", "numeric", "decimal":
		return schema.TypeFloat
	case "timestamp without time zone", "timestamp with time zone", "date", "time without time zone":
		return schema.TypeDatetime
	case "boolean":
		return schema.TypeBoolean
	default:
		return schema.TypeString
	}
}

// classify maps pgx errors onto the run's error taxonomy
func classify(err error, msg string) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeTimeout, msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42703", "42P01": // undefined_column, undefined_table
			return lkerrors.Wrap(err, lkerrors.ErrorTypeSchema, msg)
		case "57P01", "57P02", "57P03", "08000", "08003", "08006": // shutdown/connection failures
			return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, msg)
		}
	}
	return lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, msg)
}
