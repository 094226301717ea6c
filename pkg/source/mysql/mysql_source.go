// Package mysql implements the relational source connector for MySQL
// and MariaDB databases.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/config"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

func init() {
	source.Register("mysql", func(cfg *config.DatasourceConfig) (source.Source, error) {
		return NewSource(cfg)
	})
}

// Source reads rows from a MySQL database
type Source struct {
	name     string
	db       *sql.DB
	database string
	log      *zap.Logger
}

// NewSource opens a connection pool for the configured DSN
func NewSource(cfg *config.DatasourceConfig) (*Source, error) {
	if cfg.DSN == "" {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeConfig, "datasource %s: dsn is required for mysql", cfg.Name)
	}

	dsnCfg, err := gomysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConfig, "invalid mysql dsn")
	}
	// Datetime values must come back as time.Time, not raw bytes
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to open mysql connection")
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Source{
		name:     cfg.Name,
		db:       db,
		database: dsnCfg.DBName,
		log:      logger.With(zap.String("source", cfg.Name), zap.String("type", "mysql")),
	}, nil
}

// Name returns the configured datasource name
func (s *Source) Name() string { return s.name }

// Type returns the connector type
func (s *Source) Type() string { return "mysql" }

// Query executes a filtered SELECT against the table
func (s *Source) Query(ctx context.Context, q source.Query) ([]source.Row, error) {
	stmt, args := buildSelect(q)
	s.log.Debug("querying mysql", zap.String("query", stmt))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err, "mysql query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to read result columns")
	}

	var out []source.Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to scan row")
		}

		row := make(source.Row, len(q.Fields))
		for i, f := range q.Fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "mysql result iteration failed")
	}

	return out, nil
}

// DiscoverFields reads the table's columns from information_schema
func (s *Source) DiscoverFields(ctx context.Context, table string) ([]schema.Field, error) {
	const q = `SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_NAME = ? AND TABLE_SCHEMA = ?
		ORDER BY ORDINAL_POSITION`

	rows, err := s.db.QueryContext(ctx, q, table, s.database)
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
		return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "table %s not found in database %s", table, s.database)
	}

	return fields, nil
}

// Tables lists the tables in the configured database
func (s *Source) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
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
	if err := s.db.PingContext(ctx); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "mysql ping failed")
	}
	return nil
}

// Close releases the connection pool
func (s *Source) Close(_ context.Context) error {
	return s.db.Close()
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
		fmt.Fprintf(&sb, "`%s`", f.SourceName())
	}
	fmt.Fprintf(&sb, " FROM `%s`", q.Table)

	var clauses []string
	var args []interface{}
	for _, kv := range q.Filter.Equals {
		clauses = append(clauses, fmt.Sprintf("`%s` = ?", kv.Key))
		args = append(args, kv.Value)
	}
	if w := q.Filter.Window; w != nil {
		clauses = append(clauses, fmt.Sprintf("`%s` >= ?", w.Field))
		args = append(args, w.Since)
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

// semanticType maps a MySQL data type to the table model's field types
func semanticType(dataType string) schema.FieldType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return schema.TypeInteger
	case "float", "double", "decimal", "numeric":
		return schema.TypeFloat
	case "datetime", "timestamp", "date", "time":
		return schema.TypeDatetime
	case "bit", "bool", "boolean":
		return schema.TypeBoolean
	default:
		return schema.TypeString
	}
}

// classify maps driver errors onto the run's error taxonomy so that
// connectivity failures are retried and query failures are not
func classify(err error, msg string) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeTimeout, msg)
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_BAD_FIELD_ERROR, ER_NO_SUCH_TABLE
		if myErr.Number == 1054 || myErr.Number == 1146 {
			return lkerrors.Wrap(err, lkerrors.ErrorTypeSchema, msg)
		}
	}
	return lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, msg)
}
