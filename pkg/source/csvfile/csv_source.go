// Package csvfile implements the flat-file source connector. One CSV
// file backs exactly one table, named after the file stem; the header
// row is the field list and every value is a string.
package csvfile

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/config"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

func init() {
	source.Register("csv", func(cfg *config.DatasourceConfig) (source.Source, error) {
		return NewSource(cfg)
	})
}

// Source reads rows from a local CSV file
type Source struct {
	name     string
	location string
	log      *zap.Logger
}

// NewSource creates a CSV source for the configured file location
func NewSource(cfg *config.DatasourceConfig) (*Source, error) {
	if cfg.Location == "" {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeConfig, "datasource %s: location is required for csv", cfg.Name)
	}
	return &Source{
		name:     cfg.Name,
		location: cfg.Location,
		log:      logger.With(zap.String("source", cfg.Name), zap.String("type", "csv")),
	}, nil
}

// Name returns the configured datasource name
func (s *Source) Name() string { return s.name }

// Type returns the connector type
func (s *Source) Type() string { return "csv" }

// tableName returns the single table this file represents
func (s *Source) tableName() string {
	base := filepath.Base(s.location)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Query scans the file and applies the filter in memory
func (s *Source) Query(ctx context.Context, q source.Query) ([]source.Row, error) {
	if q.Table != s.tableName() {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "csv datasource %s has no table %s", s.name, q.Table)
	}

	header, records, err := s.read()
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, f := range q.Fields {
		if _, ok := index[f.SourceName()]; !ok {
			return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "column %s not present in %s", f.SourceName(), s.location)
		}
	}

	var out []source.Row
	seen := make(map[string]bool)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matches(record, index, q.Filter) {
			continue
		}

		row := make(source.Row, len(q.Fields))
		for _, f := range q.Fields {
			row[f.Name] = record[index[f.SourceName()]]
		}

		if q.Distinct {
			key := distinctKey(row, q.Fields)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, row)
	}

	return out, nil
}

// DiscoverFields returns the header row as string fields
func (s *Source) DiscoverFields(_ context.Context, table string) ([]schema.Field, error) {
	if table != s.tableName() {
		return nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "csv datasource %s has no table %s", s.name, table)
	}

	header, _, err := s.read()
	if err != nil {
		return nil, err
	}

	fields := make([]schema.Field, len(header))
	for i, name := range header {
		fields[i] = schema.Field{Name: name, Type: schema.TypeString}
	}
	return fields, nil
}

// Tables returns the file stem as the only table
func (s *Source) Tables(_ context.Context) ([]string, error) {
	return []string{s.tableName()}, nil
}

// Ping verifies the file exists
func (s *Source) Ping(_ context.Context) error {
	if _, err := os.Stat(s.location); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "csv file not accessible")
	}
	return nil
}

// Close is a no-op for file sources
func (s *Source) Close(_ context.Context) error { return nil }

// read loads the whole file, returning header and data records
func (s *Source) read() ([]string, [][]string, error) {
	f, err := os.Open(s.location)
	if err != nil {
		return nil, nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to open csv file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, lkerrors.Wrap(err, lkerrors.ErrorTypeData, "failed to parse csv file")
	}
	if len(records) == 0 {
		return nil, nil, lkerrors.Newf(lkerrors.ErrorTypeSchema, "csv file %s has no header row", s.location)
	}

	return records[0], records[1:], nil
}

// matches applies equality and window filters to one record
func matches(record []string, index map[string]int, f source.Filter) bool {
	for _, kv := range f.Equals {
		i, ok := index[kv.Key]
		if !ok || i >= len(record) || record[i] != kv.Value {
			return false
		}
	}
	if w := f.Window; w != nil {
		i, ok := index[w.Field]
		if !ok || i >= len(record) {
			return false
		}
		ts, err := parseTime(record[i])
		if err != nil || ts.Before(w.Since) {
			return false
		}
	}
	return true
}

// parseTime accepts the timestamp layouts seen in exported CSVs
func parseTime(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
		time.RFC3339,
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// distinctKey renders the row values as a deduplication key
func distinctKey(row source.Row, fields []schema.Field) string {
	var sb strings.Builder
	for _, f := range fields {
		if v, ok := row[f.Name].(string); ok {
			sb.WriteString(v)
		}
		sb.WriteByte('\x1f')
	}
	return sb.String()
}
