// Package planner decides which partitions of a table must be
// (re)materialized for a run.
package planner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

// Planner computes the set of partition keys a run must rewrite.
// Partitions are independent units of work; the returned order is
// stable but carries no correctness meaning.
type Planner struct {
	base    schema.BasePartitions
	cadence time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Planner
type Option func(*Planner)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithCadence declares the expected run scheduling interval. An
// incremental window smaller than the cadence can miss changes; the
// planner warns about it but never alters the configured value.
func WithCadence(cadence time.Duration) Option {
	return func(p *Planner) { p.cadence = cadence }
}

// New creates a planner for an installation's base partitions
func New(base schema.BasePartitions, opts ...Option) *Planner {
	p := &Planner{
		base: base,
		now:  time.Now,
		log:  logger.With(zap.String("component", "planner")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns the partition keys to rewrite this run.
//
// A table without a partition scheme yields exactly one implicit
// partition (the base partitions only). A non-incremental scheme, or
// force=true, enumerates every distinct partition-value combination in
// the source. An incremental scheme narrows discovery to rows whose
// timestamp field falls inside the lookback window; a window with no
// activity yields an empty plan, which is a valid no-op run.
func (p *Planner) Plan(ctx context.Context, src source.Source, table *schema.Table, force bool) ([]schema.PartitionKey, error) {
	if table.Partitions == nil {
		return []schema.PartitionKey{{Base: p.base}}, nil
	}

	fields, err := p.partitionFields(table)
	if err != nil {
		return nil, err
	}

	var filter source.Filter
	if table.Partitions.Incremental() && !force {
		since := p.now().Add(-table.Partitions.Interval)
		filter.Window = &source.TimeWindow{
			Field: p.timestampSource(table),
			Since: since,
		}
		if p.cadence > 0 && table.Partitions.Interval < p.cadence {
			p.log.Warn("incremental interval is smaller than the run cadence; changes between runs can be missed",
				zap.String("table", table.Name),
				zap.Duration("interval", table.Partitions.Interval),
				zap.Duration("cadence", p.cadence))
		}
	} else if table.Partitions.Incremental() && force {
		p.log.Info("forced run, rewriting all partitions", zap.String("table", table.Name))
	}

	rows, err := src.Query(ctx, source.Query{
		Table:    table.Name,
		Fields:   fields,
		Filter:   filter,
		Distinct: true,
	})
	if err != nil {
		return nil, err
	}

	keys := make([]schema.PartitionKey, 0, len(rows))
	for _, row := range rows {
		kvs := make([]schema.KV, len(fields))
		for i, f := range fields {
			value, _ := schema.FormatValue(f.SemanticType(), row[f.Name])
			kvs[i] = schema.KV{Key: f.Name, Value: value}
		}
		keys = append(keys, schema.PartitionKey{Base: p.base, Fields: kvs})
	}

	schema.SortKeys(keys)

	p.log.Debug("partition plan computed",
		zap.String("table", table.Name),
		zap.Int("partitions", len(keys)),
		zap.Bool("force", force))

	return keys, nil
}

// PartitionFilter scopes an extraction query to one planned partition
func PartitionFilter(key schema.PartitionKey) source.Filter {
	return source.Filter{Equals: key.Fields}
}

// partitionFields resolves the partition field declarations of a table
func (p *Planner) partitionFields(table *schema.Table) ([]schema.Field, error) {
	names := table.PartitionFields()
	fields := make([]schema.Field, len(names))
	for i, name := range names {
		f, ok := table.FieldByName(name)
		if !ok {
			// Validation rejects this at load time; guard anyway
			return nil, errors.Newf(errors.ErrorTypeConfig, "table %s partition field %s not declared", table.Name, name)
		}
		fields[i] = f
	}
	return fields, nil
}

// timestampSource returns the source column of the timestamp field
func (p *Planner) timestampSource(table *schema.Table) string {
	if f, ok := table.FieldByName(table.Partitions.TimestampField); ok {
		return f.SourceName()
	}
	return table.Partitions.TimestampField
}
