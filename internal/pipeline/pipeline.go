// Package pipeline orchestrates a run: plan partitions per table,
// extract and write them under a bounded worker pool, then synchronize
// the catalog. Tables are independent; one table's failure never aborts
// the run.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/catalog"
	"github.com/lakelift/lakelift/pkg/catalog/athena"
	"github.com/lakelift/lakelift/pkg/catalog/glue"
	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/layout"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/planner"
	"github.com/lakelift/lakelift/pkg/retry"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
	"github.com/lakelift/lakelift/pkg/storage"
	"github.com/lakelift/lakelift/pkg/storage/local"
	s3store "github.com/lakelift/lakelift/pkg/storage/s3"
)

// Pipeline wires the planner, writer and catalog for one run
type Pipeline struct {
	cfg     *config.Config
	store   storage.ObjectStore
	catalog catalog.Catalog
	planner *planner.Planner
	writer  *layout.Writer
	retry   *retry.Policy
	log     *zap.Logger
}

// Selection narrows a run to specific datasources or tables
type Selection struct {
	// Datasource, when set, limits the run to one datasource
	Datasource string
	// Tables, when non-empty, limits the run to these table names
	Tables []string
	// Force ignores incremental windows and rewrites every partition
	Force bool
}

// wants reports whether a table is part of the selection
func (s Selection) wants(dsName, tableName string) bool {
	if s.Datasource != "" && s.Datasource != dsName {
		return false
	}
	if len(s.Tables) == 0 {
		return true
	}
	for _, t := range s.Tables {
		if t == tableName {
			return true
		}
	}
	return false
}

// New builds a pipeline from the run's configuration
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cat, err := newCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		store:   store,
		catalog: cat,
		planner: planner.New(cfg.Datalake.BasePartitions, planner.WithCadence(cfg.Run.Cadence)),
		writer:  layout.NewWriter(store, cfg.Datalake.BasePrefix),
		retry:   retry.NewPolicy(cfg.Run.RetryAttempts, cfg.Run.RetryDelay),
		log:     logger.With(zap.String("component", "pipeline")),
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Datalake.LocalPath != "" {
		return local.NewStore(cfg.Datalake.LocalPath)
	}
	return s3store.NewStore(ctx, cfg.Datalake.Bucket, cfg.Datalake.Region)
}

func newCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, error) {
	switch cfg.Datalake.Provider {
	case "athena":
		return athena.New(ctx, cfg.Datalake.Database, cfg.Datalake.Workgroup, cfg.Datalake.Region)
	case "glue":
		return glue.New(ctx, cfg.Datalake.Database, cfg.Datalake.Region)
	default:
		return catalog.Nop{}, nil
	}
}

// Catalog exposes the configured catalog for the CLI's catalog verbs
func (p *Pipeline) Catalog() catalog.Catalog { return p.catalog }

// Store exposes the configured object store
func (p *Pipeline) Store() storage.ObjectStore { return p.store }

// Run extracts and loads every selected table. The returned report is
// complete even when tables fail; the error is non-nil only for whole
// run failures such as cancellation.
func (p *Pipeline) Run(ctx context.Context, sel Selection) (*RunReport, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)

	report := &RunReport{RunID: runID, StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	type job struct {
		ds    *config.DatasourceConfig
		src   source.Source
		table *schema.Table
	}
	var jobs []job

	// Open each selected datasource once; its connector is shared
	// read-only by that datasource's table jobs
	for i := range p.cfg.Datasources {
		ds := &p.cfg.Datasources[i]

		var selected []*schema.Table
		for j := range ds.Tables {
			if sel.wants(ds.Name, ds.Tables[j].Name) {
				selected = append(selected, &ds.Tables[j])
			}
		}
		if len(selected) == 0 {
			continue
		}

		src, err := source.Create(ds)
		if err != nil {
			for _, t := range selected {
				report.Tables = append(report.Tables, TableReport{
					Datasource: ds.Name, Table: t.Name, Error: err.Error(),
				})
			}
			p.log.Error("failed to open datasource", zap.String("datasource", ds.Name), zap.Error(err))
			continue
		}
		defer src.Close(context.WithoutCancel(ctx))

		for _, t := range selected {
			jobs = append(jobs, job{ds: ds, src: src, table: t})
		}
	}

	if len(jobs) == 0 {
		return report, nil
	}

	results := make([]TableReport, len(jobs))
	sem := make(chan struct{}, p.cfg.Run.TableWorkers)
	var wg sync.WaitGroup

	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = p.runTable(ctx, j.ds, j.src, j.table, sel.Force)
		}(i, j)
	}
	wg.Wait()

	report.Tables = append(report.Tables, results...)

	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, errors.ErrorTypeTimeout, "run cancelled")
	}
	return report, nil
}

// runTable processes one table end to end: schema check, partition
// plan, extraction and write per partition, then batched registration.
func (p *Pipeline) runTable(ctx context.Context, ds *config.DatasourceConfig, src source.Source, table *schema.Table, force bool) TableReport {
	start := time.Now()
	report := TableReport{Datasource: ds.Name, Table: table.Name}
	defer func() { report.Duration = time.Since(start) }()

	ctx = context.WithValue(ctx, logger.DatasourceKey, ds.Name)
	ctx = context.WithValue(ctx, logger.TableKey, table.Name)
	log := logger.WithContext(ctx)
	log.Info("processing table", zap.Bool("force", force))

	// A declared field missing from the source is fatal for this table
	// only; connectivity problems are retried first
	if err := p.withRetry(ctx, func() error { return source.CheckSchema(ctx, src, table) }); err != nil {
		report.Error = err.Error()
		log.Error("schema check failed", zap.Error(err))
		return report
	}

	var keys []schema.PartitionKey
	err := p.withRetry(ctx, func() error {
		var planErr error
		keys, planErr = p.planner.Plan(ctx, src, table, force)
		return planErr
	})
	if err != nil {
		report.Error = err.Error()
		log.Error("partition planning failed", zap.Error(err))
		return report
	}
	report.PartitionsPlanned = len(keys)

	// An empty plan is a valid no-op run
	if len(keys) == 0 {
		log.Info("no partitions to update")
		return report
	}

	tableLocation := p.store.BaseURI() + "/" + layout.TablePrefix(p.cfg.Datalake.BasePrefix, table.Name)
	def := catalog.TableDefFor(table, p.cfg.Datalake.BasePartitions, p.cfg.Datalake.BasePrefix, tableLocation)
	if err := p.withRetry(ctx, func() error { return p.catalog.EnsureTable(ctx, def) }); err != nil {
		report.Error = err.Error()
		log.Error("failed to ensure catalog table", zap.Error(err))
		return report
	}

	written := p.writePartitions(ctx, src, table, keys, &report, log)

	// Register only fully written partitions; on cancellation nothing
	// partial may be published as complete
	if ctx.Err() != nil {
		report.Error = ctx.Err().Error()
		return report
	}
	if len(written) == 0 {
		return report
	}

	err = p.withRetry(ctx, func() error {
		return p.catalog.RegisterPartitions(ctx, def.Name, written)
	})
	if err != nil {
		// The files are idempotently in place; a rerun repairs the
		// catalog through the same registration call
		report.RegistrationFailures = len(written)
		log.Error("partitions written but not registered", zap.Int("count", len(written)), zap.Error(err))
		return report
	}
	report.PartitionsRegistered = len(written)

	log.Info("table complete",
		zap.Int("partitions_written", report.PartitionsWritten),
		zap.Int("rows", report.Rows),
		zap.Int("malformed_fields", report.MalformedFields))
	return report
}

// writePartitions extracts and writes the planned partitions under the
// configured concurrency bound, returning the registrations for the
// partitions that were fully written.
func (p *Pipeline) writePartitions(ctx context.Context, src source.Source, table *schema.Table, keys []schema.PartitionKey, report *TableReport, log *zap.Logger) []catalog.Partition {
	type outcome struct {
		partition catalog.Partition
		result    *layout.Result
		err       error
	}

	outcomes := make([]outcome, len(keys))
	sem := make(chan struct{}, p.cfg.Run.PartitionWorkers)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key schema.PartitionKey) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				outcomes[i].err = ctx.Err()
				return
			}

			var rows []source.Row
			err := p.withRetry(ctx, func() error {
				var exErr error
				rows, exErr = source.Extract(ctx, src, table, planner.PartitionFilter(key))
				return exErr
			})
			if err != nil {
				outcomes[i].err = err
				return
			}

			result, err := p.writer.Write(ctx, table, key, rows)
			if err != nil {
				outcomes[i].err = err
				return
			}

			outcomes[i].result = result
			outcomes[i].partition = catalog.Partition{
				Values:   key.Pairs(),
				Location: p.store.BaseURI() + "/" + layout.PartitionPrefix(p.cfg.Datalake.BasePrefix, table.Name, key),
			}
		}(i, key)
	}
	wg.Wait()

	var written []catalog.Partition
	for i := range outcomes {
		o := &outcomes[i]
		if o.err != nil {
			if report.Error == "" {
				report.Error = o.err.Error()
			}
			log.Error("partition failed", zap.String("partition", keys[i].Path()), zap.Error(o.err))
			continue
		}
		report.PartitionsWritten++
		report.Rows += o.result.Rows
		report.MalformedFields += o.result.MalformedFields
		written = append(written, o.partition)
	}
	return written
}

// withRetry retries fn with bounded backoff while the error is
// recoverable (connectivity, timeouts, registration)
func (p *Pipeline) withRetry(ctx context.Context, fn func() error) error {
	return p.retry.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}
