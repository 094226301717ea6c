package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/catalog"
	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/layout"
	"github.com/lakelift/lakelift/pkg/schema"
	"github.com/lakelift/lakelift/pkg/source"
)

// forEachTable runs fn over every selected table, collecting the first
// error per table without stopping the sweep.
func (p *Pipeline) forEachTable(sel Selection, fn func(ds *config.DatasourceConfig, table *schema.Table) error) error {
	var firstErr error
	for i := range p.cfg.Datasources {
		ds := &p.cfg.Datasources[i]
		for j := range ds.Tables {
			table := &ds.Tables[j]
			if !sel.wants(ds.Name, table.Name) {
				continue
			}
			if err := fn(ds, table); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CreateTables declares every selected table's raw external table in
// the catalog. Existing tables are left untouched.
func (p *Pipeline) CreateTables(ctx context.Context, sel Selection) error {
	return p.forEachTable(sel, func(ds *config.DatasourceConfig, table *schema.Table) error {
		location := p.store.BaseURI() + "/" + layout.TablePrefix(p.cfg.Datalake.BasePrefix, table.Name)
		def := catalog.TableDefFor(table, p.cfg.Datalake.BasePartitions, p.cfg.Datalake.BasePrefix, location)
		if err := p.catalog.EnsureTable(ctx, def); err != nil {
			p.log.Error("failed to create table", zap.String("table", def.Name), zap.Error(err))
			return err
		}
		p.log.Info("table created", zap.String("table", def.Name), zap.String("location", location))
		return nil
	})
}

// CreateViews declares the typed view over each selected table's raw
// table, replacing any previous definition.
func (p *Pipeline) CreateViews(ctx context.Context, sel Selection) error {
	return p.forEachTable(sel, func(ds *config.DatasourceConfig, table *schema.Table) error {
		def := catalog.ViewDefFor(table, p.cfg.Datalake.BasePartitions, p.cfg.Datalake.BasePrefix)
		if err := p.catalog.EnsureView(ctx, def); err != nil {
			p.log.Error("failed to create view", zap.String("view", def.Name), zap.Error(err))
			return err
		}
		p.log.Info("view created", zap.String("view", def.Name))
		return nil
	})
}

// DropTables removes each selected table's view and raw table from the
// catalog. Data files in the object store are not touched.
func (p *Pipeline) DropTables(ctx context.Context, sel Selection) error {
	return p.forEachTable(sel, func(ds *config.DatasourceConfig, table *schema.Table) error {
		viewName := table.ViewName(p.cfg.Datalake.BasePrefix)
		if err := p.catalog.DropView(ctx, viewName); err != nil {
			p.log.Error("failed to drop view", zap.String("view", viewName), zap.Error(err))
			return err
		}
		rawName := table.RawTableName(p.cfg.Datalake.BasePrefix)
		if err := p.catalog.DropTable(ctx, rawName); err != nil {
			p.log.Error("failed to drop table", zap.String("table", rawName), zap.Error(err))
			return err
		}
		p.log.Info("table dropped", zap.String("table", rawName), zap.String("view", viewName))
		return nil
	})
}

// SetFields discovers each selected table's fields in its source and
// rewrites the settings file with the discovered definitions. Tables
// that already declare fields are left as configured.
func (p *Pipeline) SetFields(ctx context.Context, sel Selection, settingsPath string, overwrite bool) error {
	var updated int
	for i := range p.cfg.Datasources {
		ds := &p.cfg.Datasources[i]

		var selected []*schema.Table
		for j := range ds.Tables {
			table := &ds.Tables[j]
			if !sel.wants(ds.Name, table.Name) {
				continue
			}
			if len(table.Fields) > 0 && !overwrite {
				p.log.Info("fields already set, skipping",
					zap.String("datasource", ds.Name), zap.String("table", table.Name))
				continue
			}
			selected = append(selected, table)
		}
		if len(selected) == 0 {
			continue
		}

		src, err := source.Create(ds)
		if err != nil {
			return err
		}

		for _, table := range selected {
			fields, err := src.DiscoverFields(ctx, table.Name)
			if err != nil {
				src.Close(ctx)
				return errors.Wrap(err, errors.ErrorTypeSchema,
					fmt.Sprintf("failed to discover fields for table %s", table.Name))
			}
			table.Fields = fields
			updated++
			p.log.Info("fields discovered",
				zap.String("datasource", ds.Name),
				zap.String("table", table.Name),
				zap.Int("fields", len(fields)))
		}
		if err := src.Close(ctx); err != nil {
			p.log.Warn("failed to close datasource", zap.String("datasource", ds.Name), zap.Error(err))
		}
	}

	if updated == 0 {
		p.log.Info("no tables updated")
		return nil
	}
	return config.Save(settingsPath, p.cfg)
}

// ConnectionStatus is one probe result from TestConnections
type ConnectionStatus struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

// TestConnections probes every configured datasource, the object store
// and the catalog. All probes run even when earlier ones fail.
func (p *Pipeline) TestConnections(ctx context.Context) []ConnectionStatus {
	var statuses []ConnectionStatus

	probe := func(name, kind string, err error) {
		s := ConnectionStatus{Name: name, Kind: kind, OK: err == nil}
		if err != nil {
			s.Err = err.Error()
			p.log.Error("connection check failed", zap.String("name", name), zap.String("kind", kind), zap.Error(err))
		} else {
			p.log.Info("connection ok", zap.String("name", name), zap.String("kind", kind))
		}
		statuses = append(statuses, s)
	}

	for i := range p.cfg.Datasources {
		ds := &p.cfg.Datasources[i]
		src, err := source.Create(ds)
		if err != nil {
			probe(ds.Name, "datasource", err)
			continue
		}
		probe(ds.Name, "datasource", src.Ping(ctx))
		src.Close(ctx)
	}

	probe(p.store.BaseURI(), "storage", p.store.Ping(ctx))
	probe(p.cfg.Datalake.Provider, "catalog", p.catalog.Ping(ctx))

	return statuses
}
