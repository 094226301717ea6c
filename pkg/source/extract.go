package source

import (
	"context"

	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/schema"
)

// Extract reads the rows of a table through src, applying the table's
// static filter and the given scoping filter. Constant-override fields
// are substituted into every row instead of being queried, so a source
// never sees them.
func Extract(ctx context.Context, src Source, table *schema.Table, filter Filter) ([]Row, error) {
	queried := table.QueriedFields()

	if filter.Expr == "" {
		filter.Expr = table.Filter
	}

	var rows []Row
	if len(queried) > 0 {
		var err error
		rows, err = src.Query(ctx, Query{
			Table:  table.Name,
			Fields: queried,
			Filter: filter,
		})
		if err != nil {
			return nil, err
		}
	}

	constants := make([]schema.Field, 0)
	for _, f := range table.Fields {
		if f.Kind() == schema.KindConstant {
			constants = append(constants, f)
		}
	}
	if len(constants) == 0 {
		return rows, nil
	}

	for _, row := range rows {
		for _, f := range constants {
			row[f.Name] = *f.Value
		}
	}
	return rows, nil
}

// CheckSchema verifies that every queried field the table declares is
// present in the source. A missing field is a schema error, fatal for
// this table but not for the run.
func CheckSchema(ctx context.Context, src Source, table *schema.Table) error {
	discovered, err := src.DiscoverFields(ctx, table.Name)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(discovered))
	for _, f := range discovered {
		present[f.Name] = true
	}

	for _, f := range table.QueriedFields() {
		if !present[f.SourceName()] {
			return errors.Newf(errors.ErrorTypeSchema,
				"table %s declares field %s (source column %s) which is absent from datasource %s",
				table.Name, f.Name, f.SourceName(), src.Name())
		}
	}
	return nil
}
