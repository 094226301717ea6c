// Package athena implements the catalog on AWS Athena: table,
// partition and view metadata is maintained by executing DDL through an
// Athena workgroup.
package athena

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/catalog"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
)

const pollInterval = 500 * time.Millisecond

// Catalog executes catalog DDL through Athena
type Catalog struct {
	client    *athena.Client
	database  string
	workgroup string
	log       *zap.Logger
}

// New creates an Athena-backed catalog
func New(ctx context.Context, database, workgroup, region string) (*Catalog, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to load AWS configuration")
	}

	return &Catalog{
		client:    athena.NewFromConfig(cfg),
		database:  database,
		workgroup: workgroup,
		log: logger.With(
			zap.String("component", "athena_catalog"),
			zap.String("database", database),
			zap.String("workgroup", workgroup)),
	}, nil
}

// EnsureTable creates the raw table if absent. The DDL carries IF NOT
// EXISTS, so an existing table is never mutated.
func (c *Catalog) EnsureTable(ctx context.Context, def catalog.TableDef) error {
	_, err := c.execute(ctx, catalog.BuildCreateTable(def))
	return err
}

// RegisterPartitions registers the run's partitions in one batched
// statement. An empty batch is a no-op.
func (c *Catalog) RegisterPartitions(ctx context.Context, table string, parts []catalog.Partition) error {
	if len(parts) == 0 {
		return nil
	}

	if _, err := c.execute(ctx, catalog.BuildAddPartitions(table, parts)); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeRegistration, "partition registration failed").
			WithDetail("table", table).
			WithDetail("partitions", len(parts))
	}

	c.log.Info("partitions registered", zap.String("table", table), zap.Int("count", len(parts)))
	return nil
}

// EnsureView creates or replaces the type-cast view
func (c *Catalog) EnsureView(ctx context.Context, def catalog.ViewDef) error {
	_, err := c.execute(ctx, catalog.BuildCreateView(def))
	return err
}

// DropTable removes a table definition
func (c *Catalog) DropTable(ctx context.Context, table string) error {
	_, err := c.execute(ctx, catalog.BuildDropTable(table))
	return err
}

// DropView removes a view
func (c *Catalog) DropView(ctx context.Context, view string) error {
	_, err := c.execute(ctx, catalog.BuildDropView(view))
	return err
}

// Query runs a SQL query and returns the result rows, header excluded
func (c *Catalog) Query(ctx context.Context, sql string) ([][]string, error) {
	executionID, err := c.execute(ctx, sql)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	paginator := athena.NewGetQueryResultsPaginator(c.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
	})
	first := true
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeQuery, "failed to fetch query results")
		}
		for _, r := range page.ResultSet.Rows {
			if first {
				// The first row of the first page is the header
				first = false
				continue
			}
			row := make([]string, len(r.Data))
			for i, d := range r.Data {
				row[i] = aws.ToString(d.VarCharValue)
			}
			rows = append(rows, row)
		}
	}

	return rows, nil
}

// Ping verifies the workgroup is reachable
func (c *Catalog) Ping(ctx context.Context) error {
	_, err := c.client.GetWorkGroup(ctx, &athena.GetWorkGroupInput{
		WorkGroup: aws.String(c.workgroup),
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "athena workgroup not accessible")
	}
	return nil
}

// execute starts a query execution and waits for a terminal state
func (c *Catalog) execute(ctx context.Context, sql string) (string, error) {
	c.log.Debug("executing athena query", zap.String("query", sql))

	start, err := c.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(c.database),
		},
		WorkGroup: aws.String(c.workgroup),
	})
	if err != nil {
		return "", lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to start athena query")
	}

	executionID := aws.ToString(start.QueryExecutionId)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return executionID, lkerrors.Wrap(ctx.Err(), lkerrors.ErrorTypeTimeout, "athena query cancelled")
		case <-ticker.C:
		}

		out, err := c.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return executionID, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to poll athena execution")
		}

		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return executionID, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := aws.ToString(status.StateChangeReason)
			return executionID, lkerrors.Newf(lkerrors.ErrorTypeQuery, "athena query %s: %s", status.State, reason)
		case types.QueryExecutionStateQueued, types.QueryExecutionStateRunning:
			// keep polling
		}
	}
}
