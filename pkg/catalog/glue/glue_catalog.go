// Package glue implements the catalog on the AWS Glue Data Catalog
// API. Tables and partitions are maintained through direct API calls
// instead of DDL; views require a query engine and are not supported by
// this provider.
package glue

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/pkg/catalog"
	lkerrors "github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/logger"
)

const (
	serdeLibrary = "org.apache.hadoop.hive.serde2.OpenCSVSerde"
	inputFormat  = "org.apache.hadoop.mapred.TextInputFormat"
	outputFormat = "org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat"
)

// Catalog maintains table and partition metadata through the Glue API
type Catalog struct {
	client   *glue.Client
	database string
	log      *zap.Logger
}

// New creates a Glue-backed catalog
func New(ctx context.Context, database, region string) (*Catalog, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to load AWS configuration")
	}

	return &Catalog{
		client:   glue.NewFromConfig(cfg),
		database: database,
		log:      logger.With(zap.String("component", "glue_catalog"), zap.String("database", database)),
	}, nil
}

// EnsureTable creates the raw table if absent; an existing table is
// left untouched
func (c *Catalog) EnsureTable(ctx context.Context, def catalog.TableDef) error {
	_, err := c.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(c.database),
		Name:         aws.String(def.Name),
	})
	if err == nil {
		c.log.Debug("table already exists", zap.String("table", def.Name))
		return nil
	}
	var notFound *types.EntityNotFoundException
	if !errors.As(err, &notFound) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to look up glue table")
	}

	// Raw CSV columns are strings; views apply semantic casts
	columns := make([]types.Column, len(def.Columns))
	for i, col := range def.Columns {
		columns[i] = types.Column{Name: aws.String(col.Name), Type: aws.String("string")}
	}
	partitionKeys := make([]types.Column, len(def.PartitionKeys))
	for i, col := range def.PartitionKeys {
		partitionKeys[i] = types.Column{Name: aws.String(col.Name), Type: aws.String("string")}
	}

	_, err = c.client.CreateTable(ctx, &glue.CreateTableInput{
		DatabaseName: aws.String(c.database),
		TableInput: &types.TableInput{
			Name:              aws.String(def.Name),
			TableType:         aws.String("EXTERNAL_TABLE"),
			PartitionKeys:     partitionKeys,
			StorageDescriptor: c.storageDescriptor(columns, def.Location),
			Parameters: map[string]string{
				"classification":         "csv",
				"skip.header.line.count": "1",
				"compressionType":        "none",
				"typeOfData":             "file",
			},
		},
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to create glue table")
	}

	c.log.Info("table created", zap.String("table", def.Name))
	return nil
}

// RegisterPartitions registers the run's partitions in one batched API
// call. Partitions that already exist are a no-op; any other partition
// error fails the registration.
func (c *Catalog) RegisterPartitions(ctx context.Context, table string, parts []catalog.Partition) error {
	if len(parts) == 0 {
		return nil
	}

	inputs := make([]types.PartitionInput, len(parts))
	for i, p := range parts {
		values := make([]string, len(p.Values))
		for j, kv := range p.Values {
			values[j] = kv.Value
		}
		inputs[i] = types.PartitionInput{
			Values:            values,
			StorageDescriptor: c.storageDescriptor(nil, p.Location),
		}
	}

	out, err := c.client.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
		DatabaseName:       aws.String(c.database),
		TableName:          aws.String(table),
		PartitionInputList: inputs,
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeRegistration, "glue partition registration failed").
			WithDetail("table", table)
	}

	for _, pe := range out.Errors {
		if pe.ErrorDetail == nil {
			continue
		}
		if aws.ToString(pe.ErrorDetail.ErrorCode) == "AlreadyExistsException" {
			continue
		}
		return lkerrors.Newf(lkerrors.ErrorTypeRegistration, "glue partition registration failed: %s: %s",
			aws.ToString(pe.ErrorDetail.ErrorCode), aws.ToString(pe.ErrorDetail.ErrorMessage)).
			WithDetail("table", table)
	}

	c.log.Info("partitions registered", zap.String("table", table), zap.Int("count", len(parts)))
	return nil
}

// EnsureView is not supported by the Glue provider; views need a query
// engine. Configure the athena provider for view projections.
func (c *Catalog) EnsureView(_ context.Context, def catalog.ViewDef) error {
	return lkerrors.Newf(lkerrors.ErrorTypeConfig, "glue catalog cannot create view %s: use the athena provider for views", def.Name)
}

// DropTable removes a table definition. A missing table is a no-op.
func (c *Catalog) DropTable(ctx context.Context, table string) error {
	_, err := c.client.DeleteTable(ctx, &glue.DeleteTableInput{
		DatabaseName: aws.String(c.database),
		Name:         aws.String(table),
	})
	var notFound *types.EntityNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "failed to delete glue table")
	}
	return nil
}

// DropView is a no-op: this provider never creates views, so there is
// nothing to drop
func (c *Catalog) DropView(_ context.Context, view string) error {
	c.log.Debug("no view to drop", zap.String("view", view))
	return nil
}

// Query is not supported; Glue is a metadata store, not a query engine
func (c *Catalog) Query(_ context.Context, _ string) ([][]string, error) {
	return nil, lkerrors.New(lkerrors.ErrorTypeConfig, "glue catalog cannot run queries: use the athena provider")
}

// Ping verifies the database exists
func (c *Catalog) Ping(ctx context.Context) error {
	_, err := c.client.GetDatabase(ctx, &glue.GetDatabaseInput{
		Name: aws.String(c.database),
	})
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "glue database not accessible")
	}
	return nil
}

// storageDescriptor renders the CSV storage descriptor shared by
// tables and partitions
func (c *Catalog) storageDescriptor(columns []types.Column, location string) *types.StorageDescriptor {
	return &types.StorageDescriptor{
		Columns:      columns,
		Location:     aws.String(location),
		InputFormat:  aws.String(inputFormat),
		OutputFormat: aws.String(outputFormat),
		SerdeInfo: &types.SerDeInfo{
			SerializationLibrary: aws.String(serdeLibrary),
			Parameters: map[string]string{
				"escapeChar":    `\`,
				"quoteChar":     `"`,
				"separatorChar": ",",
			},
		},
	}
}
