// Package config provides the settings model for lakelift.
//
// A single immutable Config is loaded once per run from a YAML settings
// file and passed by reference to every component; no component reads
// ambient environment state directly. Values of the form ${VAR} in the
// settings file are substituted from the environment at load time.
package config

import (
	"time"

	"github.com/lakelift/lakelift/pkg/errors"
	"github.com/lakelift/lakelift/pkg/schema"
)

// Config is the root settings structure
type Config struct {
	// Datalake configures object storage and the catalog
	Datalake DatalakeConfig `yaml:"datalake" json:"datalake"`

	// Datasources lists the databases and files to extract from
	Datasources []DatasourceConfig `yaml:"datasources" json:"datasources"`

	// Run configures concurrency and retries
	Run RunConfig `yaml:"run" json:"run"`

	// Log configures logging output
	Log LogConfig `yaml:"log" json:"log"`
}

// DatalakeConfig configures the destination: the object store the
// partition files are written to and the catalog that makes them
// queryable.
type DatalakeConfig struct {
	// Provider selects the catalog implementation: athena, glue or none
	Provider string `yaml:"provider" json:"provider"`
	// Bucket is the destination S3 bucket (or root directory for the
	// local storage provider)
	Bucket string `yaml:"bucket" json:"bucket"`
	// BasePrefix is prepended to every storage key and used to derive
	// default destination table and view names
	BasePrefix string `yaml:"base_prefix" json:"base_prefix"`
	// Region is the AWS region
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
	// Database is the catalog database name
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	// Workgroup is the Athena workgroup used for DDL execution
	Workgroup string `yaml:"workgroup,omitempty" json:"workgroup,omitempty"`
	// LocalPath, when set, writes partition files under a local
	// directory instead of S3. Intended for development.
	LocalPath string `yaml:"local_path,omitempty" json:"local_path,omitempty"`
	// BasePartitions are fixed key/value pairs applied to every table,
	// ahead of field-based partitions, in declaration order
	BasePartitions schema.BasePartitions `yaml:"base_partitions,omitempty" json:"base_partitions,omitempty"`
}

// DatasourceConfig identifies one source database or file set.
// Connection parameters are stateless; sources are shared read-only by
// extractors.
type DatasourceConfig struct {
	// Name identifies the datasource in logs and CLI selection
	Name string `yaml:"name" json:"name"`
	// Type selects the source kind: mysql, postgres, mongodb or csv
	Type string `yaml:"type" json:"type"`
	// DSN is the driver connection string for relational sources
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// URI is the connection URI for document sources
	URI string `yaml:"uri,omitempty" json:"uri,omitempty"`
	// Database is the database name for document sources
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	// Location is the file path for flat-file sources
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	// Tables lists the tables extracted from this datasource
	Tables []schema.Table `yaml:"tables" json:"tables"`
}

// RunConfig bounds the work a run may put on the sources.
type RunConfig struct {
	// TableWorkers is the number of tables processed concurrently
	TableWorkers int `yaml:"table_workers" json:"table_workers"`
	// PartitionWorkers bounds concurrent partition extractions within
	// one table. This cap protects the source database from overload;
	// it is an explicit choice, not auto-tuned.
	PartitionWorkers int `yaml:"partition_workers" json:"partition_workers"`
	// RetryAttempts is the total attempt bound for recoverable source
	// and catalog calls. Zero means a single attempt without retries.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// Cadence is the expected scheduling interval of runs. Used only to
	// warn when an incremental window is smaller than the run cadence.
	Cadence time.Duration `yaml:"cadence,omitempty" json:"cadence,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
	Encoding    string `yaml:"encoding" json:"encoding"`
}

// Default returns a Config with production-ready defaults
func Default() *Config {
	return &Config{
		Datalake: DatalakeConfig{
			Provider: "athena",
			Region:   "us-east-1",
		},
		Run: RunConfig{
			TableWorkers:     1,
			PartitionWorkers: 4,
			RetryAttempts:    3,
			RetryDelay:       time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

var validSourceTypes = map[string]bool{
	"mysql":    true,
	"postgres": true,
	"mongodb":  true,
	"csv":      true,
}

// Validate checks the whole settings tree eagerly, before any
// extraction starts. Every table definition is validated against the
// installation's base partitions.
func (c *Config) Validate() error {
	if c.Datalake.Bucket == "" && c.Datalake.LocalPath == "" {
		return errors.New(errors.ErrorTypeConfig, "datalake.bucket or datalake.local_path must be set")
	}
	switch c.Datalake.Provider {
	case "athena", "glue", "none":
	case "":
		return errors.New(errors.ErrorTypeConfig, "datalake.provider must be set (athena, glue or none)")
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown datalake provider %q", c.Datalake.Provider)
	}
	if c.Datalake.Provider != "none" && c.Datalake.Database == "" {
		return errors.Newf(errors.ErrorTypeConfig, "datalake.database is required for provider %s", c.Datalake.Provider)
	}

	if len(c.Datasources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no datasources configured")
	}

	names := make(map[string]bool, len(c.Datasources))
	for i := range c.Datasources {
		ds := &c.Datasources[i]
		if ds.Name == "" {
			return errors.New(errors.ErrorTypeConfig, "datasource without a name")
		}
		if names[ds.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate datasource name %s", ds.Name)
		}
		names[ds.Name] = true

		if !validSourceTypes[ds.Type] {
			return errors.Newf(errors.ErrorTypeConfig, "datasource %s has unknown type %q", ds.Name, ds.Type)
		}

		for j := range ds.Tables {
			if err := ds.Tables[j].Validate(c.Datalake.BasePartitions); err != nil {
				return err
			}
		}
	}

	if c.Run.PartitionWorkers <= 0 {
		return errors.New(errors.ErrorTypeConfig, "run.partition_workers must be positive")
	}
	if c.Run.TableWorkers <= 0 {
		return errors.New(errors.ErrorTypeConfig, "run.table_workers must be positive")
	}
	if c.Run.RetryAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "run.retry_attempts cannot be negative")
	}

	return nil
}

// Datasource returns the datasource config with the given name
func (c *Config) Datasource(name string) (*DatasourceConfig, bool) {
	for i := range c.Datasources {
		if c.Datasources[i].Name == name {
			return &c.Datasources[i], true
		}
	}
	return nil, false
}
