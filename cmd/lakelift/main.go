package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakelift/lakelift/internal/pipeline"
	"github.com/lakelift/lakelift/pkg/config"
	"github.com/lakelift/lakelift/pkg/logger"
	"github.com/lakelift/lakelift/pkg/source"

	// Import all available source connectors to register them
	_ "github.com/lakelift/lakelift/pkg/source/csvfile"
	_ "github.com/lakelift/lakelift/pkg/source/mongo"
	_ "github.com/lakelift/lakelift/pkg/source/mysql"
	_ "github.com/lakelift/lakelift/pkg/source/postgres"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var settingsFile, logLevel string
	var datasource string
	var tables []string

	root := &cobra.Command{
		Use:   "lakelift",
		Short: "Lakelift - partitioned extract-load engine",
		Long: `Lakelift extracts tables from relational and document datasources,
writes them as Hive-partitioned CSV files in object storage, and keeps
the data catalog's tables, partitions and views in sync.`,
	}

	root.PersistentFlags().StringVarP(&settingsFile, "settings", "c", "settings.yaml", "Path to the settings YAML file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&datasource, "datasource", "d", "", "Limit to one datasource")
	root.PersistentFlags().StringSliceVarP(&tables, "tables", "t", nil, "Limit to specific tables")

	// setup loads settings and initializes logging; every verb except
	// version goes through it
	setup := func() (*config.Config, error) {
		cfg, err := config.Load(settingsFile)
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := logger.Init(logger.Config{
			Level:       cfg.Log.Level,
			Development: cfg.Log.Development,
			Encoding:    cfg.Log.Encoding,
		}); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	selection := func() pipeline.Selection {
		return pipeline.Selection{Datasource: datasource, Tables: tables}
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Lakelift v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available datasource types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available datasource types:")
			for _, name := range source.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var force bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Extract the selected tables and load them into the data lake",
		Long: `Plan the partitions of every selected table, extract and write each
partition as a CSV object, then register the written partitions in the
catalog. Prints a JSON run report and exits non-zero if any table failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runPipeline(cfg, selection(), force)
		},
	}
	runCmd.Flags().BoolVar(&force, "force", false, "Rewrite every partition, ignoring incremental windows")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "create-tables",
		Short: "Create the raw external tables in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(setup, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.CreateTables(ctx, selection())
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create-views",
		Short: "Create or replace the typed views over the raw tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(setup, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.CreateViews(ctx, selection())
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "drop-tables",
		Short: "Drop the raw tables and views from the catalog",
		Long: `Drop each selected table's view and raw table definition from the
catalog. The CSV objects in storage are left in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(setup, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.DropTables(ctx, selection())
			})
		},
	})

	var overwrite bool
	setFieldsCmd := &cobra.Command{
		Use:   "set-fields",
		Short: "Discover table fields from the sources and save them to the settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(setup, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.SetFields(ctx, selection(), settingsFile, overwrite)
			})
		},
	}
	setFieldsCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Rediscover fields even for tables that already declare them")
	root.AddCommand(setFieldsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "test-connections",
		Short: "Probe every datasource, the object store and the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(setup, func(ctx context.Context, p *pipeline.Pipeline) error {
				failed := 0
				for _, s := range p.TestConnections(ctx) {
					mark := "ok"
					if !s.OK {
						mark = "FAILED: " + s.Err
						failed++
					}
					fmt.Printf("%-12s %-30s %s\n", s.Kind, s.Name, mark)
				}
				if failed > 0 {
					return fmt.Errorf("%d connection(s) failed", failed)
				}
				return nil
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withPipeline builds a pipeline and runs fn under a signal-aware context
func withPipeline(setup func() (*config.Config, error), fn func(context.Context, *pipeline.Pipeline) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, p)
}

// runPipeline executes a full extract-load run and prints the report
func runPipeline(cfg *config.Config, sel pipeline.Selection, force bool) error {
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.Get().With(zap.String("component", "lakelift-cli"))
	log.Info("starting run",
		zap.String("datasource", sel.Datasource),
		zap.Strings("tables", sel.Tables),
		zap.Bool("force", force))

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}

	sel.Force = force
	report, runErr := p.Run(ctx, sel)

	if out, err := report.JSON(); err == nil {
		fmt.Println(string(out))
	}

	if runErr != nil {
		return runErr
	}
	if failed := report.FailedTables(); failed > 0 {
		return fmt.Errorf("%d table(s) failed", failed)
	}

	log.Info("run completed",
		zap.Duration("duration", report.Duration),
		zap.Int("tables", len(report.Tables)))
	return nil
}
