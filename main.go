package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/database"
	"github.com/ekaya-inc/minidb/pkg/logging"
	"github.com/ekaya-inc/minidb/pkg/metrics"
	"github.com/ekaya-inc/minidb/pkg/tracing"

	// Register the built-in drivers
	_ "github.com/ekaya-inc/minidb/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/minidb/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/minidb/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/minidb/pkg/adapters/datasource/sqlite"
)

// Version is set at build time via ldflags
var Version = "dev"

// closeTimeout bounds how long shutdown waits for borrowed connections.
const closeTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.Manager
	registry *prometheus.Registry

	shutdownTracing func(context.Context) error
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadFile(configPath, Version)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := tracing.Setup(cfg.Tracing, cfg.Version, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observers := []database.Observer{
		database.NewLogObserver(logger),
		metrics.NewCollector(registry, "", logger),
	}
	if cfg.Tracing.Enabled {
		observers = append(observers, tracing.NewObserver(nil))
	}

	db := database.NewManager(cfg.Database, logger,
		database.WithObservers(observers...),
		database.WithStrictScopes(cfg.Database.StrictScopes),
	)
	registry.MustRegister(metrics.NewPoolCollector(db, ""))

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("default_connection", cfg.Database.Default),
		zap.Strings("connections", cfg.Database.Names()),
	)

	return &app{
		cfg:             cfg,
		logger:          logger,
		db:              db,
		registry:        registry,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close releases every connection, flushes spans and syncs the logger.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	a.db.Close(ctx)
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("Failed to flush traces", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "minidb",
		Short:         "Scope-aware database connection manager",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to the YAML configuration file")

	// withApp builds the wiring for a subcommand and tears it down afterwards.
	withApp := func(run runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newPingCommand(withApp),
		newQueryCommand(withApp),
		newPoolsCommand(withApp),
		newMigrateCommand(withApp),
		newServeCommand(withApp),
		newConfigCommand(&configPath),
	)
	return root
}
