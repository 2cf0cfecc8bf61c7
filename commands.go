package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/database"
	"github.com/ekaya-inc/minidb/pkg/handlers"
	"github.com/ekaya-inc/minidb/pkg/logging"
	"github.com/ekaya-inc/minidb/pkg/middleware"
	"github.com/ekaya-inc/minidb/pkg/scope"
	sqltext "github.com/ekaya-inc/minidb/pkg/sql"
)

type runFunc func(cmd *cobra.Command, a *app, args []string) error

type appWrapper func(runFunc) func(*cobra.Command, []string) error

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPingCommand(withApp appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "ping [connection...]",
		Short: "Resolve and ping connections concurrently",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			results := a.db.PingAll(cmd.Context(), args)

			type row struct {
				Name      string  `json:"name"`
				ElapsedMS float64 `json:"elapsed_ms"`
				Error     string  `json:"error,omitempty"`
			}
			out := make([]row, 0, len(results))
			failed := 0
			for _, r := range results {
				entry := row{Name: r.Name, ElapsedMS: float64(r.Elapsed.Microseconds()) / 1000}
				if r.Err != nil {
					entry.Error = logging.SanitizeError(r.Err)
					failed++
				}
				out = append(out, entry)
			}

			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d connections failed", failed, len(results))
			}
			return nil
		}),
	}
}

func newQueryCommand(withApp appWrapper) *cobra.Command {
	var (
		name    string
		pretend bool
	)

	cmd := &cobra.Command{
		Use:   "query SQL [binding...]",
		Short: "Run one statement and print the result as JSON",
		Long: `Run one statement on a named connection. Bindings replace "?" markers in order.
Reads print their rows; other statements print the affected row count.

Example:
  minidb query -c reporting "select * from users where id = ?" 42`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			query, err := sqltext.Normalize(args[0])
			if err != nil {
				return err
			}
			bindings := make([]any, 0, len(args)-1)
			for _, b := range args[1:] {
				bindings = append(bindings, b)
			}

			return scope.Run(cmd.Context(), func(ctx context.Context) error {
				c, err := a.db.Connection(ctx, name)
				if err != nil {
					return err
				}

				if pretend {
					log, err := c.Pretend(ctx, func(ctx context.Context, c *database.Connection) error {
						_, err := runStatement(ctx, c, query, bindings)
						return err
					})
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), log)
				}

				result, err := runStatement(ctx, c, query, bindings)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		}),
	}

	cmd.Flags().StringVarP(&name, "connection", "c", "", "Connection name (defaults to the configured default)")
	cmd.Flags().BoolVar(&pretend, "pretend", false, "Log the statement without executing it")
	return cmd
}

func runStatement(ctx context.Context, c *database.Connection, query string, bindings []any) (any, error) {
	if sqltext.IsRead(query) {
		return c.Select(ctx, query, bindings...)
	}
	n, err := c.AffectingStatement(ctx, query, bindings...)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"affected": n}, nil
}

func newPoolsCommand(withApp appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "pools [connection...]",
		Short: "Borrow one connection from each named pool and print pool stats",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				err := scope.Run(cmd.Context(), func(ctx context.Context) error {
					_, err := a.db.Connection(ctx, name)
					return err
				})
				if err != nil {
					return fmt.Errorf("failed to warm %s: %w", name, err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), a.db.PoolStats())
		}),
	}
}

func newMigrateCommand(withApp appWrapper) *cobra.Command {
	var (
		name string
		path string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations to a connection",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if name == "" {
				name = a.db.DefaultConnection()
			}
			return a.db.Migrate(cmd.Context(), name, path)
		}),
	}

	cmd.Flags().StringVarP(&name, "connection", "c", "", "Connection name (defaults to the configured default)")
	cmd.Flags().StringVar(&path, "path", "./migrations", "Directory holding the migration files")
	return cmd
}

func newServeCommand(withApp appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, ping, pool and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mux := http.NewServeMux()
			handlers.NewHealthHandler(a.cfg, a.db, a.logger).RegisterRoutes(mux)
			mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

			addr := net.JoinHostPort(a.cfg.Server.BindAddr, a.cfg.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           middleware.RequestLogger(a.logger)(mux),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting minidb", zap.String("addr", addr), zap.String("version", a.cfg.Version))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
}

func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*configPath, Version)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
