// Command connpool checks and benchmarks connection pools.
//
// Usage:
//
//	connpool <command> [flags]
//
// Commands:
//
//	check    Open a pool, check out one connection, probe it and print stats
//	bench    Run a concurrent workload through an async pool and print stats
//
// Every flag can also be set with a CONNPOOL_ environment variable or in a
// YAML file passed with --config, e.g. CONNPOOL_MAX_SIZE=20 or max_size: 20.
//
// Example:
//
//	# Check an SQLite database
//	connpool check --path app.db
//
//	# Benchmark PostgreSQL and expose Prometheus metrics while running
//	CONNPOOL_ENGINE=postgres CONNPOOL_PATH=postgres://localhost/app \
//		connpool bench --concurrency 32 --duration 30s --metrics-addr :9090
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/yuku/connpool"
	"go.uber.org/zap"
)

const envPrefix = "CONNPOOL"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command shares.
type app struct {
	v      *viper.Viper
	cfg    connpool.Config
	logger *zap.Logger

	metricsAddr string
	registry    *prometheus.Registry
	server      *http.Server
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "connpool",
		Short:         "Check and benchmark connection pools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.shutdown()
		},
	}

	defaults := connpool.DefaultConfig()
	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("engine", defaults.Engine, "Storage engine: "+strings.Join(connpool.Engines(), ", "))
	flags.String("path", defaults.Path, "Database file, :memory: or PostgreSQL connection string")
	flags.Int("min-size", defaults.MinSize, "Connections opened eagerly and kept by maintenance")
	flags.Int("max-size", defaults.MaxSize, "Maximum number of connections")
	flags.Duration("checkout-timeout", defaults.CheckoutTimeout, "How long a checkout waits for a connection")
	flags.Duration("max-lifetime", defaults.MaxLifetime, "Maximum connection age (0 disables)")
	flags.Duration("max-idle-time", defaults.MaxIdleTime, "Maximum time a connection may stay idle (0 disables)")
	flags.String("validation-probe", defaults.ValidationProbe, "Statement run before reusing an idle connection")
	flags.Int("workers", defaults.Workers, "Concurrent async checkouts (0 means max-size)")
	flags.Duration("maintenance-interval", defaults.MaintenanceInterval, "Background maintenance interval (0 disables)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(newCheckCommand(a), newBenchCommand(a))
	return root
}

// load merges flags, CONNPOOL_* environment variables and the optional
// config file into a.cfg.
func (a *app) load(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := a.v.BindPFlag(key, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(a.v.GetString("log_level"))
	if err != nil {
		return err
	}
	a.logger = logger

	if a.metricsAddr != "" {
		a.serveMetrics()
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	conf := zap.NewProductionConfig()
	conf.Level = lvl
	logger, err := conf.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func (a *app) serveMetrics() {
	a.registry = prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", a.metricsAddr))
}

func (a *app) options() []connpool.Option {
	opts := []connpool.Option{connpool.WithLogger(a.logger)}
	if a.registry != nil {
		opts = append(opts, connpool.WithObserver(connpool.NewPrometheusObserver(a.registry, "")))
	}
	return opts
}

func (a *app) shutdown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statsReport is the JSON form of connpool.Stats.
type statsReport struct {
	Active             int    `json:"active"`
	Idle               int    `json:"idle"`
	Waiting            int    `json:"waiting"`
	CreatedTotal       uint64 `json:"created_total"`
	DestroyedTotal     uint64 `json:"destroyed_total"`
	CheckoutsTotal     uint64 `json:"checkouts_total"`
	TimeoutsTotal      uint64 `json:"timeouts_total"`
	ValidationFailures uint64 `json:"validation_failures"`
}

func newStatsReport(s connpool.Stats) statsReport {
	return statsReport{
		Active:             s.Active,
		Idle:               s.Idle,
		Waiting:            s.Waiting,
		CreatedTotal:       s.CreatedTotal,
		DestroyedTotal:     s.DestroyedTotal,
		CheckoutsTotal:     s.CheckoutsTotal,
		TimeoutsTotal:      s.TimeoutsTotal,
		ValidationFailures: s.ValidationFailures,
	}
}
