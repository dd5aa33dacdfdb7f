// Package cmd provides the CLI commands for docindex.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/profiling"
	"github.com/Aman-CERP/docindex/pkg/docindex"
	"github.com/Aman-CERP/docindex/pkg/version"
)

// globalOptions holds the persistent flags and the resources they start.
type globalOptions struct {
	dir         string
	debug       bool
	metricsAddr string
	profile     profiling.Options

	logger         *slog.Logger
	loggingCleanup func()
	profiler       *profiling.Session
	registry       *prometheus.Registry
	metricsServer  *http.Server
}

// NewRootCmd creates the root command for the docindex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "docindex",
		Short: "Incrementally indexed document database",
		Long: `docindex stores JSON documents and keeps map/reduce indexes over them
up to date in the background. Queries can read an index immediately or wait
until it has caught up with the last write.

Indexes are declared in .docindex.yaml and rebuilt from the store's change
feed whenever the database is opened.`,
		Version:           version.Short(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.start,
		PersistentPostRun: func(*cobra.Command, []string) { g.stop() },
	}
	cmd.SetVersionTemplate("docindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory holding .docindex.yaml")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.docindex/logs/")
	cmd.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newLoadCmd(g))
	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newStressCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// Execute runs the root command. Profiles and the metrics server are
// stopped even when the command fails.
func Execute() error {
	cmd, g := newRootCmd()
	defer g.stop()
	return cmd.Execute()
}

// start sets up logging, profiling and the metrics endpoint.
func (g *globalOptions) start(cmd *cobra.Command, _ []string) error {
	// Rotation limits and a debug level may come from the project or user
	// config. A broken config is reported later by the command that opens it.
	logCfg := logging.DebugConfig()
	if cfg, err := config.Load(g.dir); err == nil {
		logCfg = logCfg.WithRotation(cfg.Logging.MaxSizeMB, cfg.Logging.MaxFiles)
		if logging.LevelFromString(cfg.Logging.Level) == slog.LevelDebug {
			g.debug = true
		}
	}

	if g.debug {
		logger, cleanup, err := logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.logger, g.loggingCleanup = logger, cleanup
		slog.SetDefault(logger)
		logger.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Short()),
			slog.String("command", cmd.CommandPath()))
	} else {
		g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	if g.profile.Enabled() {
		p, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = p
	}

	if g.metricsAddr != "" {
		if err := g.serveMetrics(); err != nil {
			return err
		}
	}
	return nil
}

func (g *globalOptions) serveMetrics() error {
	g.registry = prometheus.NewRegistry()
	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", g.metricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.metricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	g.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := g.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Warn("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	g.logger.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))
	return nil
}

func (g *globalOptions) stop() {
	if g.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = g.metricsServer.Shutdown(ctx)
		cancel()
		g.metricsServer = nil
	}
	if g.profiler != nil {
		if err := g.profiler.Stop(); err != nil {
			g.log().Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.log().Info("debug_logging_stopped")
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// open opens the project database with the CLI logger and metrics registry.
func (g *globalOptions) open(ctx context.Context) (*docindex.DB, error) {
	opts := []docindex.Option{docindex.WithLogger(g.log())}
	if g.registry != nil {
		opts = append(opts, docindex.WithRegisterer(g.registry))
	}
	return docindex.Open(ctx, g.dir, opts...)
}

func (g *globalOptions) log() *slog.Logger {
	if g.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return g.logger
}
