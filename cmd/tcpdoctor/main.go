package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/iolloyd/tcpdoctor/internal/config"
	"github.com/iolloyd/tcpdoctor/internal/coordinator"
	"github.com/iolloyd/tcpdoctor/internal/logging"
	"github.com/iolloyd/tcpdoctor/internal/recording"
	"github.com/iolloyd/tcpdoctor/internal/telemetry"
	"github.com/iolloyd/tcpdoctor/internal/ui"
	"github.com/iolloyd/tcpdoctor/internal/websocket"
)

type options struct {
	configPath  string
	daemon      string
	interval    time.Duration
	logFile     string
	logLevel    string
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newCommand(&options{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tcpdoctor",
		Short:        "Inspect TCP connections and their health in a terminal dashboard",
		Long:         `tcpdoctor lists the host's TCP connections with RTT, bandwidth and retransmit counters, records sessions and replays them.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.Flags(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "configuration file")
	flags.StringVarP(&opts.daemon, "daemon", "d", "", "read connections from a tcpdoctor-daemon (host:port or ws:// URL)")
	flags.DurationVarP(&opts.interval, "interval", "i", coordinator.DefaultPollInterval, "poll interval")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of the user cache directory")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error or vN")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

// applyFlags overrides the file configuration with explicitly set flags
func applyFlags(cfg *config.Config, flags *pflag.FlagSet, opts *options) {
	if flags.Changed("daemon") {
		cfg.Daemon = opts.daemon
	}
	if flags.Changed("interval") {
		cfg.PollInterval = max(opts.interval, coordinator.MinPollInterval)
	}
	if flags.Changed("log-file") {
		cfg.Log.Path = opts.logFile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
}

func run(ctx context.Context, flags *pflag.FlagSet, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, flags, opts)

	logger, closer, err := logging.New(logging.Options{
		Path:       cfg.Log.Path,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	source, description, closeSource, err := newSource(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Error(err, "Closing connection source failed")
		}
	}()

	clk := clock.New()
	recorder := recording.NewRecorder(recording.Options{MaxEntries: cfg.MaxSessionEntries, Clock: clk, Logger: logger})
	coord := coordinator.New(coordinator.Options{
		Source:     source,
		Recorder:   recorder,
		Interval:   cfg.PollInterval,
		Criteria:   cfg.Criteria(),
		Clock:      clk,
		Logger:     logger,
		Registerer: reg,
	})
	model := ui.New(ui.Options{
		Coordinator:   coord,
		Recorder:      recorder,
		Source:        description,
		HistoryPoints: cfg.HistoryPoints,
		Clock:         clk,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))

	g.Go(func() error {
		err := config.Watch(gctx, opts.configPath, logger, func(c *config.Config) {
			program.Send(ui.ConfigReloadedMsg{Config: c})
		})
		if err != nil {
			// The dashboard runs fine without live reload.
			logger.Info("Configuration reload disabled", "reason", err.Error())
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			return serve(gctx, srv, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})

	logger.Info("Dashboard started", "source", description, "pollInterval", cfg.PollInterval)
	err = g.Wait()
	coord.Stop()
	return err
}

func newSource(cfg *config.Config, logger logr.Logger) (coordinator.Source, string, func() error, error) {
	if cfg.Daemon != "" {
		client, err := websocket.NewClient(cfg.Daemon, websocket.ClientOptions{Logger: logger})
		if err != nil {
			return nil, "", nil, fmt.Errorf("daemon address: %w", err)
		}
		return client, client.URL(), client.Close, nil
	}
	local := telemetry.NewLocalSource(telemetry.LocalOptions{Logger: logger})
	return local, "local", func() error { return nil }, nil
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, srv *http.Server, logger logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
