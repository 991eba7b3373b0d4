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

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iolloyd/tcpdoctor/internal/config"
	"github.com/iolloyd/tcpdoctor/internal/logging"
	"github.com/iolloyd/tcpdoctor/internal/telemetry"
	"github.com/iolloyd/tcpdoctor/internal/websocket"
)

type options struct {
	configPath     string
	listen         string
	metricsAddr    string
	logFile        string
	logLevel       string
	allowedOrigins []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "tcpdoctor-daemon",
		Short:        "Serve the host's TCP connection table to tcpdoctor dashboards",
		Long:         `tcpdoctor-daemon collects connections with full tcp_info counters, which usually needs root, and answers dashboard requests over websocket.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = opts.listen
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if flags.Changed("log-file") {
				cfg.Log.Path = opts.logFile
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			return run(cmd.Context(), cfg, opts.allowedOrigins)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "configuration file")
	flags.StringVarP(&opts.listen, "listen", "l", config.DefaultListenAddr, "websocket listen address")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on a separate address instead of the listen address")
	flags.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error or vN")
	flags.StringSliceVar(&opts.allowedOrigins, "allowed-origin", nil, "browser origins allowed to connect, default any")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, origins []string) error {
	logger, closer, err := logging.New(logging.Options{
		Path:       cfg.Log.Path,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	source := telemetry.NewLocalSource(telemetry.LocalOptions{Logger: logger})
	server := websocket.NewServer(websocket.ServerOptions{
		Source:         source,
		Logger:         logger,
		Registerer:     reg,
		AllowedOrigins: origins,
	})

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	if cfg.MetricsAddr == "" {
		mux.Handle("/metrics", metricsHandler)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return serve(gctx, &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}, logger)
	})
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		g.Go(func() error {
			return serve(gctx, &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}, logger)
		})
	}

	logger.Info("Daemon started", "listen", cfg.Listen, "metrics", cfg.MetricsAddr)
	if err := g.Wait(); err != nil {
		logger.Error(err, "Daemon stopped")
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, srv *http.Server, logger logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
