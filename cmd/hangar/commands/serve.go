package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mapyr/mcp-hangar/internal/config"
	"github.com/mapyr/mcp-hangar/internal/dispatch"
	"github.com/mapyr/mcp-hangar/internal/events"
	"github.com/mapyr/mcp-hangar/internal/gc"
	"github.com/mapyr/mcp-hangar/internal/health"
	"github.com/mapyr/mcp-hangar/internal/logs"
	"github.com/mapyr/mcp-hangar/internal/registry"
	"github.com/mapyr/mcp-hangar/internal/server"
	"github.com/mapyr/mcp-hangar/internal/telemetry"
)

type serveOptions struct {
	configPath        string
	transport         string
	port              int
	rps               int
	burst             int
	globalConcurrency int64
	gcInterval        time.Duration
	healthInterval    time.Duration
	metricsInterval   time.Duration
	defaultMaxFailures int
	watch             bool
	verbose           bool
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{
		transport:          "stdio",
		rps:                0,
		burst:              0,
		gcInterval:         30 * time.Second,
		healthInterval:     30 * time.Second,
		metricsInterval:    15 * time.Second,
		defaultMaxFailures: 3,
		watch:              true,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, exposing the registered providers over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.transport == "stdio" && opts.port != 0 {
				return fmt.Errorf("%w: cannot use --port with --transport=stdio", ErrUsage)
			}
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the hangar config file (searches MCP_HANGAR_CONFIG, ~/.config/mcp-hangar/, ./hangar.yaml if unset)")
	cmd.Flags().StringVar(&opts.transport, "transport", opts.transport, "stdio or http")
	cmd.Flags().IntVar(&opts.port, "port", opts.port, "TCP port for the http transport (rejected with --transport=stdio)")
	cmd.Flags().IntVar(&opts.rps, "rate-limit-rps", opts.rps, "Global dispatch rate limit in requests/second (0 disables)")
	cmd.Flags().IntVar(&opts.burst, "rate-limit-burst", opts.burst, "Token bucket burst size (defaults to rate-limit-rps)")
	cmd.Flags().Int64Var(&opts.globalConcurrency, "max-concurrency", opts.globalConcurrency, "Global in-flight call cap (0 disables)")
	cmd.Flags().DurationVar(&opts.gcInterval, "gc-interval", opts.gcInterval, "Idle GC sweep interval")
	cmd.Flags().DurationVar(&opts.healthInterval, "health-interval", opts.healthInterval, "Health Worker probe interval")
	cmd.Flags().IntVar(&opts.defaultMaxFailures, "max-consecutive-failures", opts.defaultMaxFailures, "Health Tracker fallback max_consecutive_failures for ids with no configured threshold (loaded providers always get one from the config, which defaults it to 3)")
	cmd.Flags().BoolVar(&opts.watch, "watch", opts.watch, "Watch the config file and discover newly-declared providers/groups")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", opts.verbose, "Verbose logging")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger := logs.New(opts.verbose)

	f, resolvedPath, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUsage, err)
	}
	logger.Info("configuration loaded", "path", resolvedPath, "providers", len(f.Providers))

	bus := events.New()
	tracker := health.New(bus, opts.defaultMaxFailures)
	reg := registry.New(bus, tracker, nil)
	if err := reg.LoadFromConfig(f); err != nil {
		return fmt.Errorf("%w: %s", ErrUsage, err)
	}

	rps := opts.rps
	if rps == 0 {
		rps = f.RateLimit.RPS
	}
	dispatcher := dispatch.New(reg, tracker, bus, rps, opts.burst, opts.globalConcurrency)

	shutdownTelemetry, instruments, err := telemetry.Init("mcp-hangar")
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	bridge := telemetry.NewBridge(bus, instruments)
	go bridge.Run(ctx)
	go telemetry.ForceFlushLoop(ctx, opts.metricsInterval)

	if f.HealthCheck.Enabled {
		healthWorker := health.NewWorker(tracker, reg, reg, time.Duration(f.HealthCheck.IntervalS)*time.Second)
		go healthWorker.Run(ctx)
	}

	idleTTL := func(providerID string) time.Duration {
		spec, ok := reg.Spec(providerID)
		if !ok {
			return 300 * time.Second
		}
		return spec.IdleTTL()
	}
	gcWorker := gc.NewWorker(reg, bus, idleTTL, opts.gcInterval)
	go gcWorker.Run(ctx)

	if opts.watch {
		updates, stopWatch, err := config.Watch(ctx, resolvedPath, logger)
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer func() { _ = stopWatch() }()
			go func() {
				for updated := range updates {
					added, err := reg.Discover(updated)
					if err != nil {
						logger.Warn("config reload: discover failed", "error", err)
						continue
					}
					if len(added) > 0 {
						logger.Info("config reload: discovered new providers/groups", "added", added)
					}
				}
			}()
		}
	}

	srv := server.New(reg, dispatcher, tracker, bus, opts.configPath)

	switch opts.transport {
	case "stdio":
		logger.Info("starting stdio transport")
		return srv.RunStdio(ctx)

	case "http":
		port := opts.port
		if port == 0 {
			port = 8811
		}
		addr := fmt.Sprintf(":%d", port)
		mux := srv.Mux(telemetry.MetricsHandler())
		httpServer := &http.Server{Addr: addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		logger.Info("starting http transport", "addr", addr)

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}

	default:
		return fmt.Errorf("%w: unknown transport %q, expected 'stdio' or 'http'", ErrUsage, opts.transport)
	}
}
