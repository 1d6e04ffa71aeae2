// topod daemon -- SDN topology discovery and link-liveness engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gotopo/internal/config"
	"github.com/dantte-lp/gotopo/internal/engine"
	topometrics "github.com/dantte-lp/gotopo/internal/metrics"
	"github.com/dantte-lp/gotopo/internal/server"
	"github.com/dantte-lp/gotopo/internal/store"
	"github.com/dantte-lp/gotopo/internal/topology"
	appversion "github.com/dantte-lp/gotopo/internal/version"
	"github.com/dantte-lp/gotopo/pkg/topoapi"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// commandBuffer is the per-stream buffer of outbound commands.
const commandBuffer = 1024

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("topod starting",
		slog.String("version", appversion.Version),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Any("regions", cfg.Speaker.Regions),
	)

	fr := startFlightRecorder(logger)

	// 4. Open the repository.
	repo, err := openStore(context.Background(), cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}()

	// 5. Metrics, command transport and engine.
	reg := prometheus.NewRegistry()
	collector := topometrics.NewCollector(reg)
	commands := server.NewCommandHub(commandBuffer, logger)

	eng, err := engine.New(engineConfig(cfg), repo, commands,
		engine.WithLogger(logger),
		engine.WithMetrics(collector),
	)
	if err != nil {
		logger.Error("failed to create engine", slog.String("error", err.Error()))
		return 1
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gotopo",
		Subsystem: "engine",
		Name:      "discriminators_allocated",
		Help:      "Number of BFD discriminators currently allocated.",
	}, func() float64 { return float64(eng.Discriminators()) }))

	// 6. Run servers.
	if err := runServers(cfg, eng, commands, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("topod exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("topod stopped")
	return 0
}

// runServers starts the engine, the API and metrics HTTP servers and the
// systemd helpers in an errgroup with a signal-aware context.
func runServers(
	cfg *config.Config,
	eng *engine.Engine,
	commands *server.CommandHub,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	apiSrv := newAPIServer(cfg.API, eng, commands, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gCtx)
	})

	// Warm start: persisted switches come up OFFLINE until their region
	// reports them.
	if err := eng.LoadHistory(gCtx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("load history: %w", err)
	}

	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("API server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.API.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Engine and Store Setup
// -------------------------------------------------------------------------

// engineConfig maps the daemon configuration onto the engine's parameters.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:           cfg.Engine.Workers,
		TickInterval:      cfg.Engine.TickInterval,
		PersistQueue:      cfg.Engine.PersistQueue,
		Regions:           cfg.Speaker.Regions,
		ProbeInterval:     cfg.Discovery.Interval,
		ProbeTimeout:      cfg.Discovery.Timeout,
		FailWindow:        cfg.Discovery.FailWindow,
		OutageTimeout:     cfg.Speaker.OutageTimeout,
		DumpTimeout:       cfg.Speaker.DumpTimeout,
		AliveInterval:     cfg.Speaker.AliveInterval,
		AliveTimeout:      cfg.Speaker.AliveTimeout,
		RequestTimeout:    cfg.Requests.Timeout,
		BlacklistTTL:      cfg.Requests.BlacklistTTL,
		BlacklistSize:     cfg.Requests.BlacklistSize,
		DiscriminatorMin:  cfg.BFD.DiscriminatorMin,
		DiscriminatorMax:  cfg.BFD.DiscriminatorMax,
		LogicalPortOffset: cfg.BFD.LogicalPortOffset,
		Bfd: topology.BfdSettings{
			Interval:       cfg.BFD.Interval,
			Multiplier:     cfg.BFD.Multiplier,
			SpeakerTimeout: cfg.BFD.SpeakerTimeout,
		},
	}
}

// openStore opens the SQLite repository at cfg.Path, or an in-memory
// repository when no path is configured.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Repository, error) {
	if cfg.Path == "" {
		logger.Warn("no store path configured, topology history will not survive restarts")
		return store.NewMemory(), nil
	}

	repo, err := store.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	logger.Info("sqlite store opened", slog.String("path", cfg.Path))
	return repo, nil
}

// -------------------------------------------------------------------------
// Systemd Integration - sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured WatchdogSec. If watchdog is not configured, the goroutine exits
// immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload - log level
// -------------------------------------------------------------------------

// handleSIGHUP reloads the configuration on every SIGHUP until ctx is
// cancelled. Only the log level is applied at runtime; engine parameters
// need a restart.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration and updates the log level. Errors
// are logged and the previous configuration stays in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, stops the flight recorder and shuts down
// the HTTP servers. The engine stops on its own when the group context is
// cancelled and flushes queued repository writes.
//
// The parent context is already cancelled when this function is called.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder - runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder keeps a rolling window of execution trace data for
// post-mortem debugging of stalled workers.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAPIServer creates the HTTP server of the topology service. The handler
// is wrapped with h2c so that streaming clients can use HTTP/2 without TLS.
// Includes standard gRPC health checking (grpc.health.v1).
func newAPIServer(cfg config.APIConfig, eng *engine.Engine, commands *server.CommandHub, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(eng, commands, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		topoapi.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
