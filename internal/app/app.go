// Package app assembles the reviewd components from a Config and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/AltairaLabs/codereview-mcp/internal/cache"
	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/dispatch"
	"github.com/AltairaLabs/codereview-mcp/internal/review"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
	"github.com/AltairaLabs/codereview-mcp/internal/server"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/telemetry"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// App owns every long-lived component of a running reviewd
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	telemetry    *telemetry.Telemetry
	registry     *scanner.Registry
	runner       *scanner.Runner
	cache        *cache.ReviewCache
	orchestrator *review.Orchestrator
	sessions     *session.Manager
	dispatcher   *dispatch.Dispatcher
	server       *server.Server

	closeOnce sync.Once
	closeErr  error
}

// NewLogger builds the process logger. debug forces the debug level.
func NewLogger(cfg config.LoggingConfig, debug bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" || (cfg.Format == "auto" && isTerminal(w)) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewRegistry loads the scanner catalog and builds an unprobed registry
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*scanner.Registry, error) {
	catalog, err := scanner.LoadCatalog(cfg.Scanners.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load scanner catalog: %w", err)
	}
	return scanner.NewRegistry(catalog,
		scanner.WithDisabled(cfg.Scanners.Disabled...),
		scanner.WithDefaultTimeouts(cfg.Scanners.ProbeTimeout, cfg.Scanners.DefaultTimeout),
		scanner.WithLogger(logger),
	), nil
}

// New wires the components. Nothing listens until Run.
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, version: version, logger: logger}

	tel, err := telemetry.Init(telemetry.Config{
		Version: version,
		Metrics: cfg.Telemetry.Metrics,
		Tracing: cfg.Telemetry.Tracing,
	})
	if err != nil {
		return nil, err
	}
	a.telemetry = tel

	registry, err := NewRegistry(cfg, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	a.registry = registry
	a.runner = scanner.NewRunner(cfg.Review.MaxInFlight, scanner.WithRunnerLogger(logger))
	a.cache = cache.New(cfg.Review.CacheTTL)

	a.orchestrator = review.NewOrchestrator(registry, a.runner, review.Options{
		MaxParallel: cfg.Review.MaxParallel,
		Deadline:    cfg.Review.Deadline,
		DedupWindow: cfg.Review.DedupWindow,
		Cache:       a.cache,
		FailOn:      failOn(cfg.Review.FailOn),
		Logger:      logger,
	})

	a.sessions = session.NewManager(session.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		QueueSize:     cfg.Session.QueueSize,
		Logger:        logger,
	})

	a.dispatcher = dispatch.New(a.sessions, dispatch.Options{
		Workers:   cfg.Review.Workers,
		QueueSize: cfg.Review.QueueSize,
		Logger:    logger,
	})

	a.server = server.New(server.Deps{
		Sessions: a.sessions,
		Queue:    a.dispatcher,
		Methods:  dispatch.DefaultMethods(a.orchestrator, registry),
		Scanners: registry,
		Metrics:  metricsHandler(cfg, tel),
		Logger:   logger,
	}, server.Options{
		Name:            telemetry.ServiceName,
		Version:         version,
		HTTPAddr:        cfg.Server.HTTPAddr,
		GRPCAddr:        cfg.Server.GRPCAddr,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		KeepAlive:       cfg.Server.KeepAlive,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	return a, nil
}

// Server exposes the transport layer
func (a *App) Server() *server.Server {
	return a.server
}

// Registry exposes the scanner registry
func (a *App) Registry() *scanner.Registry {
	return a.registry
}

// Run probes the scanners, starts the workers and catalog watcher, and serves
// until ctx is done. Components are shut down before it returns.
func (a *App) Run(ctx context.Context) error {
	available := a.registry.Refresh(ctx)
	a.logger.Info("Scanner discovery complete",
		"available", scanner.Names(available),
		"catalogued", len(a.registry.Describe()),
	)
	if len(available) == 0 {
		a.logger.Warn("No scanners available, reviews will use built-in fallback checks")
	}

	a.dispatcher.Start()

	if path := a.cfg.Scanners.CatalogFile; path != "" && a.cfg.Scanners.Watch {
		w, err := scanner.NewCatalogWatcher(path, a.registry, a.logger)
		if err != nil {
			a.logger.Warn("Catalog watcher disabled", "path", path, "error", err)
		} else {
			w.OnReload(func([]scanner.Descriptor) { a.cache.Clear() })
			go w.Run(ctx)
		}
	}

	a.logger.Info("Starting reviewd",
		"version", a.version,
		"http_addr", a.cfg.Server.HTTPAddr,
		"grpc_addr", a.cfg.Server.GRPCAddr,
	)
	serveErr := a.server.Run(ctx)

	// the listener context is already done; flush telemetry on a fresh one
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

// Close stops the workers and session actor and flushes telemetry. Queued
// jobs complete as stopped errors before the sessions close.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.dispatcher.Stop()
		a.sessions.Shutdown()
		a.cache.Close()
		a.closeErr = a.telemetry.Shutdown(ctx)
	})
	return a.closeErr
}

func metricsHandler(cfg *config.Config, tel *telemetry.Telemetry) http.Handler {
	if !cfg.Telemetry.Metrics {
		return nil
	}
	return tel.Handler()
}

func failOn(raw string) types.Severity {
	if raw == "" {
		return ""
	}
	return types.ParseSeverity(raw)
}
