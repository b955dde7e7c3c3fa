// Package bootstrap wires all dependencies and runs the pipeline: counter
// and durable stores, queues, batchers, aggregator, fan-out hub, and the
// HTTP surface.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/adapters/clock"
	"github.com/evntfy/evntfy/adapters/idgen"
	"github.com/evntfy/evntfy/adapters/memory"
	"github.com/evntfy/evntfy/adapters/metrics"
	"github.com/evntfy/evntfy/adapters/mongo"
	"github.com/evntfy/evntfy/adapters/redis"
	"github.com/evntfy/evntfy/adapters/sqlite"
	"github.com/evntfy/evntfy/adapters/ws"
	"github.com/evntfy/evntfy/app"
	"github.com/evntfy/evntfy/config"
	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
	"github.com/evntfy/evntfy/web"
)

// App is the assembled, running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Hub        *ws.Hub

	Events ports.EventStore
	Keys   ports.KeyStore

	holder *config.Holder

	counters   ports.UsageCounterStore
	meter      *app.Meter
	ingest     *app.IngestBatcher
	fanout     *app.FanoutBatcher
	aggregator *app.Aggregator
	persistQ   *queue.Queue
	broadcastQ *queue.Queue
	usageQ     *queue.Queue

	counterCloser func() error
	storageCloser func() error
}

// New assembles the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing evntfy")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	a.initPipeline()
	a.initHTTPServer()

	return a, nil
}

// NewFromFile loads configuration from a YAML file and assembles the
// application with hot reload enabled: file watch plus SIGHUP.
func NewFromFile(path string) (*App, error) {
	holder, err := config.NewHolder(path, setupLogger(config.LoggingConfig{Level: "info", Format: "json"}))
	if err != nil {
		return nil, err
	}

	a, err := New(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	a.holder = holder

	holder.OnChange(a.applyReload)
	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	holder.WatchSignals()

	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Counter.Mode {
	case "redis":
		store, err := redis.Connect(ctx, cfg.Counter.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.counters = store
		a.counterCloser = store.Close
		a.Logger.Info().Msg("redis usage counters connected")
	default:
		a.counters = memory.NewUsageCounterStore()
		a.Logger.Warn().Msg("in-memory usage counters, single process only")
	}

	switch cfg.Storage.Driver {
	case "mongo":
		store, err := mongo.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDB)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close(ctx)
			return fmt.Errorf("migrate mongo: %w", err)
		}
		a.Events = store
		a.Keys = store
		a.storageCloser = func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return store.Close(closeCtx)
		}
		a.Logger.Info().Str("db", cfg.Storage.MongoDB).Msg("mongo storage connected")
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLite)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		a.Events = sqlite.NewEventStore(db)
		a.Keys = sqlite.NewKeyStore(db)
		a.storageCloser = db.Close
		a.Logger.Info().Str("path", cfg.Storage.SQLite).Msg("sqlite storage opened")
	default:
		store := memory.NewEventStore()
		a.Events = store
		a.Keys = store
		a.Logger.Warn().Msg("in-memory storage, events are not durable")
	}

	return nil
}

func (a *App) initPipeline() {
	cfg := a.Config

	if cfg.Prometheus.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Str("path", cfg.Prometheus.Path).Msg("prometheus metrics enabled")
	}

	if a.Metrics != nil {
		a.Hub = ws.NewHubWithMetrics(a.Logger, a.Metrics)
	} else {
		a.Hub = ws.NewHub(a.Logger)
	}

	qcfg := queue.Config{
		Workers:     cfg.Queues.Workers,
		MaxAttempts: cfg.Queues.MaxAttempts,
		Backoff:     cfg.Queues.Backoff,
		Capacity:    cfg.Queues.Capacity,
	}
	if a.Metrics != nil {
		qcfg.Hooks.OnRetry, qcfg.Hooks.OnDeadLetter = a.Metrics.QueueHooks()
	}

	a.persistQ = queue.New("persist", qcfg,
		a.instrument("persist", app.PersistHandler(a.Events, a.Logger)), a.Logger)
	a.usageQ = queue.New("usage_sync", qcfg, app.UsageSyncHandler(a.Keys), a.Logger)

	// Fan-out is fire-and-forget; a failed push is stale the moment it
	// misses, so this queue never retries.
	bqcfg := qcfg
	bqcfg.MaxAttempts = 1
	a.broadcastQ = queue.New("broadcast", bqcfg,
		a.instrument("fanout", app.BroadcastHandler(a.Hub)), a.Logger)

	a.meter = app.NewMeter(a.counters, a.usageQ, cfg.Usage.SyncEvery, a.Logger)

	a.ingest = app.NewIngestBatcher(a.persistQ, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, a.Logger)
	a.fanout = app.NewFanoutBatcher(a.broadcastQ, cfg.Fanout.BatchSize, cfg.Fanout.FlushInterval, a.Logger)
	a.aggregator = app.NewAggregator(app.AggregatorConfig{
		WindowMinutes:       cfg.Metrics.WindowMinutes,
		InactivityThreshold: cfg.Metrics.InactivityThreshold,
		SnapshotInterval:    cfg.Metrics.SnapshotInterval,
		LiveRingSize:        cfg.Metrics.LiveRingSize,
	}, clock.Real{}, a.Hub, a.Logger)
}

func (a *App) initHTTPServer() {
	cfg := a.Config

	coordinator := app.NewCoordinator(a.Keys, a.meter, a.ingest, a.aggregator, a.fanout,
		clock.Real{}, idgen.UUID{}, a.Logger)

	metricsPath := ""
	if cfg.Prometheus.Enabled {
		metricsPath = cfg.Prometheus.Path
	}

	handler := web.NewHandler(web.Deps{
		Coordinator: coordinator,
		Aggregator:  a.aggregator,
		Hub:         a.Hub,
		Events:      a.Events,
		Keys:        a.Keys,
		Clock:       clock.Real{},
		Logger:      a.Logger,
		Metrics:     a.Metrics,
		MetricsPath: metricsPath,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// instrument wraps a queue handler with batch size observations.
func (a *App) instrument(stage string, next queue.Handler) queue.Handler {
	if a.Metrics == nil {
		return next
	}
	return func(ctx context.Context, payload any) error {
		var size int
		switch p := payload.(type) {
		case []event.Event:
			size = len(p)
		case app.BroadcastJob:
			size = len(p.Events)
		}
		if size > 0 {
			a.Metrics.BatchFlushes.WithLabelValues(stage).Inc()
			a.Metrics.BatchSize.WithLabelValues(stage).Observe(float64(size))
		}
		return next(ctx, payload)
	}
}

// applyReload pushes reloadable config fields into the running pipeline.
func (a *App) applyReload(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	a.meter.SetSyncEvery(cfg.Usage.SyncEvery)
	a.aggregator.Reconfigure(app.AggregatorConfig{
		WindowMinutes:       cfg.Metrics.WindowMinutes,
		InactivityThreshold: cfg.Metrics.InactivityThreshold,
		SnapshotInterval:    cfg.Metrics.SnapshotInterval,
		LiveRingSize:        cfg.Metrics.LiveRingSize,
	})

	a.Logger.Info().Strs("fields", config.ReloadableFields()).Msg("runtime config applied")
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a server
// error, then shuts down.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops intake first, then flushes every buffered stage before
// closing the stores, so admitted events are not lost on the way out.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Hub != nil {
		a.Hub.Close()
	}

	if a.ingest != nil {
		a.ingest.Close()
	}
	if a.fanout != nil {
		a.fanout.Close()
	}
	if a.aggregator != nil {
		a.aggregator.Close()
	}

	if a.persistQ != nil {
		a.persistQ.Close()
	}
	if a.broadcastQ != nil {
		a.broadcastQ.Close()
	}
	if a.usageQ != nil {
		a.usageQ.Close()
	}

	if a.counterCloser != nil {
		if err := a.counterCloser(); err != nil {
			a.Logger.Error().Err(err).Msg("counter store close error")
		}
	}
	if a.storageCloser != nil {
		if err := a.storageCloser(); err != nil {
			a.Logger.Error().Err(err).Msg("storage close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
