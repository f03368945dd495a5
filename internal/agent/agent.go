package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stone-age-io/svcmon/internal/config"
	"github.com/stone-age-io/svcmon/internal/journal"
	"github.com/stone-age-io/svcmon/internal/metrics"
	natsclient "github.com/stone-age-io/svcmon/internal/nats"
	"github.com/stone-age-io/svcmon/internal/reconcile"
	"github.com/stone-age-io/svcmon/internal/scheduler"
	"github.com/stone-age-io/svcmon/internal/services"
	"github.com/stone-age-io/svcmon/internal/store/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// bannerTime formats the start and end banner timestamps.
const bannerTime = "2006-01-02 15:04:05.000000"

// Agent owns the monitor's components and implements service.Interface
type Agent struct {
	config   *config.Config
	logger   *zap.Logger
	system   journal.SystemLogger
	store    *sqlite.DB
	journal  *journal.Journal
	engine   *reconcile.Engine
	loop     *scheduler.Loop
	registry *prometheus.Registry
	nats     *natsclient.Client
	version  string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// Options controls how the agent is hosted
type Options struct {
	Version string

	// System receives errors the text log cannot take. May be nil.
	System journal.SystemLogger

	// Stdout adds a console core, used when running from a terminal.
	Stdout bool
}

// New validates the environment and wires every component. A
// ConfigurationError is returned when the store cannot be created.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	if err := journal.CheckDestination(cfg.LogDestination); err != nil {
		// Not fatal; zap reports later write failures through the fallback sink
		if opts.System != nil {
			_ = opts.System.Error(err.Error())
		}
	}

	logger, err := initLogger(cfg, opts.Stdout, opts.System)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	svcHost, err := services.NewHost(logger, services.Options{
		CallTimeout: cfg.Poll.CallTimeout,
		TypeFilter:  cfg.Poll.TypeFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open service manager: %w", err)
	}

	return newAgent(cfg, opts, logger, svcHost)
}

// serviceHost is the platform service manager
type serviceHost interface {
	services.Inventory
	services.Controller
	services.MetadataProvider
}

func newAgent(cfg *config.Config, opts Options, logger *zap.Logger, svcHost serviceHost) (*Agent, error) {
	db, err := openStore(cfg.StoreLocation, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a := &Agent{
		config:   cfg,
		logger:   logger,
		system:   opts.System,
		store:    db,
		registry: registry,
		version:  opts.Version,
	}

	journalOpts := []journal.Option{journal.WithOriginator(config.ServiceName)}
	if cfg.NATS.Enabled {
		client, err := natsclient.NewClient(&cfg.NATS, logger)
		if err != nil {
			// Events still reach the store and the text log
			logger.Warn("NATS publisher disabled", zap.Error(err))
		} else {
			a.nats = client
			journalOpts = append(journalOpts, journal.WithPublisher(natsclient.NewPublisher(client, cfg.NATS.DeviceID)))
		}
	}
	a.journal = journal.New(logger, db, journalOpts...)

	actuator := reconcile.NewActuator(reconcile.ActuatorConfig{
		Controller: svcHost,
		Journal:    a.journal,
		Enabled:    cfg.Enforcement.Enabled,
		Recorder:   recorder,
	}, logger)

	a.engine, err = reconcile.New(reconcile.Config{
		Inventory:   svcHost,
		Store:       db,
		Journal:     a.journal,
		Actuator:    actuator,
		Metadata:    svcHost,
		Recorder:    recorder,
		StoreName:   db.Path(),
		ReloadState: cfg.Poll.ReloadState,
		Originator:  config.ServiceName,
	}, logger)
	if err != nil {
		return nil, err
	}

	a.loop, err = scheduler.New(scheduler.Config{
		Interval:        cfg.Poll.Interval,
		ShutdownTimeout: cfg.Poll.ShutdownTimeout,
	}, a.cycle, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openStore creates the store file and schema on first start
func openStore(location string, logger *zap.Logger) (*sqlite.DB, error) {
	db, err := sqlite.New(location, 0, sqlite.WithLogger(logger))
	if err != nil {
		return nil, &config.ConfigurationError{Key: "store_location", Err: err}
	}
	if dir := filepath.Dir(db.Path()); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &config.ConfigurationError{Key: "store_location", Err: err}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureSchema(ctx); err != nil {
		return nil, &config.ConfigurationError{Key: "store_location", Err: err}
	}
	return db, nil
}

// Run logs the start banner, loads the state table and polls until ctx is
// cancelled. A failed load is fatal.
func (a *Agent) Run(ctx context.Context) error {
	startCtx := context.WithoutCancel(ctx)
	a.banner(startCtx)

	if _, err := a.engine.Load(startCtx); err != nil {
		a.logger.Error("Failed to load service definitions", zap.Error(err))
		return fmt.Errorf("failed to load service definitions: %w", err)
	}

	err := a.loop.Run(ctx)
	a.shutdown()
	return err
}

// Start implements service.Interface. It must not block. The process exits
// if the monitor fails after Start has returned.
func (a *Agent) Start(s service.Service) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("agent already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		a.done <- err
		if err != nil && ctx.Err() == nil {
			if a.system != nil {
				_ = a.system.Error(err.Error())
			}
			os.Exit(1)
		}
	}()
	return nil
}

// Stop implements service.Interface. It waits for the in-flight cycle.
func (a *Agent) Stop(s service.Service) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	return <-done
}

// cycle runs one reconciliation pass and refreshes the metrics textfile
func (a *Agent) cycle(ctx context.Context) {
	if _, err := a.engine.RunCycle(ctx); err != nil {
		a.logger.Debug("Cycle ended with errors", zap.Error(err))
	}

	if path := a.config.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(a.registry, path); err != nil {
			a.logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
}

func (a *Agent) banner(ctx context.Context) {
	fields := []zap.Field{
		zap.String("version", a.version),
		zap.String("store", a.store.Path()),
		zap.Duration("interval", a.config.Poll.Interval),
		zap.Bool("enforcement", a.config.Enforcement.Enabled),
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		fields = append(fields,
			zap.String("hostname", info.Hostname),
			zap.String("platform", info.Platform),
			zap.String("platform_version", info.PlatformVersion))
	}
	a.logger.Info("Service monitor starting", fields...)
	a.journal.Appendf(ctx, "", "*** Starting Service Monitor @ %s", a.journal.Now().Format(bannerTime))
}

// shutdown writes the end banner and releases connections. Every step is
// best effort.
func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.journal.Appendf(ctx, "", "*** Ending Service Monitor @ %s", a.journal.Now().Format(bannerTime))

	if a.nats != nil {
		if err := a.nats.Drain(a.config.NATS.DrainTimeout); err != nil {
			a.logger.Error("Error draining NATS", zap.Error(err))
		}
	}

	a.logger.Info("Service monitor stopped")
	_ = a.logger.Sync()
}

// initLogger creates the text log with rotation. Write failures on the file
// are reported to system.
func initLogger(cfg *config.Config, stdout bool, system journal.SystemLogger) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.LogDestination,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level)}
	if stdout {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(journal.NewFallbackSink(system)))

	return logger, nil
}
