// Package scheduler runs the reconciliation cycle on a fixed period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// CycleFunc runs one complete cycle. The context it receives is never
// cancelled by a stop request, so a started cycle always finishes.
type CycleFunc func(ctx context.Context)

// Config configures a Loop.
type Config struct {
	// Interval between cycle starts.
	Interval time.Duration

	// ShutdownTimeout bounds how long Run waits for an in-flight cycle
	// after ctx is cancelled.
	ShutdownTimeout time.Duration

	// Clock drives the schedule. Defaults to the real clock.
	Clock clockwork.Clock
}

// Loop runs a CycleFunc every Interval, never overlapping cycles.
type Loop struct {
	cfg    Config
	cycle  CycleFunc
	logger *zap.Logger
}

// New creates a loop.
func New(cfg Config, cycle CycleFunc, logger *zap.Logger) (*Loop, error) {
	if cycle == nil {
		return nil, errors.New("scheduler: cycle is nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %v", cfg.Interval)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Loop{cfg: cfg, cycle: cycle, logger: logger.Named("scheduler")}, nil
}

// Run starts the first cycle immediately and then one per interval. It
// blocks until ctx is cancelled, then waits for any in-flight cycle.
func (l *Loop) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler(
		gocron.WithClock(l.cfg.Clock),
		gocron.WithStopTimeout(l.cfg.ShutdownTimeout),
		gocron.WithLogger(gocronLogger{l.logger.Sugar()}),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	cycleCtx := context.WithoutCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(l.cfg.Interval),
		gocron.NewTask(func() { l.tick(cycleCtx) }),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule reconcile job: %w", err)
	}

	s.Start()
	l.logger.Info("Poll loop started", zap.Duration("interval", l.cfg.Interval))

	<-ctx.Done()

	l.logger.Info("Stop requested, waiting for in-flight cycle",
		zap.Duration("timeout", l.cfg.ShutdownTimeout))
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	l.logger.Info("Poll loop stopped")
	return nil
}

// tick runs one cycle with panic recovery so the schedule survives.
func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if v := recover(); v != nil {
			l.logger.Error("Cycle panicked",
				zap.Any("panic", v),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	l.cycle(ctx)
}

// gocronLogger adapts zap to gocron.Logger.
type gocronLogger struct {
	s *zap.SugaredLogger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }

var _ gocron.Logger = gocronLogger{}
