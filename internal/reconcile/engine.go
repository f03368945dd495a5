package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/stone-age-io/svcmon/internal/state"
	"github.com/stone-age-io/svcmon/internal/store"
	"go.uber.org/zap"
)

// CycleStats summarizes one reconciliation pass.
type CycleStats struct {
	Observed     int
	Discovered   int
	Ignored      int
	InState      int
	Drifted      int
	StopsIssued  int
	StartsIssued int
	Errors       int
	Duration     time.Duration
}

// Engine diffs host snapshots against the state table. It owns the table
// and is not safe for concurrent use; cycles must be serialized by the
// caller.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	table  state.Table

	// unsaved holds records created in memory whose insert failed, and
	// stale those whose observed state could not be written. Both are
	// retried every cycle until the store accepts them.
	unsaved map[string]struct{}
	stale   map[string]struct{}
}

// New creates an engine. Config defaults are applied automatically.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger.Named("reconcile"),
		table:   state.NewTable(nil),
		unsaved: make(map[string]struct{}),
		stale:   make(map[string]struct{}),
	}, nil
}

// Load builds the state table from the store. Called once at startup.
func (e *Engine) Load(ctx context.Context) (state.Table, error) {
	records, err := e.cfg.Store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state table: %w", err)
	}
	e.table = state.NewTable(records)
	e.cfg.Journal.Appendf(ctx, "", "Loaded %d definitions from %s", len(records), e.cfg.StoreName)
	return e.table, nil
}

// Table returns the engine's state table.
func (e *Engine) Table() state.Table {
	return e.table
}

// RunCycle enumerates the host and reconciles the snapshot against the
// engine's table. An enumeration failure skips the cycle.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	start := e.cfg.Clock.Now()

	snapshot, err := e.cfg.Inventory.Enumerate(ctx)
	if err != nil {
		e.logger.Warn("Service enumeration failed, skipping cycle", zap.Error(err))
		return CycleStats{Errors: 1, Duration: e.cfg.Clock.Since(start)}, err
	}

	var stats CycleStats
	e.table, stats = e.Reconcile(ctx, snapshot, e.table)
	stats.Duration = e.cfg.Clock.Since(start)
	e.cfg.Recorder.CycleCompleted(stats.Duration, stats.Observed)

	fields := []zap.Field{
		zap.Int("observed", stats.Observed),
		zap.Int("discovered", stats.Discovered),
		zap.Int("drifted", stats.Drifted),
		zap.Int("stops_issued", stats.StopsIssued),
		zap.Int("starts_issued", stats.StartsIssued),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.Duration),
	}
	if stats.Discovered+stats.Drifted+stats.Errors == 0 {
		e.logger.Debug("Reconciliation cycle completed", fields...)
	} else {
		e.logger.Info("Reconciliation cycle completed", fields...)
	}
	return stats, nil
}

// Reconcile classifies every observed service against table, in snapshot
// order, and returns the updated table. Each service is handled completely
// before the next; a failure or panic for one service never stops the pass.
func (e *Engine) Reconcile(ctx context.Context, snapshot []state.ObservedService, table state.Table) (state.Table, CycleStats) {
	if table == nil {
		table = state.NewTable(nil)
	}
	stats := CycleStats{Observed: len(snapshot)}

	if e.cfg.ReloadState {
		e.refresh(ctx, table)
	}

	for _, obs := range snapshot {
		if err := e.safeProcess(ctx, obs, table, &stats); err != nil {
			stats.Errors++
			e.logger.Error("Failed to reconcile service",
				zap.String("service", obs.ShortName),
				zap.Error(err))
		}
	}
	return table, stats
}

func (e *Engine) safeProcess(ctx context.Context, obs state.ObservedService, table state.Table, stats *CycleStats) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("reconcile panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return e.process(ctx, obs, table, stats)
}

func (e *Engine) process(ctx context.Context, obs state.ObservedService, table state.Table, stats *CycleStats) error {
	if obs.ShortName == "" {
		return errors.New("service without a short name")
	}

	rec, known := table.Get(obs.ShortName)
	if !known {
		stats.Discovered++
		return e.discover(ctx, obs, table)
	}

	err := e.observe(ctx, rec, obs.State)

	if rec.Ignore.IsSet() {
		stats.Ignored++
		return err
	}
	if rec.ExpectedState.IsEmpty() || obs.State == rec.ExpectedState {
		stats.InState++
		return err
	}

	stats.Drifted++
	e.cfg.Recorder.DriftDetected(rec.ShortName)
	e.cfg.Journal.Appendf(ctx, rec.ShortName, "Service: %s(%s) is %s - not in expectedstate (%s)",
		rec.ShortName, rec.Description, obs.State, rec.ExpectedState)

	switch e.cfg.Actuator.Evaluate(ctx, rec, obs.State) {
	case StopIssued:
		stats.StopsIssued++
	case StartIssued:
		stats.StartsIssued++
	}
	return err
}

// discover creates, persists and announces a record for a new service.
func (e *Engine) discover(ctx context.Context, obs state.ObservedService, table state.Table) error {
	var meta state.Metadata
	if e.cfg.Metadata != nil {
		var err error
		meta, err = e.cfg.Metadata.Lookup(ctx, obs.ShortName)
		if err != nil {
			e.logger.Debug("Service metadata incomplete",
				zap.String("service", obs.ShortName),
				zap.Error(err))
		}
	}

	rec := state.NewRecord(obs, meta, e.cfg.ExpandImagePath, state.Stamp{
		At: e.cfg.Clock.Now(),
		By: e.cfg.Originator,
	})
	table.Put(rec)
	e.cfg.Recorder.ServiceDiscovered()

	var insertErr error
	if err := e.cfg.Store.Insert(ctx, rec); err != nil {
		e.unsaved[rec.ShortName] = struct{}{}
		insertErr = fmt.Errorf("failed to add new service to store: %w", err)
	}

	e.cfg.Journal.Appendf(ctx, rec.ShortName, "New service discovered : %s", rec.ShortName)
	e.cfg.Journal.Appendf(ctx, rec.ShortName, "   - %s", rec.Description)
	if rec.ImagePath != "" {
		e.cfg.Journal.Appendf(ctx, rec.ShortName, "   - path: %s", rec.ImagePath)
	}
	if rec.RunAsAccount != "" {
		e.cfg.Journal.Appendf(ctx, rec.ShortName, "   - running as user: %s", rec.RunAsAccount)
	}
	return insertErr
}

// observe records the latest observed state, persisting it when it changed.
func (e *Engine) observe(ctx context.Context, rec *state.ServiceRecord, observed state.State) error {
	_, stale := e.stale[rec.ShortName]
	changed := stale || rec.LastObservedState != observed
	rec.LastObservedState = observed

	if _, pending := e.unsaved[rec.ShortName]; pending {
		stored, err := e.cfg.Store.Get(ctx, rec.ShortName)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := e.cfg.Store.Insert(ctx, rec); err != nil {
				return fmt.Errorf("retrying insert: %w", err)
			}
			delete(e.unsaved, rec.ShortName)
			e.logger.Info("Stored previously unsaved service", zap.String("service", rec.ShortName))
			return nil
		case err != nil:
			return fmt.Errorf("retrying insert: %w", err)
		}
		// The row exists after all; an earlier insert landed or an operator
		// added it. Adopt the stored operator fields.
		rec.Operator(stored)
		delete(e.unsaved, rec.ShortName)
		changed = stored.LastObservedState != observed
		e.logger.Info("Service already stored, adopting stored row", zap.String("service", rec.ShortName))
	}

	if !changed {
		return nil
	}
	if err := e.cfg.Store.UpdateObservedState(ctx, rec.ShortName, observed); err != nil {
		e.stale[rec.ShortName] = struct{}{}
		return fmt.Errorf("failed to record observed state: %w", err)
	}
	delete(e.stale, rec.ShortName)
	return nil
}

// refresh copies operator-controlled fields from the store into table and
// adds rows an operator created directly. A store failure keeps the
// in-memory values for this cycle.
func (e *Engine) refresh(ctx context.Context, table state.Table) {
	records, err := e.cfg.Store.LoadAll(ctx)
	if err != nil {
		e.logger.Warn("Failed to reload state table, using cached values", zap.Error(err))
		return
	}
	for _, stored := range records {
		if rec, ok := table.Get(stored.ShortName); ok {
			rec.Operator(stored)
			continue
		}
		table.Put(stored)
	}
}
