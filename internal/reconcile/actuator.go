package reconcile

import (
	"context"

	"github.com/stone-age-io/svcmon/internal/services"
	"github.com/stone-age-io/svcmon/internal/state"
	"go.uber.org/zap"
)

// Journal records human-readable events.
type Journal interface {
	Append(ctx context.Context, service, message string)
	Appendf(ctx context.Context, service, format string, args ...interface{})
}

// Outcome is the result of evaluating one drifted service.
type Outcome int

const (
	NoOp Outcome = iota
	StopIssued
	StartIssued
)

func (o Outcome) String() string {
	switch o {
	case StopIssued:
		return "stop-issued"
	case StartIssued:
		return "start-issued"
	default:
		return "no-op"
	}
}

// ActuatorConfig configures an Actuator.
type ActuatorConfig struct {
	Controller services.Controller
	Journal    Journal

	// Enabled is the global enforcement switch. When false, drift is only
	// logged.
	Enabled bool

	// Recorder receives actuation results. Optional.
	Recorder Recorder
}

// Actuator corrects drift for services whose operator asked for it. Only
// RUNNING to STOPPED and STOPPED to RUNNING are acted on.
type Actuator struct {
	controller services.Controller
	journal    Journal
	recorder   Recorder
	enabled    bool
	logger     *zap.Logger
}

// NewActuator creates an actuator.
func NewActuator(cfg ActuatorConfig, logger *zap.Logger) *Actuator {
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Actuator{
		controller: cfg.Controller,
		journal:    cfg.Journal,
		recorder:   cfg.Recorder,
		enabled:    cfg.Enabled,
		logger:     logger.Named("actuator"),
	}
}

// Evaluate issues at most one command for rec given its observed state.
// Command failures are journaled and never returned; the next cycle sees the
// same drift and tries again.
func (a *Actuator) Evaluate(ctx context.Context, rec *state.ServiceRecord, observed state.State) Outcome {
	action, ok := decide(rec, observed)
	if !ok {
		return NoOp
	}

	if !a.enabled {
		a.logger.Info("Enforcement disabled, leaving service as is",
			zap.String("service", rec.ShortName),
			zap.String("action", string(action)))
		return NoOp
	}

	a.journal.Appendf(ctx, rec.ShortName, "Attempting to %s service: %s", action, rec.ShortName)
	err := services.Apply(ctx, a.controller, rec.ShortName, action)
	a.recorder.ActuationResult(action, err)
	if err != nil {
		a.journal.Appendf(ctx, rec.ShortName, "Failed to %s service: %s", action, rec.ShortName)
		a.logger.Warn("Service control command failed",
			zap.String("service", rec.ShortName),
			zap.String("action", string(action)),
			zap.Error(err))
	}

	if action == services.ActionStop {
		return StopIssued
	}
	return StartIssued
}

// decide returns the action enforcement calls for, if any.
func decide(rec *state.ServiceRecord, observed state.State) (services.Action, bool) {
	if !rec.ForceExpectedState.IsYes() {
		return "", false
	}
	switch {
	case observed == state.StateRunning && rec.ExpectedState == state.StateStopped:
		return services.ActionStop, true
	case observed == state.StateStopped && rec.ExpectedState == state.StateRunning:
		return services.ActionStart, true
	}
	return "", false
}
