package reconcile

import (
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/svcmon/internal/services"
	"github.com/stone-age-io/svcmon/internal/state"
	"github.com/stone-age-io/svcmon/internal/store"
)

// DefaultOriginator is written to established_by for records the engine
// creates.
const DefaultOriginator = "svcmon"

// Config holds the engine's collaborators and options.
type Config struct {
	Inventory services.Inventory
	Store     store.Store
	Journal   Journal
	Actuator  *Actuator

	// Metadata resolves image path and account for new services. Optional.
	Metadata services.MetadataProvider

	// Recorder receives cycle metrics. Optional.
	Recorder Recorder

	// Clock stamps new records. Defaults to the real clock.
	Clock clockwork.Clock

	// StoreName is shown in the load message.
	StoreName string

	// ReloadState re-reads operator-controlled fields from the store at the
	// start of every cycle.
	ReloadState bool

	// Originator tags new records. Defaults to DefaultOriginator.
	Originator string

	// ExpandImagePath normalizes a new service's image path. Defaults to
	// stripping double quotes and expanding a leading %VAR%.
	ExpandImagePath func(string) string
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Originator == "" {
		c.Originator = DefaultOriginator
	}
	if c.ExpandImagePath == nil {
		c.ExpandImagePath = defaultExpand
	}
}

// Validate checks that required collaborators are present.
func (c *Config) Validate() error {
	switch {
	case c.Inventory == nil:
		return errors.New("reconcile: inventory is nil")
	case c.Store == nil:
		return errors.New("reconcile: store is nil")
	case c.Journal == nil:
		return errors.New("reconcile: journal is nil")
	case c.Actuator == nil:
		return errors.New("reconcile: actuator is nil")
	}
	return nil
}

func defaultExpand(path string) string {
	return state.ExpandFromEnvironment(strings.ReplaceAll(path, `"`, ""))
}

// Recorder receives reconciliation metrics.
type Recorder interface {
	CycleCompleted(duration time.Duration, observed int)
	ServiceDiscovered()
	DriftDetected(service string)
	ActuationResult(action services.Action, err error)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(time.Duration, int) {}
func (nopRecorder) ServiceDiscovered() {}
func (nopRecorder) DriftDetected(string) {}
func (nopRecorder) ActuationResult(services.Action, error) {}
