package services

import (
	"context"
	"fmt"
	"time"

	"github.com/stone-age-io/svcmon/internal/state"
)

// Inventory enumerates the services the host currently knows about.
type Inventory interface {
	Enumerate(ctx context.Context) ([]state.ObservedService, error)
}

// Controller issues start and stop commands.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// MetadataProvider resolves details the snapshot does not carry. It always
// returns usable (possibly empty) values; the error only explains which
// fields could not be read.
type MetadataProvider interface {
	Lookup(ctx context.Context, name string) (state.Metadata, error)
}

// Action is a control verb sent to a service.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Options configures the platform host.
type Options struct {
	// CallTimeout bounds every individual host call. Zero disables the bound.
	CallTimeout time.Duration

	// TypeFilter selects which services are enumerated where the platform
	// supports it: "win32" (default), "driver" or "all".
	TypeFilter string
}

// ActuationError reports a start or stop command rejected by the host.
type ActuationError struct {
	Service string
	Action  Action
	Err     error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("failed to %s service %s: %v", e.Action, e.Service, e.Err)
}

func (e *ActuationError) Unwrap() error {
	return e.Err
}

// LookupError reports host metadata that could not be read for a service.
type LookupError struct {
	Service string
	Field   string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s for %s: %v", e.Field, e.Service, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Apply dispatches action to c and wraps a failure in an ActuationError.
func Apply(ctx context.Context, c Controller, name string, action Action) error {
	var err error
	switch action {
	case ActionStart:
		err = c.Start(ctx, name)
	case ActionStop:
		err = c.Stop(ctx, name)
	default:
		err = fmt.Errorf("invalid action: %s (must be start or stop)", action)
	}
	if err != nil {
		return &ActuationError{Service: name, Action: action, Err: err}
	}
	return nil
}
