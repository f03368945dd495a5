package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stone-age-io/svcmon/internal/state"
)

// ErrNotFound is returned when no record exists for a short name.
var ErrNotFound = errors.New("service record not found")

// Store persists service records and the append-only event log.
// Implementations open the backing database per operation, so edits made by
// an operator between calls are always visible to the next read.
type Store interface {
	EnsureSchema(ctx context.Context) error
	LoadAll(ctx context.Context) ([]*state.ServiceRecord, error)
	Get(ctx context.Context, shortName string) (*state.ServiceRecord, error)
	Insert(ctx context.Context, rec *state.ServiceRecord) error
	UpdateObservedState(ctx context.Context, shortName string, observed state.State) error
	AppendEvent(ctx context.Context, ev state.LogEvent) error
}

// Error reports a failed store operation. Store errors are never fatal to
// the poll loop: the operation is skipped and retried on the next cycle.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the operation name. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}
