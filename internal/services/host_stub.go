//go:build !windows && !linux

package services

import (
	"context"
	"fmt"
	"runtime"

	"github.com/stone-age-io/svcmon/internal/state"
	"go.uber.org/zap"
)

// Host is a stub for unsupported platforms
type Host struct{}

// NewHost is a stub for unsupported platforms
func NewHost(logger *zap.Logger, opts Options) (*Host, error) {
	return nil, fmt.Errorf("service monitoring not supported on platform: %s", runtime.GOOS)
}

// Enumerate is a stub for unsupported platforms
func (h *Host) Enumerate(ctx context.Context) ([]state.ObservedService, error) {
	return nil, fmt.Errorf("service enumeration not supported on this platform")
}

// Start is a stub for unsupported platforms
func (h *Host) Start(ctx context.Context, name string) error {
	return fmt.Errorf("service control not supported on this platform")
}

// Stop is a stub for unsupported platforms
func (h *Host) Stop(ctx context.Context, name string) error {
	return fmt.Errorf("service control not supported on this platform")
}

// Lookup is a stub for unsupported platforms
func (h *Host) Lookup(ctx context.Context, name string) (state.Metadata, error) {
	return state.Metadata{}, &LookupError{Service: name, Field: "metadata", Err: fmt.Errorf("not supported on this platform")}
}
