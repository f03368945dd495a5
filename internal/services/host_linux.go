//go:build linux

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/stone-age-io/svcmon/internal/state"
	"go.uber.org/zap"
)

// systemdType is recorded for every unit; systemd has no SCM-style type code.
const systemdType state.ServiceType = "SYSTEMD_SERVICE"

// dbusAPI is the subset of *dbus.Conn used here.
type dbusAPI interface {
	ListUnitsByPatternsContext(ctx context.Context, states []string, patterns []string) ([]dbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit string, unitType string) (map[string]interface{}, error)
	Close()
}

type dbusFactory func(ctx context.Context) (dbusAPI, error)

func newSystemDBus(ctx context.Context) (dbusAPI, error) {
	return dbus.NewWithContext(ctx)
}

// Host talks to systemd over the system D-Bus.
type Host struct {
	logger  *zap.Logger
	opts    Options
	newDBus dbusFactory
}

// NewHost creates the systemd host. The type filter is ignored on Linux.
func NewHost(logger *zap.Logger, opts Options) (*Host, error) {
	if _, err := typeFilter(opts.TypeFilter); err != nil {
		return nil, err
	}
	return &Host{logger: logger, opts: opts, newDBus: newSystemDBus}, nil
}

func (h *Host) conn(ctx context.Context) (dbusAPI, error) {
	conn, err := h.newDBus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return conn, nil
}

// Enumerate lists every loaded service unit.
func (h *Host) Enumerate(ctx context.Context) ([]state.ObservedService, error) {
	return callWithTimeout(ctx, h.opts.CallTimeout, "enumerate services", func(ctx context.Context) ([]state.ObservedService, error) {
		conn, err := h.conn(ctx)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{"*.service"})
		if err != nil {
			return nil, fmt.Errorf("failed to query services from dbus: %w", err)
		}

		out := make([]state.ObservedService, 0, len(units))
		for _, u := range units {
			if u.LoadState == "not-found" {
				continue
			}
			out = append(out, state.ObservedService{
				ShortName:   systemdShortName(u.Name),
				Description: u.Description,
				State:       mapSystemdState(u.ActiveState),
				Type:        systemdType,
			})
		}
		return out, nil
	})
}

// Start starts the unit and waits for systemd to report the job result.
func (h *Host) Start(ctx context.Context, name string) error {
	return h.runJob(ctx, ActionStart, name)
}

// Stop stops the unit and waits for systemd to report the job result.
func (h *Host) Stop(ctx context.Context, name string) error {
	return h.runJob(ctx, ActionStop, name)
}

func (h *Host) runJob(ctx context.Context, action Action, name string) error {
	_, err := callWithTimeout(ctx, h.opts.CallTimeout, string(action)+" "+name, func(ctx context.Context) (struct{}, error) {
		conn, err := h.conn(ctx)
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()

		unit := systemdUnitName(name)
		statusCh := make(chan string, 1)
		switch action {
		case ActionStart:
			_, err = conn.StartUnitContext(ctx, unit, "fail", statusCh)
		case ActionStop:
			_, err = conn.StopUnitContext(ctx, unit, "fail", statusCh)
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("dbus %s request failed: %w", action, err)
		}

		select {
		case status := <-statusCh:
			if status != "done" {
				return struct{}{}, fmt.Errorf("failed to %s (job result %q)", action, status)
			}
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
		h.logger.Debug("systemd job finished",
			zap.String("service", unit),
			zap.String("action", string(action)))
		return struct{}{}, nil
	})
	return err
}

// Lookup reads ExecStart and User from the unit's Service properties.
func (h *Host) Lookup(ctx context.Context, name string) (state.Metadata, error) {
	return callWithTimeout(ctx, h.opts.CallTimeout, "lookup "+name, func(ctx context.Context) (state.Metadata, error) {
		var meta state.Metadata

		conn, err := h.conn(ctx)
		if err != nil {
			return meta, &LookupError{Service: name, Field: "unit properties", Err: err}
		}
		defer conn.Close()

		props, err := conn.GetUnitTypePropertiesContext(ctx, systemdUnitName(name), "Service")
		if err != nil {
			return meta, &LookupError{Service: name, Field: "unit properties", Err: err}
		}

		var errs []error
		if cmd, ok := execStartCommand(props["ExecStart"]); ok {
			meta.ImagePath = cmd
		} else {
			errs = append(errs, &LookupError{Service: name, Field: "ExecStart", Err: errors.New("not present")})
		}
		if user, ok := props["User"].(string); ok {
			meta.RunAsAccount = user
		}
		return meta, errors.Join(errs...)
	})
}

// execStartCommand extracts the first command line from an ExecStart
// property, decoded by godbus as a slice of (path, argv, ...) structs.
func execStartCommand(v interface{}) (string, bool) {
	entries, ok := v.([][]interface{})
	if !ok || len(entries) == 0 || len(entries[0]) < 2 {
		return "", false
	}
	if argv, ok := entries[0][1].([]string); ok && len(argv) > 0 {
		return strings.Join(argv, " "), true
	}
	if path, ok := entries[0][0].(string); ok && path != "" {
		return path, true
	}
	return "", false
}
