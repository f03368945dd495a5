//go:build windows

package services

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/stone-age-io/svcmon/internal/state"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const servicesKey = `SYSTEM\CurrentControlSet\Services\`

// Host talks to the Windows Service Control Manager and the services
// registry hive.
type Host struct {
	logger *zap.Logger
	opts   Options
	filter uint32
}

// NewHost creates the Windows host.
func NewHost(logger *zap.Logger, opts Options) (*Host, error) {
	filter, err := typeFilter(opts.TypeFilter)
	if err != nil {
		return nil, err
	}
	return &Host{logger: logger, opts: opts, filter: filter}, nil
}

// Enumerate lists every service matching the type filter, in any state.
func (h *Host) Enumerate(ctx context.Context) ([]state.ObservedService, error) {
	return callWithTimeout(ctx, h.opts.CallTimeout, "enumerate services", func(context.Context) ([]state.ObservedService, error) {
		m, err := mgr.Connect()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to service manager: %w", err)
		}
		defer m.Disconnect()

		return enumServices(m.Handle, h.filter)
	})
}

// enumServices reads ENUM_SERVICE_STATUS_PROCESS entries, growing the
// buffer until the SCM stops asking for more.
func enumServices(scm windows.Handle, filter uint32) ([]state.ObservedService, error) {
	var (
		buf              []byte
		bytesNeeded      uint32
		servicesReturned uint32
	)
	for {
		var p *byte
		if len(buf) > 0 {
			p = &buf[0]
		}
		err := windows.EnumServicesStatusEx(scm, windows.SC_ENUM_PROCESS_INFO,
			filter, windows.SERVICE_STATE_ALL,
			p, uint32(len(buf)), &bytesNeeded, &servicesReturned, nil, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, windows.ERROR_MORE_DATA) || bytesNeeded <= uint32(len(buf)) {
			return nil, fmt.Errorf("failed to enumerate services: %w", err)
		}
		buf = make([]byte, bytesNeeded)
	}
	if servicesReturned == 0 {
		return nil, nil
	}

	entries := unsafe.Slice((*windows.ENUM_SERVICE_STATUS_PROCESS)(unsafe.Pointer(&buf[0])), int(servicesReturned))
	out := make([]state.ObservedService, 0, len(entries))
	for _, e := range entries {
		out = append(out, state.ObservedService{
			ShortName:   windows.UTF16PtrToString(e.ServiceName),
			Description: windows.UTF16PtrToString(e.DisplayName),
			State:       mapWindowsState(e.ServiceStatusProcess.CurrentState),
			Type:        mapWindowsType(e.ServiceStatusProcess.ServiceType),
		})
	}
	return out, nil
}

// Start asks the SCM to start the service. It does not wait for the
// service to reach the running state; the next poll observes the result.
func (h *Host) Start(ctx context.Context, name string) error {
	_, err := callWithTimeout(ctx, h.opts.CallTimeout, "start "+name, func(context.Context) (struct{}, error) {
		return struct{}{}, h.withService(name, func(s *mgr.Service) error {
			return s.Start()
		})
	})
	return err
}

// Stop sends the stop control to the service.
func (h *Host) Stop(ctx context.Context, name string) error {
	_, err := callWithTimeout(ctx, h.opts.CallTimeout, "stop "+name, func(context.Context) (struct{}, error) {
		return struct{}{}, h.withService(name, func(s *mgr.Service) error {
			status, err := s.Control(svc.Stop)
			if err != nil {
				return err
			}
			h.logger.Debug("Stop control accepted",
				zap.String("service", name),
				zap.Uint32("state", uint32(status.State)))
			return nil
		})
	})
	return err
}

func (h *Host) withService(name string, fn func(*mgr.Service) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("failed to open service %s: %w", name, err)
	}
	defer s.Close()

	return fn(s)
}

// Lookup reads ImagePath and ObjectName from the service's registry key.
// ImagePath is returned raw; %VAR% expansion happens in the caller.
func (h *Host) Lookup(ctx context.Context, name string) (state.Metadata, error) {
	return callWithTimeout(ctx, h.opts.CallTimeout, "lookup "+name, func(context.Context) (state.Metadata, error) {
		var meta state.Metadata

		k, err := registry.OpenKey(registry.LOCAL_MACHINE, servicesKey+name, registry.QUERY_VALUE)
		if err != nil {
			return meta, &LookupError{Service: name, Field: "registry key", Err: err}
		}
		defer k.Close()

		var errs []error
		if v, _, err := k.GetStringValue("ImagePath"); err == nil {
			meta.ImagePath = v
		} else {
			errs = append(errs, &LookupError{Service: name, Field: "ImagePath", Err: err})
		}
		if v, _, err := k.GetStringValue("ObjectName"); err == nil {
			meta.RunAsAccount = v
		} else {
			errs = append(errs, &LookupError{Service: name, Field: "ObjectName", Err: err})
		}
		return meta, errors.Join(errs...)
	})
}
