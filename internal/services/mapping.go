package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stone-age-io/svcmon/internal/state"
)

// Service control manager codes. They are spelled out here rather than taken
// from x/sys/windows so the mapping builds and tests on every platform.
const (
	scmStopped         = 0x1
	scmStartPending    = 0x2
	scmStopPending     = 0x3
	scmRunning         = 0x4
	scmContinuePending = 0x5
	scmPausePending    = 0x6
	scmPaused          = 0x7

	scmKernelDriver       = 0x1
	scmFileSystemDriver   = 0x2
	scmDriver             = 0xb
	scmWin32OwnProcess    = 0x10
	scmWin32ShareProcess  = 0x20
	scmWin32              = 0x30
	scmInteractiveProcess = 0x100
)

var windowsStates = map[uint32]state.State{
	scmStopped:         state.StateStopped,
	scmStartPending:    state.StateStartPending,
	scmStopPending:     state.StateStopPending,
	scmRunning:         state.StateRunning,
	scmContinuePending: state.StateContinuePending,
	scmPausePending:    state.StatePausePending,
	scmPaused:          state.StatePaused,
}

var windowsTypes = map[uint32]state.ServiceType{
	scmKernelDriver:       state.TypeKernelDriver,
	scmFileSystemDriver:   state.TypeFileSystemDriver,
	scmDriver:             state.TypeDriver,
	scmWin32OwnProcess:    state.TypeWin32OwnProcess,
	scmWin32ShareProcess:  state.TypeWin32ShareProcess,
	scmWin32:              state.TypeWin32,
	scmInteractiveProcess: state.TypeInteractiveProcess,
}

// mapWindowsState converts an SCM state code. Unknown codes become their
// decimal text so they can still be stored and compared.
func mapWindowsState(code uint32) state.State {
	if code == 0 {
		return state.StateUnknown
	}
	if s, ok := windowsStates[code]; ok {
		return s
	}
	return state.State(strconv.FormatUint(uint64(code), 10))
}

// mapWindowsType converts an SCM service type code the same way.
func mapWindowsType(code uint32) state.ServiceType {
	if code == 0 {
		return state.TypeUnknown
	}
	if t, ok := windowsTypes[code]; ok {
		return t
	}
	return state.ServiceType(strconv.FormatUint(uint64(code), 10))
}

// typeFilter returns the SCM enumeration mask for a configured filter name.
func typeFilter(name string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "win32":
		return scmWin32, nil
	case "driver":
		return scmDriver, nil
	case "all":
		return scmWin32 | scmDriver, nil
	default:
		return 0, fmt.Errorf("invalid type filter: %s (must be win32, driver, or all)", name)
	}
}

// ValidTypeFilter reports whether name is an accepted TypeFilter value.
func ValidTypeFilter(name string) bool {
	_, err := typeFilter(name)
	return err == nil
}

// mapSystemdState converts a systemd ActiveState. Unknown values pass
// through verbatim.
func mapSystemdState(activeState string) state.State {
	switch activeState {
	case "active", "reloading":
		return state.StateRunning
	case "inactive":
		return state.StateStopped
	case "activating":
		return state.StateStartPending
	case "deactivating":
		return state.StateStopPending
	case "":
		return state.StateUnknown
	default:
		return state.State(activeState)
	}
}

// systemdUnitName returns the unit a short name refers to.
func systemdUnitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// systemdShortName strips the .service suffix from a unit name.
func systemdShortName(unit string) string {
	return strings.TrimSuffix(unit, ".service")
}
