package state

// State is the run state of a service as reported by the host, or as declared
// by an operator in the expected_state column. Values the host reports that
// have no name below are carried through as opaque tokens.
type State string

// Service states. The tokens match the names the Windows service control
// manager uses so that stores written by earlier releases stay readable.
const (
	// StateRunning indicates the service is running
	StateRunning State = "SERVICE_RUNNING"

	// StateStopped indicates the service is stopped
	StateStopped State = "SERVICE_STOPPED"

	// StateStartPending indicates the service is starting
	StateStartPending State = "SERVICE_START_PENDING"

	// StateStopPending indicates the service is stopping
	StateStopPending State = "SERVICE_STOP_PENDING"

	// StateContinuePending indicates a paused service is resuming
	StateContinuePending State = "SERVICE_CONTINUE_PENDING"

	// StatePausePending indicates the service is pausing
	StatePausePending State = "SERVICE_PAUSE_PENDING"

	// StatePaused indicates the service is paused
	StatePaused State = "SERVICE_PAUSED"

	// StateUnknown is used when the host reports no state at all
	StateUnknown State = "Unknown"
)

// IsEmpty reports whether no state was recorded.
func (s State) IsEmpty() bool {
	return s == ""
}

func (s State) String() string {
	return string(s)
}

// ServiceType describes how a service is hosted. Like State, unmapped host
// values pass through untouched.
type ServiceType string

const (
	TypeKernelDriver       ServiceType = "SERVICE_KERNEL_DRIVER"
	TypeFileSystemDriver   ServiceType = "SERVICE_FILE_SYSTEM_DRIVER"
	TypeDriver             ServiceType = "SERVICE_DRIVER"
	TypeWin32OwnProcess    ServiceType = "SERVICE_WIN32_OWN_PROCESS"
	TypeWin32ShareProcess  ServiceType = "SERVICE_WIN32_SHARE_PROCESS"
	TypeWin32              ServiceType = "SERVICE_WIN32"
	TypeInteractiveProcess ServiceType = "SERVICE_INTERACTIVE_PROCESS"
	TypeUnknown            ServiceType = "Unknown"
)

func (t ServiceType) String() string {
	return string(t)
}

// ObservedService is one entry of a host service snapshot.
type ObservedService struct {
	ShortName   string
	Description string
	State       State
	Type        ServiceType
}
