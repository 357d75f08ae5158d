package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - Plugin is not loaded.
	StateUnloaded State = iota

	// StateLoading - Plugin is being loaded and initialized.
	StateLoading

	// StateActive - Plugin is initialized and running.
	StateActive

	// StateSuspended - Plugin is loaded but paused.
	StateSuspended

	// StateUnloading - Plugin is shutting down.
	StateUnloading

	// StateFailed - Plugin init or shutdown failed.
	StateFailed

	// StateDisabled - Plugin is administratively disabled.
	StateDisabled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateUnloading:
		return "unloading"
	case StateFailed:
		return "failed"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether the edge from s to next exists in
// the lifecycle state machine. Disabling is allowed from any state;
// a disabled plugin can only be re-enabled back to unloaded.
func (s State) CanTransitionTo(next State) bool {
	if next == StateDisabled {
		return true
	}

	switch s {
	case StateUnloaded:
		return next == StateLoading
	case StateLoading:
		return next == StateActive || next == StateFailed
	case StateActive:
		return next == StateSuspended || next == StateUnloading
	case StateSuspended:
		return next == StateActive || next == StateUnloading
	case StateUnloading:
		return next == StateUnloaded || next == StateFailed
	case StateDisabled:
		return next == StateUnloaded
	default:
		return false
	}
}

// IsRunning returns true if plugin code may currently execute.
func (s State) IsRunning() bool {
	return s == StateActive || s == StateSuspended
}
