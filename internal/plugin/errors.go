package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrInitializationFailed is returned when a plugin's init fails.
	ErrInitializationFailed = errors.New("plugin initialization failed")

	// ErrNotFound is returned when a plugin cannot be located.
	ErrNotFound = errors.New("plugin not found")

	// ErrPermissionDenied is returned when a plugin lacks a required
	// permission.
	ErrPermissionDenied = errors.New("plugin permission denied")

	// ErrDependencyNotSatisfied is returned when a required dependency
	// is missing or has an incompatible version.
	ErrDependencyNotSatisfied = errors.New("plugin dependency not satisfied")

	// ErrAlreadyLoaded is returned when loading an already loaded plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrDisabled is returned when operating on a disabled plugin.
	ErrDisabled = errors.New("plugin is disabled")

	// ErrIO is returned for plugin filesystem failures.
	ErrIO = errors.New("plugin io error")

	// ErrConfig is returned for invalid or unusable plugin configuration,
	// including failures preparing the plugin's directories.
	ErrConfig = errors.New("plugin config error")

	// ErrRuntime is returned for failures in running plugin code.
	ErrRuntime = errors.New("plugin runtime error")

	// ErrAPI is returned for host API misuse by a plugin.
	ErrAPI = errors.New("plugin api error")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrInvalidTransition is returned for a lifecycle transition not in
	// the state machine.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrTooManyPlugins is returned when the configured plugin ceiling
	// is reached.
	ErrTooManyPlugins = errors.New("too many plugins loaded")
)

// VersionMismatchError is returned when a plugin requires a newer host
// API than this host provides.
type VersionMismatchError struct {
	Expected string // version the plugin requires
	Actual   string // version the host provides
}

// Error implements the error interface.
func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("plugin api version mismatch: requires %s, host provides %s", e.Expected, e.Actual)
}
