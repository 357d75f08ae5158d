package sandbox

import "errors"

// Sandbox errors.
var (
	// ErrCreationFailed is returned when a sandbox cannot be created.
	ErrCreationFailed = errors.New("sandbox creation failed")

	// ErrPermissionDenied is returned when an operation exceeds the
	// granted permissions.
	ErrPermissionDenied = errors.New("sandbox permission denied")

	// ErrResourceLimit is returned when a resource limit cannot be
	// applied.
	ErrResourceLimit = errors.New("sandbox resource limit error")

	// ErrProcess is returned when a process operation fails.
	ErrProcess = errors.New("sandbox process error")

	// ErrSeccomp is returned when syscall filter installation fails.
	ErrSeccomp = errors.New("sandbox seccomp error")

	// ErrNamespace is returned when namespace setup fails.
	ErrNamespace = errors.New("sandbox namespace error")

	// ErrPlatformNotSupported is returned when a confinement mechanism
	// is unavailable on the current platform.
	ErrPlatformNotSupported = errors.New("sandbox platform not supported")
)
