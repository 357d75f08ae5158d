//go:build !unix

package sandbox

import "fmt"

func applyResourceLimits(config Config) error {
	return fmt.Errorf("%w: resource limits", ErrPlatformNotSupported)
}

func terminateProcess(pid int) error {
	return fmt.Errorf("%w: process termination", ErrPlatformNotSupported)
}

func killProcess(pid int) error {
	return fmt.Errorf("%w: process kill", ErrPlatformNotSupported)
}
