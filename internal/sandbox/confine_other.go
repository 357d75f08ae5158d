//go:build !linux

package sandbox

import "fmt"

func setupConfinement(config Config) error {
	return fmt.Errorf("%w: syscall confinement", ErrPlatformNotSupported)
}
