//go:build unix

package sandbox

import (
	"golang.org/x/sys/unix"
)

// rlimitSpec pairs a resource identifier with its ceiling.
type rlimitSpec struct {
	resource int
	limit    uint64
}

// rlimitsFor translates the profile's ceilings into setrlimit specs.
// Zero ceilings are skipped (no limit).
func rlimitsFor(config Config) []rlimitSpec {
	var specs []rlimitSpec
	if config.MaxMemory > 0 {
		specs = append(specs, rlimitSpec{unix.RLIMIT_AS, config.MaxMemory})
	}
	if config.MaxCPUTime > 0 {
		specs = append(specs, rlimitSpec{unix.RLIMIT_CPU, uint64(config.MaxCPUTime)})
	}
	if config.MaxFDs > 0 {
		specs = append(specs, rlimitSpec{unix.RLIMIT_NOFILE, uint64(config.MaxFDs)})
	}
	if config.MaxProcesses > 0 {
		specs = append(specs, rlimitSpec{unix.RLIMIT_NPROC, uint64(config.MaxProcesses)})
	}
	return specs
}

// applyResourceLimits installs the profile's ceilings on the calling
// execution unit. In out-of-process mode this runs in the child
// between fork and exec; in-process mode applies them to the hosting
// task.
func applyResourceLimits(config Config) error {
	for _, spec := range rlimitsFor(config) {
		rl := unix.Rlimit{Cur: spec.limit, Max: spec.limit}
		if err := unix.Setrlimit(spec.resource, &rl); err != nil {
			return err
		}
	}
	return nil
}

// terminateProcess sends the polite stop signal.
func terminateProcess(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// killProcess forces an immediate stop.
func killProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
