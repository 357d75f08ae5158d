package sandbox

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/lumen/internal/logging"
)

// Process is the isolation handle for one plugin's execution unit.
// For out-of-process plugins it tracks the child pid; for in-process
// plugins the pid stays zero and only resource accounting applies.
type Process struct {
	mu sync.Mutex

	pluginID string
	config   Config
	pid      int

	reduced bool
	setup   bool

	logger *logging.Logger
}

// NewProcess creates an isolation handle for a plugin.
func NewProcess(pluginID string, config Config, logger *logging.Logger) *Process {
	if logger == nil {
		logger = logging.NullLogger
	}
	return &Process{
		pluginID: pluginID,
		config:   config,
		logger:   logger.WithComponent("sandbox").WithPlugin(pluginID),
	}
}

// PluginID returns the owning plugin id.
func (p *Process) PluginID() string {
	return p.pluginID
}

// Config returns the profile this handle was created with.
func (p *Process) Config() Config {
	return p.config
}

// PID returns the tracked process id, or 0 when none.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// SetPID records the pid of the started execution unit.
func (p *Process) SetPID(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pid = pid
}

// IsRunning returns true while a pid is tracked.
func (p *Process) IsRunning() bool {
	return p.PID() != 0
}

// ReducedIsolation returns true when Setup succeeded but the platform
// could not provide syscall-level confinement, leaving resource
// limits as the only enforcement. Callers must disclose this to the
// user; it is a weaker success, not an error.
func (p *Process) ReducedIsolation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reduced
}

// Setup applies the profile to the execution unit. A disabled profile
// is a no-op. Resource limits are applied on every platform; syscall
// filtering is requested where the platform supports it. Any hard
// failure aborts setup, it is never downgraded to running without
// limits.
func (p *Process) Setup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.config.Enabled {
		p.logger.Debug("sandbox disabled, skipping setup")
		p.setup = true
		return nil
	}

	if err := applyResourceLimits(p.config); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceLimit, err)
	}

	if err := setupConfinement(p.config); err != nil {
		if errors.Is(err, ErrPlatformNotSupported) {
			p.reduced = true
			p.logger.Warn("syscall confinement unavailable, running with resource limits only")
		} else {
			return fmt.Errorf("%w: %v", ErrSeccomp, err)
		}
	}

	p.setup = true
	p.logger.Debug("sandbox set up: memory=%d fds=%d processes=%d",
		p.config.MaxMemory, p.config.MaxFDs, p.config.MaxProcesses)
	return nil
}

// Terminate requests a graceful stop. Idempotent: with no tracked pid
// it is a no-op returning success. The pid is kept on failure so the
// caller can retry or escalate to Kill.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}

	if err := terminateProcess(p.pid); err != nil {
		return fmt.Errorf("%w: terminate pid %d: %v", ErrProcess, p.pid, err)
	}

	p.logger.Debug("sent termination request to pid %d", p.pid)
	p.pid = 0
	return nil
}

// Kill forces an immediate stop. Same idempotence contract as
// Terminate.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil
	}

	if err := killProcess(p.pid); err != nil {
		return fmt.Errorf("%w: kill pid %d: %v", ErrProcess, p.pid, err)
	}

	p.logger.Debug("killed pid %d", p.pid)
	p.pid = 0
	return nil
}
