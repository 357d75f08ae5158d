package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/plugin/api"
	"github.com/dshills/lumen/internal/sandbox"
)

// Host runs a single plugin through its lifecycle: sandbox setup,
// init, suspend/resume, updates, and teardown. All state changes go
// through the lifecycle state machine.
type Host struct {
	mu sync.RWMutex

	instanceID string
	manifest   *Manifest
	metadata   Metadata
	plugin     Plugin

	state State
	// stateMirror shadows state for lock-free reads in the update
	// loop, which must not contend with a writer waiting on it.
	stateMirror atomic.Int32
	err         error

	baseDir  string
	context  *Context
	process  *sandbox.Process
	registry *api.Registry
	logger   *logging.Logger

	updateCancel context.CancelFunc
	updateDone   chan struct{}
}

// HostConfig assembles a host's collaborators.
type HostConfig struct {
	// Plugin is the implementation to run.
	Plugin Plugin

	// Manifest is the plugin's on-disk manifest.
	Manifest *Manifest

	// Process confines the plugin. Required.
	Process *sandbox.Process

	// Registry receives capability contributions. Optional.
	Registry *api.Registry

	// BaseDir is the root of the plugin's private directories.
	BaseDir string

	// Logger defaults to a null logger.
	Logger *logging.Logger
}

// NewHost creates a host in the unloaded state.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Manifest == nil {
		return nil, ErrNilManifest
	}
	meta, err := cfg.Manifest.Metadata()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NullLogger
	}

	return &Host{
		instanceID: uuid.NewString(),
		manifest:   cfg.Manifest,
		metadata:   meta,
		plugin:     cfg.Plugin,
		state:      StateUnloaded,
		baseDir:    cfg.BaseDir,
		process:    cfg.Process,
		registry:   cfg.Registry,
		logger:     logger.WithComponent("host").WithPlugin(meta.ID),
	}, nil
}

// InstanceID returns the unique id of this host instance.
func (h *Host) InstanceID() string { return h.instanceID }

// ID returns the plugin id.
func (h *Host) ID() string { return h.metadata.ID }

// Metadata returns the plugin's metadata.
func (h *Host) Metadata() Metadata { return h.metadata }

// Manifest returns the plugin manifest.
func (h *Host) Manifest() *Manifest { return h.manifest }

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the error that drove the host into the failed state.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Context returns the plugin context, nil unless running.
func (h *Host) Context() *Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.context
}

// Process returns the plugin's sandbox handle.
func (h *Host) Process() *sandbox.Process {
	return h.process
}

// ReducedIsolation reports whether the sandbox came up with reduced
// isolation on this platform.
func (h *Host) ReducedIsolation() bool {
	return h.process.ReducedIsolation()
}

// guard runs a plugin callback, converting a panic into an error so a
// faulting plugin cannot take the host down.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panic: %v", name, r)
		}
	}()
	return fn()
}

// transition moves to next or fails with ErrInvalidTransition. Caller
// holds the write lock.
func (h *Host) transition(next State) error {
	if !h.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.state, next)
	}
	h.logger.Debug("state %s -> %s", h.state, next)
	h.state = next
	h.stateMirror.Store(int32(next))
	return nil
}

// fail records err and moves to the failed state. Caller holds the
// write lock and has already moved to a state with a failed edge.
func (h *Host) fail(err error) error {
	h.err = err
	h.state = StateFailed
	h.stateMirror.Store(int32(StateFailed))
	h.logger.Error("%v", err)
	return err
}

// Load brings the plugin from unloaded to active: sandbox setup
// first, then directories and context, then init. A sandbox setup
// failure aborts the load; the plugin never runs unconfined.
func (h *Host) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transition(StateLoading); err != nil {
		return err
	}

	if err := h.process.Setup(); err != nil {
		return h.fail(fmt.Errorf("sandbox setup: %w", err))
	}
	if h.process.ReducedIsolation() {
		h.logger.Warn("running with reduced isolation")
	}

	ctx, err := NewContext(h.metadata.ID, h.baseDir, h.metadata.Permissions, h.logger)
	if err != nil {
		h.terminateProcess()
		return h.fail(err)
	}
	h.context = ctx

	if err := guard("init", func() error { return h.plugin.Init(ctx) }); err != nil {
		h.context = nil
		h.terminateProcess()
		return h.fail(fmt.Errorf("%w: %v", ErrInitializationFailed, err))
	}

	if err := h.transition(StateActive); err != nil {
		return err
	}
	h.err = nil

	if h.registry != nil {
		h.registry.Attach(h.metadata.ID, h.plugin)
	}
	if h.plugin.WantsUpdates() {
		h.startUpdates()
	}

	h.logger.Info("loaded %s", h.metadata.String())
	return nil
}

// Unload shuts the plugin down: contributions are detached before
// shutdown runs, and the sandboxed process is terminated only after
// shutdown returns.
func (h *Host) Unload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unloadLocked()
}

func (h *Host) unloadLocked() error {
	if err := h.transition(StateUnloading); err != nil {
		return err
	}

	h.stopUpdates()
	if h.registry != nil {
		h.registry.DetachAll(h.metadata.ID)
	}

	shutdownErr := guard("shutdown", h.plugin.Shutdown)

	h.terminateProcess()
	h.context = nil

	if shutdownErr != nil {
		return h.fail(fmt.Errorf("shutdown: %w", shutdownErr))
	}

	if err := h.transition(StateUnloaded); err != nil {
		return err
	}
	h.err = nil
	h.logger.Info("unloaded")
	return nil
}

// terminateProcess stops the sandboxed process, escalating to kill.
func (h *Host) terminateProcess() {
	if err := h.process.Terminate(); err != nil {
		h.logger.Warn("terminate failed, killing: %v", err)
		if err := h.process.Kill(); err != nil {
			h.logger.Error("kill failed: %v", err)
		}
	}
}

// Suspend pauses the plugin. A suspend callback error is logged and
// absorbed; the plugin still ends up suspended.
func (h *Host) Suspend() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transition(StateSuspended); err != nil {
		return err
	}
	if err := guard("suspend", h.plugin.Suspend); err != nil {
		h.logger.Warn("suspend callback: %v", err)
	}
	return nil
}

// Resume continues a suspended plugin. A resume callback error is
// logged and absorbed; the plugin still ends up active.
func (h *Host) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateSuspended {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.state, StateActive)
	}
	if err := h.transition(StateActive); err != nil {
		return err
	}
	if err := guard("resume", h.plugin.Resume); err != nil {
		h.logger.Warn("resume callback: %v", err)
	}
	return nil
}

// Disable tears the plugin down from any state and marks it disabled.
func (h *Host) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.IsRunning() {
		h.stopUpdates()
		if h.registry != nil {
			h.registry.DetachAll(h.metadata.ID)
		}
		if err := guard("shutdown", h.plugin.Shutdown); err != nil {
			h.logger.Warn("shutdown during disable: %v", err)
		}
		h.terminateProcess()
		h.context = nil
	}

	return h.transition(StateDisabled)
}

// Enable returns a disabled plugin to unloaded.
func (h *Host) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transition(StateUnloaded)
}

// OnConfigChanged forwards a host configuration change. Callback
// errors are logged and absorbed.
func (h *Host) OnConfigChanged(key string, value any) {
	h.mu.RLock()
	running := h.state.IsRunning()
	h.mu.RUnlock()
	if !running {
		return
	}
	if err := guard("on_config_changed", func() error { return h.plugin.OnConfigChanged(key, value) }); err != nil {
		h.logger.Warn("on_config_changed callback: %v", err)
	}
}

// startUpdates launches the periodic update loop. Caller holds the
// write lock.
func (h *Host) startUpdates() {
	interval := h.plugin.UpdateInterval()
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.updateCancel = cancel
	h.updateDone = make(chan struct{})

	go h.updateLoop(ctx, interval)
}

// stopUpdates stops the update loop and waits for it to exit. Caller
// holds the write lock.
func (h *Host) stopUpdates() {
	if h.updateCancel == nil {
		return
	}
	h.updateCancel()
	<-h.updateDone
	h.updateCancel = nil
	h.updateDone = nil
}

// updateLoop ticks the plugin while it is active. Update errors are
// logged and absorbed.
func (h *Host) updateLoop(ctx context.Context, interval time.Duration) {
	defer close(h.updateDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if State(h.stateMirror.Load()) != StateActive {
				continue
			}
			if err := guard("update", h.plugin.Update); err != nil {
				h.logger.Warn("update callback: %v", err)
			}
		}
	}
}
