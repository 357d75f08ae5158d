package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/plugin/api"
	"github.com/dshills/lumen/internal/sandbox"
)

// disabledFileName persists the set of disabled plugin ids across
// restarts.
const disabledFileName = "disabled.json"

// PluginFactory builds a Plugin implementation from a discovered
// package.
type PluginFactory func(info *Info) (Plugin, error)

// Manager owns the lifecycle of all plugins: discovery, dependency
// and version checks, sandbox policy, loading, and teardown.
type Manager struct {
	mu sync.RWMutex

	loader *Loader

	// Loaded plugins by id.
	hosts map[string]*Host

	// Load order, for deterministic iteration and reverse unload.
	loadOrder []string

	// Disabled plugin ids, persisted in the data dir.
	disabled map[string]bool

	// Event pump stop channels by plugin id.
	pumps map[string]chan struct{}

	eventHandlers  []EventHandler
	pluginHandlers []PluginEventHandler

	config   ManagerConfig
	hostAPI  *semver.Version
	registry *api.Registry
	logger   *logging.Logger
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// PluginPaths are directories to search for plugins.
	PluginPaths []string

	// DataDir is where per-plugin directories and manager state live.
	DataDir string

	// HostAPIVersion is the plugin API version this host provides.
	HostAPIVersion string

	// MaxPlugins caps the number of simultaneously loaded plugins.
	MaxPlugins int

	// TrustedPlugins may run with a permissive sandbox. Trust comes
	// from host configuration, never from a plugin's own manifest.
	TrustedPlugins []string

	// Factory builds plugin implementations from discovered packages.
	Factory PluginFactory

	// Registry receives capability contributions. Optional.
	Registry *api.Registry

	// Reporter receives sandbox violations. Optional.
	Reporter sandbox.Reporter

	// Logger defaults to a null logger.
	Logger *logging.Logger
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	dataDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "lumen")
	}
	return ManagerConfig{
		PluginPaths:    DefaultPluginPaths(),
		DataDir:        dataDir,
		HostAPIVersion: "1.0.0",
		MaxPlugins:     100,
	}
}

// EventHandler handles manager lifecycle events. Handlers must be
// non-blocking and must not call back into the Manager. Panics in
// handlers are recovered.
type EventHandler func(event ManagerEvent)

// PluginEventHandler receives events emitted by running plugins.
// Same rules as EventHandler.
type PluginEventHandler func(event Event)

// ManagerEvent is a lifecycle notification.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

// Manager event types.
const (
	EventPluginLoaded ManagerEventType = iota
	EventPluginUnloaded
	EventPluginSuspended
	EventPluginResumed
	EventPluginDisabled
	EventPluginEnabled
	EventPluginReloaded
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginUnloaded:
		return "unloaded"
	case EventPluginSuspended:
		return "suspended"
	case EventPluginResumed:
		return "resumed"
	case EventPluginDisabled:
		return "disabled"
	case EventPluginEnabled:
		return "enabled"
	case EventPluginReloaded:
		return "reloaded"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// NewManager creates a plugin manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Factory == nil {
		return nil, fmt.Errorf("%w: manager requires a plugin factory", ErrConfig)
	}
	hostAPI, err := semver.NewVersion(config.HostAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: host api version %q", ErrConfig, config.HostAPIVersion)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NullLogger
	}

	m := &Manager{
		loader:   NewLoader(WithPaths(config.PluginPaths...)),
		hosts:    make(map[string]*Host),
		disabled: make(map[string]bool),
		pumps:    make(map[string]chan struct{}),
		config:   config,
		hostAPI:  hostAPI,
		registry: config.Registry,
		logger:   logger.WithComponent("manager"),
	}
	m.loadDisabledList()
	return m, nil
}

// Discover scans the search paths for plugin packages.
func (m *Manager) Discover() []*Info {
	return m.loader.Discover()
}

// HostAPIVersion returns the API version this host provides.
func (m *Manager) HostAPIVersion() *semver.Version {
	return m.hostAPI
}

// Load loads and starts a plugin by id. All checks run before any
// side effects: a plugin that fails version or dependency checks
// leaves no trace on disk or in the registry.
func (m *Manager) Load(id string) (*Host, error) {
	m.mu.RLock()
	if m.disabled[id] {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q: %w", id, ErrDisabled)
	}
	if _, exists := m.hosts[id]; exists {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}
	if m.config.MaxPlugins > 0 && len(m.hosts) >= m.config.MaxPlugins {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q: %w (limit %d)", id, ErrTooManyPlugins, m.config.MaxPlugins)
	}
	m.mu.RUnlock()

	info, err := m.loader.Find(id)
	if err != nil {
		return nil, err
	}
	meta, err := info.Manifest.Metadata()
	if err != nil {
		return nil, err
	}

	if err := CheckAPICompatibility(meta.MinAPIVersion, m.hostAPI); err != nil {
		return nil, err
	}
	if err := m.checkDependencies(meta); err != nil {
		return nil, err
	}

	plug, err := m.config.Factory(info)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", id, err)
	}

	baseDir := filepath.Join(m.config.DataDir, "plugins", meta.ID)
	sbConfig := m.sandboxConfig(info.Manifest, meta, filepath.Join(baseDir, "data"))
	process := sandbox.NewProcess(meta.ID, sbConfig, m.logger)

	host, err := NewHost(HostConfig{
		Plugin:   plug,
		Manifest: info.Manifest,
		Process:  process,
		Registry: m.registry,
		BaseDir:  baseDir,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := host.Load(); err != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: id, Error: err})
		return nil, fmt.Errorf("failed to load plugin %q: %w", id, err)
	}

	m.mu.Lock()
	if _, exists := m.hosts[id]; exists {
		m.mu.Unlock()
		_ = host.Unload()
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}
	m.hosts[id] = host
	m.loadOrder = append(m.loadOrder, id)
	m.startPump(host)
	m.mu.Unlock()

	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: id})
	return host, nil
}

// LoadAll loads every discovered plugin with auto_start set, highest
// runtime priority first.
func (m *Manager) LoadAll() error {
	infos := m.loader.Discover()

	candidates := make([]*Info, 0, len(infos))
	for _, info := range infos {
		if info.Err != nil {
			m.logger.Warn("skipping %s: %v", info.ID, info.Err)
			continue
		}
		if !info.Manifest.Runtime.AutoStartEnabled() {
			continue
		}
		candidates = append(candidates, info)
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Manifest.Runtime.Priority, candidates[j].Manifest.Runtime.Priority
		if pi != pj {
			return pi > pj
		}
		return candidates[i].ID < candidates[j].ID
	})

	var loadErrors []error
	for _, info := range candidates {
		if _, err := m.Load(info.ID); err != nil {
			if errors.Is(err, ErrDisabled) {
				continue
			}
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", info.ID, err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Unload stops and removes a plugin.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	host, exists := m.hosts[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	delete(m.hosts, id)
	m.removeFromLoadOrder(id)
	m.stopPump(id)
	m.mu.Unlock()

	if err := host.Unload(); err != nil {
		m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: id, Error: err})
		return fmt.Errorf("failed to unload plugin %q: %w", id, err)
	}

	m.emitEvent(ManagerEvent{Type: EventPluginUnloaded, Plugin: id})
	return nil
}

// UnloadAll unloads all plugins in reverse load order.
func (m *Manager) UnloadAll() error {
	m.mu.RLock()
	ids := make([]string, len(m.loadOrder))
	for i, id := range m.loadOrder {
		ids[len(m.loadOrder)-1-i] = id
	}
	m.mu.RUnlock()

	var unloadErrors []error
	for _, id := range ids {
		if err := m.Unload(id); err != nil {
			unloadErrors = append(unloadErrors, fmt.Errorf("%s: %w", id, err))
		}
	}

	if len(unloadErrors) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(unloadErrors), errors.Join(unloadErrors...))
	}
	return nil
}

// Suspend pauses a running plugin.
func (m *Manager) Suspend(id string) error {
	host, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if err := host.Suspend(); err != nil {
		return err
	}
	m.emitEvent(ManagerEvent{Type: EventPluginSuspended, Plugin: id})
	return nil
}

// Resume continues a suspended plugin.
func (m *Manager) Resume(id string) error {
	host, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if err := host.Resume(); err != nil {
		return err
	}
	m.emitEvent(ManagerEvent{Type: EventPluginResumed, Plugin: id})
	return nil
}

// Disable tears a plugin down if loaded and blocks future loads until
// Enable. The disabled set is persisted.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	host, loaded := m.hosts[id]
	if loaded {
		delete(m.hosts, id)
		m.removeFromLoadOrder(id)
		m.stopPump(id)
	}
	m.disabled[id] = true
	m.saveDisabledList()
	m.mu.Unlock()

	if loaded {
		if err := host.Disable(); err != nil {
			m.emitEvent(ManagerEvent{Type: EventPluginError, Plugin: id, Error: err})
			return err
		}
	}

	m.emitEvent(ManagerEvent{Type: EventPluginDisabled, Plugin: id})
	return nil
}

// Enable clears a plugin's disabled mark. The plugin is not loaded
// automatically.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	if !m.disabled[id] {
		m.mu.Unlock()
		return nil
	}
	delete(m.disabled, id)
	m.saveDisabledList()
	m.mu.Unlock()

	m.emitEvent(ManagerEvent{Type: EventPluginEnabled, Plugin: id})
	return nil
}

// IsDisabled reports whether a plugin id is disabled.
func (m *Manager) IsDisabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[id]
}

// Disabled returns the disabled plugin ids, sorted.
func (m *Manager) Disabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.disabled))
	for id := range m.disabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reload unloads and loads a plugin, picking up manifest and code
// changes.
func (m *Manager) Reload(id string) error {
	if _, exists := m.Get(id); !exists {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}

	if err := m.Unload(id); err != nil {
		return fmt.Errorf("reload unload failed: %w", err)
	}

	m.loader.Discover()

	if _, err := m.Load(id); err != nil {
		return fmt.Errorf("reload load failed: %w", err)
	}

	m.emitEvent(ManagerEvent{Type: EventPluginReloaded, Plugin: id})
	return nil
}

// OnConfigChanged broadcasts a host configuration change to all
// running plugins.
func (m *Manager) OnConfigChanged(key string, value any) {
	for _, host := range m.List() {
		host.OnConfigChanged(key, value)
	}
}

// Get returns a loaded plugin by id.
func (m *Manager) Get(id string) (*Host, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	host, exists := m.hosts[id]
	return host, exists
}

// List returns all loaded plugins in load order.
func (m *Manager) List() []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Host, 0, len(m.loadOrder))
	for _, id := range m.loadOrder {
		if host, exists := m.hosts[id]; exists {
			result = append(result, host)
		}
	}
	return result
}

// ListByState returns loaded plugins in a specific state.
func (m *Manager) ListByState(state State) []*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Host
	for _, id := range m.loadOrder {
		if host, exists := m.hosts[id]; exists && host.State() == state {
			result = append(result, host)
		}
	}
	return result
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}

// Loader returns the underlying loader.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Subscribe adds a lifecycle event handler and returns an unsubscribe
// function.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// SubscribePluginEvents adds a handler for plugin-emitted events and
// returns an unsubscribe function.
func (m *Manager) SubscribePluginEvents(handler PluginEventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.pluginHandlers = append(m.pluginHandlers, handler)
	index := len(m.pluginHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if index < len(m.pluginHandlers) {
			m.pluginHandlers[index] = nil
		}
	}
}

// trusted reports whether the host configuration trusts a plugin id.
func (m *Manager) trusted(id string) bool {
	for _, t := range m.config.TrustedPlugins {
		if t == id {
			return true
		}
	}
	return false
}

// sandboxConfig derives the sandbox policy for a plugin. Untrusted
// plugins always get a confinement built from their granted
// permissions; a manifest asking for sandbox=false is honored only
// for trusted plugins.
func (m *Manager) sandboxConfig(manifest *Manifest, meta Metadata, dataDir string) sandbox.Config {
	if m.trusted(meta.ID) {
		if !manifest.Runtime.SandboxEnabled() {
			return sandbox.Permissive()
		}
	} else if !manifest.Runtime.SandboxEnabled() {
		m.logger.Warn("plugin %s requests sandbox=false but is not trusted, sandboxing anyway", meta.ID)
	}

	cfg := sandbox.FromPermissions(meta.Permissions, dataDir)
	if manifest.Runtime.MaxMemoryMB > 0 {
		cfg.MemoryLimit(manifest.Runtime.MaxMemoryMB * 1024 * 1024)
	}
	return cfg
}

// checkDependencies verifies every declared dependency is loaded with
// a satisfying version.
func (m *Manager) checkDependencies(meta Metadata) error {
	if len(meta.Dependencies) == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for depID, raw := range meta.Dependencies {
		constraint, err := parseConstraint(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: bad constraint %q", ErrDependencyNotSatisfied, depID, raw)
		}
		dep, exists := m.hosts[depID]
		if !exists {
			return fmt.Errorf("%w: %s is not loaded", ErrDependencyNotSatisfied, depID)
		}
		if !dep.State().IsRunning() {
			return fmt.Errorf("%w: %s is not running", ErrDependencyNotSatisfied, depID)
		}
		if !constraint.Check(dep.Metadata().Version) {
			return fmt.Errorf("%w: %s v%s does not satisfy %q",
				ErrDependencyNotSatisfied, depID, dep.Metadata().Version, raw)
		}
	}
	return nil
}

// startPump forwards a host's plugin events to subscribers. Caller
// holds the write lock.
func (m *Manager) startPump(host *Host) {
	ctx := host.Context()
	if ctx == nil {
		return
	}
	stop := make(chan struct{})
	m.pumps[host.ID()] = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-ctx.Events():
				m.emitPluginEvent(ev)
			}
		}
	}()
}

// stopPump stops a plugin's event pump. Caller holds the write lock.
func (m *Manager) stopPump(id string) {
	if stop, ok := m.pumps[id]; ok {
		close(stop)
		delete(m.pumps, id)
	}
}

// emitEvent sends a lifecycle event to all handlers, outside any
// locks, with panic recovery.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				recover()
			}()
			handler(event)
		}()
	}
}

// emitPluginEvent sends a plugin event to all handlers.
func (m *Manager) emitPluginEvent(event Event) {
	m.mu.RLock()
	handlers := make([]PluginEventHandler, len(m.pluginHandlers))
	copy(handlers, m.pluginHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				recover()
			}()
			handler(event)
		}()
	}
}

// removeFromLoadOrder removes an id from the load order slice. Caller
// holds the write lock.
func (m *Manager) removeFromLoadOrder(id string) {
	for i, n := range m.loadOrder {
		if n == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}

// disabledFilePath returns the path of the persisted disabled list.
func (m *Manager) disabledFilePath() string {
	return filepath.Join(m.config.DataDir, disabledFileName)
}

// loadDisabledList reads the persisted disabled set. A missing file
// means nothing is disabled.
func (m *Manager) loadDisabledList() {
	data, err := os.ReadFile(m.disabledFilePath())
	if err != nil {
		return
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		m.logger.Warn("ignoring corrupt disabled list: %v", err)
		return
	}
	for _, id := range ids {
		m.disabled[id] = true
	}
}

// saveDisabledList persists the disabled set. Caller holds the write
// lock.
func (m *Manager) saveDisabledList() {
	ids := make([]string, 0, len(m.disabled))
	for id := range m.disabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(m.config.DataDir, 0o755); err != nil {
		m.logger.Warn("cannot persist disabled list: %v", err)
		return
	}
	if err := os.WriteFile(m.disabledFilePath(), data, 0o644); err != nil {
		m.logger.Warn("cannot persist disabled list: %v", err)
	}
}
