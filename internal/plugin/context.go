package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/sandbox"
)

// eventBufferSize bounds the per-plugin event channel. Emitting on a
// full channel drops the event rather than blocking plugin code.
const eventBufferSize = 64

// EventKind classifies plugin-emitted events.
type EventKind int

// Event kinds.
const (
	EventShowNotification EventKind = iota
	EventRefreshUI
	EventSaveState
	EventLog
	EventCustom
)

// String returns a string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventShowNotification:
		return "show-notification"
	case EventRefreshUI:
		return "refresh-ui"
	case EventSaveState:
		return "save-state"
	case EventLog:
		return "log"
	case EventCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Event is a message a plugin sends to the host.
type Event struct {
	PluginID string
	Kind     EventKind
	Title    string
	Body     string
	Payload  map[string]any
	Time     time.Time
}

// Context is the host-provided environment a plugin runs in: its
// private directories, a permission snapshot, a key/value state store,
// and an event channel to the host. Valid from Init until Shutdown
// returns.
type Context struct {
	pluginID    string
	baseDir     string
	dataDir     string
	configDir   string
	cacheDir    string
	resourceDir string

	permissions *sandbox.PermissionSet

	mu    sync.Mutex
	state map[string]any

	events chan Event
	logger *logging.Logger
}

// NewContext creates a plugin context and its directory layout under
// baseDir. A directory that cannot be created fails the whole call.
func NewContext(pluginID, baseDir string, permissions *sandbox.PermissionSet, logger *logging.Logger) (*Context, error) {
	if logger == nil {
		logger = logging.NullLogger
	}

	ctx := &Context{
		pluginID:    pluginID,
		baseDir:     baseDir,
		dataDir:     filepath.Join(baseDir, "data"),
		configDir:   filepath.Join(baseDir, "config"),
		cacheDir:    filepath.Join(baseDir, "cache"),
		resourceDir: filepath.Join(baseDir, "resources"),
		permissions: permissions.Clone(),
		state:       make(map[string]any),
		events:      make(chan Event, eventBufferSize),
		logger:      logger.WithPlugin(pluginID),
	}

	for _, dir := range []string{ctx.dataDir, ctx.configDir, ctx.cacheDir, ctx.resourceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", ErrConfig, dir, err)
		}
	}

	return ctx, nil
}

// PluginID returns the owning plugin's id.
func (c *Context) PluginID() string { return c.pluginID }

// DataDir returns the plugin's private data directory.
func (c *Context) DataDir() string { return c.dataDir }

// ConfigDir returns the plugin's config directory.
func (c *Context) ConfigDir() string { return c.configDir }

// CacheDir returns the plugin's cache directory.
func (c *Context) CacheDir() string { return c.cacheDir }

// ResourceDir returns the plugin's resource directory.
func (c *Context) ResourceDir() string { return c.resourceDir }

// DataFile returns the path of a file in the data directory.
func (c *Context) DataFile(name string) string {
	return filepath.Join(c.dataDir, name)
}

// ConfigFile returns the path of a file in the config directory.
func (c *Context) ConfigFile(name string) string {
	return filepath.Join(c.configDir, name)
}

// ResourceFile returns the path of a file in the resource directory.
func (c *Context) ResourceFile(name string) string {
	return filepath.Join(c.resourceDir, name)
}

// HasPermission reports whether the plugin holds a permission,
// directly or by implication.
func (c *Context) HasPermission(p sandbox.Permission) bool {
	return c.permissions.Has(p)
}

// Permissions returns a copy of the plugin's permission set.
func (c *Context) Permissions() *sandbox.PermissionSet {
	return c.permissions.Clone()
}

// SetState stores a value in the plugin's key/value store. The store
// survives suspend and resume unchanged.
func (c *Context) SetState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// GetState retrieves a value from the key/value store.
func (c *Context) GetState(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// DeleteState removes a key from the key/value store.
func (c *Context) DeleteState(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, key)
}

// StateKeys returns the stored keys in no particular order.
func (c *Context) StateKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.state))
	for k := range c.state {
		keys = append(keys, k)
	}
	return keys
}

// EmitEvent sends an event to the host without blocking. When the
// channel is saturated the event is dropped and false is returned.
func (c *Context) EmitEvent(ev Event) bool {
	ev.PluginID = c.pluginID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.logger.Warn("event channel full, dropping %s event", ev.Kind)
		return false
	}
}

// Events returns the plugin's event channel for host consumption.
func (c *Context) Events() <-chan Event {
	return c.events
}

// ShowNotification emits a notification request event.
func (c *Context) ShowNotification(title, body string) bool {
	return c.EmitEvent(Event{Kind: EventShowNotification, Title: title, Body: body})
}

// RequestRefresh emits a UI refresh request event.
func (c *Context) RequestRefresh() bool {
	return c.EmitEvent(Event{Kind: EventRefreshUI})
}

// Log writes to the plugin's logger.
func (c *Context) Log(format string, args ...any) {
	c.logger.Info(format, args...)
}

// Logger returns the plugin-scoped logger.
func (c *Context) Logger() *logging.Logger {
	return c.logger
}
