package plugin

import (
	"time"

	"github.com/dshills/lumen/internal/plugin/api"
)

// DefaultUpdateInterval is the update tick period for plugins that
// want updates but do not override the interval.
const DefaultUpdateInterval = time.Second

// Plugin is the contract plugin implementations satisfy. Lifecycle
// calls arrive from a single host goroutine; capability accessors are
// queried exactly once, after Init succeeds.
type Plugin interface {
	// Metadata returns the plugin's identity and requirements.
	Metadata() Metadata

	// Init initializes the plugin. The context stays valid until
	// Shutdown returns. An error here fails the load.
	Init(ctx *Context) error

	// Shutdown releases plugin resources. Called once, after all
	// capability contributions have been detached.
	Shutdown() error

	// Suspend pauses background activity. Errors are logged by the
	// host and do not affect lifecycle state.
	Suspend() error

	// Resume continues after a suspend. Errors are logged by the host
	// and do not affect lifecycle state.
	Resume() error

	// Update is a periodic tick, delivered only while active and only
	// when WantsUpdates is true.
	Update() error

	// WantsUpdates reports whether the plugin wants periodic Update
	// calls.
	WantsUpdates() bool

	// UpdateInterval returns the desired tick period.
	UpdateInterval() time.Duration

	// OnConfigChanged notifies the plugin of a host configuration
	// change. Errors are logged by the host and do not affect
	// lifecycle state.
	OnConfigChanged(key string, value any) error

	// Capability accessors. Each returns nil when the plugin does not
	// provide the surface.
	PanelWidget() api.PanelWidget
	NotificationHandler() api.NotificationHandler
	LauncherProvider() api.LauncherProvider
	SettingsProvider() api.SettingsProvider
	CommandProvider() api.CommandProvider
}

// Base provides no-op defaults for the optional Plugin methods.
// Embed it and override what the plugin needs.
type Base struct{}

// Shutdown is a no-op.
func (Base) Shutdown() error { return nil }

// Suspend is a no-op.
func (Base) Suspend() error { return nil }

// Resume is a no-op.
func (Base) Resume() error { return nil }

// Update is a no-op.
func (Base) Update() error { return nil }

// WantsUpdates returns false.
func (Base) WantsUpdates() bool { return false }

// UpdateInterval returns the default interval.
func (Base) UpdateInterval() time.Duration { return DefaultUpdateInterval }

// OnConfigChanged is a no-op.
func (Base) OnConfigChanged(key string, value any) error { return nil }

// PanelWidget returns nil.
func (Base) PanelWidget() api.PanelWidget { return nil }

// NotificationHandler returns nil.
func (Base) NotificationHandler() api.NotificationHandler { return nil }

// LauncherProvider returns nil.
func (Base) LauncherProvider() api.LauncherProvider { return nil }

// SettingsProvider returns nil.
func (Base) SettingsProvider() api.SettingsProvider { return nil }

// CommandProvider returns nil.
func (Base) CommandProvider() api.CommandProvider { return nil }
