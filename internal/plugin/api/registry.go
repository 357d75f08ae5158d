package api

import (
	"sync"

	"github.com/dshills/lumen/internal/logging"
)

// PanelHost receives panel widget contributions.
type PanelHost interface {
	AddWidget(pluginID string, w PanelWidget)
	RemoveWidgets(pluginID string)
}

// NotificationCenter receives notification handler contributions.
type NotificationCenter interface {
	AddHandler(pluginID string, h NotificationHandler)
	RemoveHandlers(pluginID string)
}

// LauncherHost receives launcher provider contributions.
type LauncherHost interface {
	AddProvider(pluginID string, p LauncherProvider)
	RemoveProviders(pluginID string)
}

// SettingsHost receives settings page contributions.
type SettingsHost interface {
	AddPage(pluginID string, p SettingsProvider)
	RemovePages(pluginID string)
}

// CommandHost receives command contributions.
type CommandHost interface {
	AddCommands(pluginID string, p CommandProvider)
	RemoveCommands(pluginID string)
}

// attachment records which surfaces a plugin contributed so they can
// be detached later without asking the plugin again.
type attachment struct {
	panel    bool
	notify   bool
	launcher bool
	settings bool
	commands bool
}

// Registry wires plugin contributions into host subsystems. A plugin
// is queried for its surfaces exactly once, at attach time.
type Registry struct {
	mu       sync.Mutex
	attached map[string]attachment

	panel    PanelHost
	notify   NotificationCenter
	launcher LauncherHost
	settings SettingsHost
	commands CommandHost

	logger *logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPanelHost wires a panel host.
func WithPanelHost(h PanelHost) RegistryOption {
	return func(r *Registry) { r.panel = h }
}

// WithNotificationCenter wires a notification center.
func WithNotificationCenter(h NotificationCenter) RegistryOption {
	return func(r *Registry) { r.notify = h }
}

// WithLauncherHost wires a launcher host.
func WithLauncherHost(h LauncherHost) RegistryOption {
	return func(r *Registry) { r.launcher = h }
}

// WithSettingsHost wires a settings host.
func WithSettingsHost(h SettingsHost) RegistryOption {
	return func(r *Registry) { r.settings = h }
}

// WithCommandHost wires a command host.
func WithCommandHost(h CommandHost) RegistryOption {
	return func(r *Registry) { r.commands = h }
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry. Subsystems left unwired silently
// ignore the corresponding contributions.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		attached: make(map[string]attachment),
		logger:   logging.NullLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry")
	return r
}

// Attach queries src once for each surface and registers the non-nil
// ones with the wired subsystems. Attaching an already attached plugin
// is a no-op.
func (r *Registry) Attach(pluginID string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attached[pluginID]; ok {
		return
	}

	var att attachment
	if w := src.PanelWidget(); w != nil && r.panel != nil {
		r.panel.AddWidget(pluginID, w)
		att.panel = true
	}
	if h := src.NotificationHandler(); h != nil && r.notify != nil {
		r.notify.AddHandler(pluginID, h)
		att.notify = true
	}
	if p := src.LauncherProvider(); p != nil && r.launcher != nil {
		r.launcher.AddProvider(pluginID, p)
		att.launcher = true
	}
	if p := src.SettingsProvider(); p != nil && r.settings != nil {
		r.settings.AddPage(pluginID, p)
		att.settings = true
	}
	if p := src.CommandProvider(); p != nil && r.commands != nil {
		r.commands.AddCommands(pluginID, p)
		att.commands = true
	}

	r.attached[pluginID] = att
	r.logger.WithPlugin(pluginID).Debug("attached plugin surfaces")
}

// DetachAll removes every contribution of a plugin from the wired
// subsystems. Detaching an unattached plugin is a no-op.
func (r *Registry) DetachAll(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	att, ok := r.attached[pluginID]
	if !ok {
		return
	}
	delete(r.attached, pluginID)

	if att.panel {
		r.panel.RemoveWidgets(pluginID)
	}
	if att.notify {
		r.notify.RemoveHandlers(pluginID)
	}
	if att.launcher {
		r.launcher.RemoveProviders(pluginID)
	}
	if att.settings {
		r.settings.RemovePages(pluginID)
	}
	if att.commands {
		r.commands.RemoveCommands(pluginID)
	}

	r.logger.WithPlugin(pluginID).Debug("detached plugin surfaces")
}

// Attached reports whether a plugin currently has attached surfaces.
func (r *Registry) Attached(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attached[pluginID]
	return ok
}
