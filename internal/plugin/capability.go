package plugin

// Capability names an optional feature contribution a plugin may
// provide to the shell.
type Capability string

// Capabilities a plugin can declare.
const (
	// CapabilityPanelWidget contributes a widget to the panel.
	CapabilityPanelWidget Capability = "panel-widget"

	// CapabilityNotificationHandler observes system notifications.
	CapabilityNotificationHandler Capability = "notification-handler"

	// CapabilityLauncherProvider contributes launcher search results.
	CapabilityLauncherProvider Capability = "launcher-provider"

	// CapabilitySettingsProvider contributes a settings page.
	CapabilitySettingsProvider Capability = "settings-provider"

	// CapabilityCommandProvider contributes commands.
	CapabilityCommandProvider Capability = "command-provider"

	// CapabilityBackgroundTask runs work with no UI contribution.
	CapabilityBackgroundTask Capability = "background-task"
)

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability contributes.
	Description string
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityPanelWidget: {
		Name:        CapabilityPanelWidget,
		DisplayName: "Panel Widget",
		Description: "Adds a widget to the panel",
	},
	CapabilityNotificationHandler: {
		Name:        CapabilityNotificationHandler,
		DisplayName: "Notification Handler",
		Description: "Observes and filters system notifications",
	},
	CapabilityLauncherProvider: {
		Name:        CapabilityLauncherProvider,
		DisplayName: "Launcher Provider",
		Description: "Adds search results to the launcher",
	},
	CapabilitySettingsProvider: {
		Name:        CapabilitySettingsProvider,
		DisplayName: "Settings Provider",
		Description: "Adds a page to system settings",
	},
	CapabilityCommandProvider: {
		Name:        CapabilityCommandProvider,
		DisplayName: "Command Provider",
		Description: "Adds commands to the command palette",
	},
	CapabilityBackgroundTask: {
		Name:        CapabilityBackgroundTask,
		DisplayName: "Background Task",
		Description: "Runs background work without a UI contribution",
	},
}

// GetCapabilityInfo returns information about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	return caps
}
