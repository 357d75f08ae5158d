// Package api defines the surfaces a plugin can contribute to the
// shell and the registry that wires contributions into host
// subsystems.
package api

// PanelPosition places a panel widget.
type PanelPosition int

// Panel positions.
const (
	PanelPositionLeft PanelPosition = iota
	PanelPositionCenter
	PanelPositionRight
)

// String returns a string representation of the position.
func (p PanelPosition) String() string {
	switch p {
	case PanelPositionLeft:
		return "left"
	case PanelPositionCenter:
		return "center"
	case PanelPositionRight:
		return "right"
	default:
		return "unknown"
	}
}

// PanelWidget is a widget contributed to the shell panel.
type PanelWidget interface {
	// WidgetID uniquely identifies the widget within its plugin.
	WidgetID() string

	// Title returns the current widget text.
	Title() string

	// Position returns where on the panel the widget sits.
	Position() PanelPosition

	// Priority orders widgets sharing a position, higher first.
	Priority() int
}

// Notification is a system notification as seen by handlers.
type Notification struct {
	ID      uint32
	AppName string
	Summary string
	Body    string
	Icon    string
	Urgency int
}

// NotificationHandler observes notifications flowing through the
// shell. HandleNotification returns true to suppress the notification.
type NotificationHandler interface {
	HandleNotification(n Notification) bool
}

// SearchResult is a single launcher result.
type SearchResult struct {
	Title    string
	Subtitle string
	Icon     string
	Score    float64

	// Action is an opaque token passed back on activation.
	Action string
}

// LauncherProvider contributes results to the launcher.
type LauncherProvider interface {
	// Search returns results for a query, best first.
	Search(query string) []SearchResult

	// Activate runs the action token of a chosen result.
	Activate(action string) error
}

// Setting is a single entry on a settings page.
type Setting struct {
	Key         string
	Label       string
	Description string

	// Type is one of "bool", "int", "string", "choice".
	Type string

	// Choices lists the allowed values for "choice" settings.
	Choices []string

	Default any
}

// SettingsPage is a page contributed to system settings.
type SettingsPage struct {
	Title    string
	Icon     string
	Settings []Setting
}

// SettingsProvider contributes a settings page.
type SettingsProvider interface {
	SettingsPage() SettingsPage
}

// Command is a named action contributed to the command palette.
type Command struct {
	Name        string
	Description string
}

// CommandProvider contributes commands.
type CommandProvider interface {
	// Commands lists the provider's commands.
	Commands() []Command

	// Execute runs a command by name.
	Execute(name string, args []string) error
}

// Source exposes a plugin's optional contributions. Each accessor
// returns nil when the plugin does not provide the surface.
type Source interface {
	PanelWidget() PanelWidget
	NotificationHandler() NotificationHandler
	LauncherProvider() LauncherProvider
	SettingsProvider() SettingsProvider
	CommandProvider() CommandProvider
}
