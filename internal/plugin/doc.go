// Package plugin provides the plugin system for Lumen.
//
// Plugins extend the shell with Lua packages that can:
//   - Contribute widgets to the panel
//   - Observe and filter system notifications
//   - Provide launcher search results
//   - Add pages to system settings
//   - Register commands in the command palette
//   - Run periodic background work
//
// # Quick Start
//
// The Manager coordinates discovery, policy checks, and lifecycle:
//
//	cfg := plugin.DefaultManagerConfig()
//	cfg.Factory = luaplug.Factory
//	cfg.Registry = registry
//
//	mgr, err := plugin.NewManager(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.UnloadAll()
//
//	if err := mgr.LoadAll(); err != nil {
//	    log.Printf("some plugins failed to load: %v", err)
//	}
//
// # Plugin Packages
//
// A plugin package is a directory containing a plugin.toml manifest:
//
//	~/.local/share/lumen/plugins/clock/
//	├── plugin.toml      # Manifest
//	├── main.lua         # Entry point
//	└── icons/           # Resources
//	    └── clock.svg
//
// # Manifest
//
// The plugin.toml manifest describes the plugin:
//
//	[plugin]
//	id = "org.lumen.clock"
//	name = "Clock"
//	version = "1.0.0"
//	min_api_version = "1.0.0"
//	capabilities = ["panel-widget"]
//	permissions = ["own-data", "notifications-send"]
//
//	[runtime]
//	auto_start = true
//	max_memory_mb = 64
//
// # Permissions
//
// Plugins declare every permission they need up front; anything not
// granted is denied at runtime and enforced by the sandbox profile
// derived from the grant (see the sandbox package). Broad permissions
// such as filesystem or spawn-process are flagged as dangerous and
// surfaced to the user before installation.
//
// # Plugin Lifecycle
//
// Plugins move through these states:
//
//	StateUnloaded -> Load() -> StateLoading -> StateActive
//	StateActive <-> Suspend()/Resume() <-> StateSuspended
//	StateActive -> Unload() -> StateUnloading -> StateUnloaded
//
// A failure during loading or unloading parks the plugin in
// StateFailed. Disable() is reachable from every state and persists
// across restarts; Enable() returns the plugin to StateUnloaded.
//
// # Architecture
//
//   - Manager: discovery, version and dependency checks, sandbox
//     policy, lifecycle orchestration
//   - Host: per-plugin state machine, update loop, teardown ordering
//   - Loader: finds plugin packages across the search paths
//   - Context: per-plugin directories, key/value state, event channel
//   - api.Registry: wires capability contributions into shell
//     subsystems, querying each plugin exactly once at load
package plugin
