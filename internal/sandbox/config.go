package sandbox

import (
	"os"
	"path/filepath"
)

// Config is the enforceable containment profile for one plugin.
// It is always derived, either from a permission set via
// FromPermissions or from one of the presets; plugins never author it.
// Zero resource ceilings mean no limit.
type Config struct {
	// Enabled turns sandboxing on or off.
	Enabled bool

	// ReadPaths are the paths the plugin may read.
	ReadPaths []string

	// WritePaths are the paths the plugin may write.
	WritePaths []string

	// NetworkHosts are the hosts the plugin may reach. "*" allows all.
	NetworkHosts []string

	// AllowLocalhost permits connections to localhost.
	AllowLocalhost bool

	// EnvPassthrough lists environment variables forwarded into the
	// sandbox.
	EnvPassthrough []string

	// EnvSet are environment variables set explicitly inside the
	// sandbox.
	EnvSet map[string]string

	// MaxMemory is the memory ceiling in bytes.
	MaxMemory uint64

	// MaxCPUTime is the CPU time ceiling in seconds.
	MaxCPUTime uint32

	// MaxFDs is the open file descriptor ceiling.
	MaxFDs uint32

	// MaxProcesses is the process/thread ceiling.
	MaxProcesses uint32

	// DBusNames are the well-known bus names the plugin may claim or
	// call.
	DBusNames []string

	// AllowSessionBus permits session bus access.
	AllowSessionBus bool

	// AllowSystemBus permits system bus access.
	AllowSystemBus bool
}

// DefaultConfig returns the conservative baseline profile: sandboxing
// on, session bus only, a minimal environment, and moderate resource
// ceilings.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		EnvPassthrough: []string{
			"HOME",
			"USER",
			"LANG",
			"LC_ALL",
			"XDG_RUNTIME_DIR",
			"XDG_DATA_DIRS",
			"XDG_CONFIG_DIRS",
			"DISPLAY",
			"WAYLAND_DISPLAY",
			"DBUS_SESSION_BUS_ADDRESS",
		},
		EnvSet:          make(map[string]string),
		MaxMemory:       256 * 1024 * 1024,
		MaxFDs:          256,
		MaxProcesses:    10,
		AllowSessionBus: true,
		AllowSystemBus:  false,
	}
}

// FromPermissions derives a profile from a permission set and the
// plugin's private data directory. The data directory is always
// readable and writable; every other entry in the result comes from
// exactly one permission.
func FromPermissions(permissions *PermissionSet, dataDir string) Config {
	config := DefaultConfig()

	dataDir = normalizePath(dataDir)
	config.ReadPaths = append(config.ReadPaths, dataDir)
	config.WritePaths = append(config.WritePaths, dataDir)

	for _, p := range permissions.Permissions() {
		switch p.Kind {
		case KindNetwork:
			config.NetworkHosts = append(config.NetworkHosts, "*")
			config.AllowLocalhost = true
		case KindNetworkHost:
			config.NetworkHosts = append(config.NetworkHosts, p.Arg)
		case KindNetworkLocalhost:
			config.AllowLocalhost = true
		case KindFilesystem:
			config.ReadPaths = append(config.ReadPaths, "/")
			config.WritePaths = append(config.WritePaths, "/")
		case KindFilesystemHome:
			if home, err := os.UserHomeDir(); err == nil {
				config.ReadPaths = append(config.ReadPaths, home)
			}
		case KindFilesystemRead:
			config.ReadPaths = append(config.ReadPaths, p.Arg)
		case KindFilesystemWrite:
			config.ReadPaths = append(config.ReadPaths, p.Arg)
			config.WritePaths = append(config.WritePaths, p.Arg)
		case KindFilesystemDownloads:
			config.allowUserDir("Downloads")
		case KindFilesystemDocuments:
			config.allowUserDir("Documents")
		case KindFilesystemPictures:
			config.allowUserDir("Pictures")
		case KindDBusSession:
			config.AllowSessionBus = true
		case KindDBusSystem:
			config.AllowSystemBus = true
		case KindDBusName:
			config.DBusNames = append(config.DBusNames, p.Arg)
		}
	}

	return config
}

// allowUserDir adds a well-known directory under the user's home to
// both allow-lists.
func (c *Config) allowUserDir(name string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, name)
	c.ReadPaths = append(c.ReadPaths, dir)
	c.WritePaths = append(c.WritePaths, dir)
}

// Minimal returns the tightest useful profile: no bus access, a
// single process, and a short CPU ceiling. Used for untrusted or
// probationary plugins and in tests.
func Minimal() Config {
	return Config{
		Enabled:         true,
		EnvPassthrough:  []string{"LANG", "LC_ALL"},
		EnvSet:          make(map[string]string),
		MaxMemory:       64 * 1024 * 1024,
		MaxCPUTime:      60,
		MaxFDs:          32,
		MaxProcesses:    1,
		AllowSessionBus: false,
		AllowSystemBus:  false,
	}
}

// Permissive returns a profile with sandboxing disabled. Reserved for
// first-party plugins; callers must gate it on a trust signal outside
// the manifest (the host's trusted-plugin list), never on manifest
// content alone.
func Permissive() Config {
	config := DefaultConfig()
	config.Enabled = false
	return config
}

// AllowRead adds a read path.
func (c *Config) AllowRead(path string) *Config {
	c.ReadPaths = append(c.ReadPaths, normalizePath(path))
	return c
}

// AllowWrite adds a path to both the read and write allow-lists.
func (c *Config) AllowWrite(path string) *Config {
	path = normalizePath(path)
	c.ReadPaths = append(c.ReadPaths, path)
	c.WritePaths = append(c.WritePaths, path)
	return c
}

// AllowHost adds a network host.
func (c *Config) AllowHost(host string) *Config {
	c.NetworkHosts = append(c.NetworkHosts, normalizeHost(host))
	return c
}

// MemoryLimit sets the memory ceiling in bytes.
func (c *Config) MemoryLimit(bytes uint64) *Config {
	c.MaxMemory = bytes
	return c
}

// ProcessLimit sets the process ceiling.
func (c *Config) ProcessLimit(count uint32) *Config {
	c.MaxProcesses = count
	return c
}

// CanReadPath returns true if the profile allows reading path.
func (c *Config) CanReadPath(path string) bool {
	return pathAllowed(normalizePath(path), c.ReadPaths)
}

// CanWritePath returns true if the profile allows writing path.
func (c *Config) CanWritePath(path string) bool {
	return pathAllowed(normalizePath(path), c.WritePaths)
}

// CanReachHost returns true if the profile allows connecting to host.
func (c *Config) CanReachHost(host string) bool {
	host = normalizeHost(host)
	if c.AllowLocalhost && (host == "localhost" || host == "127.0.0.1" || host == "::1") {
		return true
	}
	for _, allowed := range c.NetworkHosts {
		if matchHost(host, allowed) {
			return true
		}
	}
	return false
}

func pathAllowed(target string, allowed []string) bool {
	for _, base := range allowed {
		if isWithinPath(target, base) {
			return true
		}
	}
	return false
}
