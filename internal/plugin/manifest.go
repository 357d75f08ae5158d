package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/lumen/internal/sandbox"
)

// ManifestFileName is the manifest file expected in each plugin
// directory.
const ManifestFileName = "plugin.toml"

// Manifest describes a plugin package on disk: its identity, build
// artifacts, and runtime policy.
type Manifest struct {
	Plugin  ManifestPlugin `toml:"plugin"`
	Build   BuildConfig    `toml:"build"`
	Runtime RuntimeConfig  `toml:"runtime"`

	// Internal: directory the manifest was loaded from.
	dir string
}

// ManifestPlugin is the [plugin] table.
type ManifestPlugin struct {
	ID            string            `toml:"id"`
	Name          string            `toml:"name"`
	Version       string            `toml:"version"`
	Description   string            `toml:"description"`
	Authors       []string          `toml:"authors"`
	Homepage      string            `toml:"homepage"`
	License       string            `toml:"license"`
	MinAPIVersion string            `toml:"min_api_version"`
	Capabilities  []string          `toml:"capabilities"`
	Permissions   []string          `toml:"permissions"`
	Dependencies  map[string]string `toml:"dependencies"`
	Icon          string            `toml:"icon"`
	Category      string            `toml:"category"`
	Keywords      []string          `toml:"keywords"`
}

// BuildConfig is the [build] table.
type BuildConfig struct {
	// LibName is the entry artifact, without extension.
	LibName   string   `toml:"lib_name"`
	Resources []string `toml:"resources"`
	Features  []string `toml:"features"`
}

// RuntimeConfig is the [runtime] table. Booleans are pointers so an
// absent key can default to true.
type RuntimeConfig struct {
	AutoStart   *bool  `toml:"auto_start"`
	HotReload   *bool  `toml:"hot_reload"`
	Sandbox     *bool  `toml:"sandbox"`
	MaxMemoryMB uint64 `toml:"max_memory_mb"`
	Priority    int    `toml:"priority"`
}

// AutoStart returns the auto_start setting (default true).
func (r *RuntimeConfig) AutoStartEnabled() bool {
	return r.AutoStart == nil || *r.AutoStart
}

// HotReloadEnabled returns the hot_reload setting (default true).
func (r *RuntimeConfig) HotReloadEnabled() bool {
	return r.HotReload == nil || *r.HotReload
}

// SandboxEnabled returns the sandbox setting (default true).
func (r *RuntimeConfig) SandboxEnabled() bool {
	return r.Sandbox == nil || *r.Sandbox
}

// LoadManifest loads and validates a plugin manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.dir = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifestFromDir loads a manifest from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Plugin.Version == "" {
		m.Plugin.Version = "0.1.0"
	}
	if m.Plugin.MinAPIVersion == "" {
		m.Plugin.MinAPIVersion = "1.0.0"
	}
	if m.Runtime.MaxMemoryMB == 0 {
		m.Runtime.MaxMemoryMB = 128
	}
}

// Validate checks the manifest by building its metadata.
func (m *Manifest) Validate() error {
	_, err := m.Metadata()
	return err
}

// Metadata builds the immutable metadata view of the manifest.
func (m *Manifest) Metadata() (Metadata, error) {
	version, err := semver.NewVersion(m.Plugin.Version)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidVersion, m.Plugin.Version)
	}
	minAPI, err := semver.NewVersion(m.Plugin.MinAPIVersion)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: min_api_version %s", ErrInvalidVersion, m.Plugin.MinAPIVersion)
	}

	perms, err := sandbox.ParseSet(m.Plugin.Permissions)
	if err != nil {
		return Metadata{}, fmt.Errorf("manifest: %w", err)
	}

	caps := make([]Capability, len(m.Plugin.Capabilities))
	for i, c := range m.Plugin.Capabilities {
		caps[i] = Capability(c)
	}

	deps := make(map[string]string, len(m.Plugin.Dependencies))
	for id, constraint := range m.Plugin.Dependencies {
		deps[id] = constraint
	}

	meta := Metadata{
		ID:            m.Plugin.ID,
		Name:          m.Plugin.Name,
		Version:       version,
		Description:   m.Plugin.Description,
		Authors:       append([]string{}, m.Plugin.Authors...),
		Homepage:      m.Plugin.Homepage,
		License:       m.Plugin.License,
		MinAPIVersion: minAPI,
		Capabilities:  caps,
		Permissions:   perms,
		Dependencies:  deps,
		Icon:          m.Plugin.Icon,
		Category:      m.Plugin.Category,
		Keywords:      append([]string{}, m.Plugin.Keywords...),
	}

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Dir returns the plugin directory the manifest was loaded from.
func (m *Manifest) Dir() string {
	return m.dir
}

// EntryFile returns the path of the plugin's entry artifact: the
// configured lib_name (with .lua appended when bare), or main.lua.
func (m *Manifest) EntryFile() string {
	name := m.Build.LibName
	if name == "" {
		name = "main.lua"
	} else if filepath.Ext(name) == "" {
		name += ".lua"
	}
	return filepath.Join(m.dir, name)
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	name := m.Plugin.Name
	if name == "" {
		name = m.Plugin.ID
	}
	return fmt.Sprintf("%s v%s", name, m.Plugin.Version)
}
