package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Loader discovers plugin packages on the filesystem. A plugin
// package is a directory containing a plugin.toml manifest.
type Loader struct {
	// Search paths, checked in order; the first directory providing
	// a plugin id wins.
	paths []string

	// Discovered plugins cache, keyed by plugin id.
	discovered map[string]*Info
}

// Info is what discovery learned about one plugin package.
type Info struct {
	ID       string
	Dir      string
	Manifest *Manifest

	// Err is set when the package has an unreadable or invalid
	// manifest.
	Err error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*Info),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default search paths, user dirs
// before system dirs.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 4)

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "lumen", "plugins"))
	}
	paths = append(paths,
		"/usr/local/share/lumen/plugins",
		"/usr/share/lumen/plugins",
	)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return append([]string{}, l.paths...)
}

// AddPath appends a search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Discover scans all search paths and returns what it found, sorted
// by plugin id. Packages with broken manifests are included with Err
// set so callers can report them.
func (l *Loader) Discover() []*Info {
	l.discovered = make(map[string]*Info)

	for _, base := range l.paths {
		l.discoverInPath(base)
	}

	infos := make([]*Info, 0, len(l.discovered))
	for _, info := range l.discovered {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// discoverInPath scans one base directory. Missing directories are
// not errors.
func (l *Loader) discoverInPath(base string) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
			continue
		}
		info := l.inspect(dir)
		if _, exists := l.discovered[info.ID]; !exists {
			l.discovered[info.ID] = info
		}
	}
}

// inspect loads and validates the manifest of one plugin directory.
func (l *Loader) inspect(dir string) *Info {
	manifest, err := LoadManifestFromDir(dir)
	if err != nil {
		// Keyed by directory name so broken packages still show up
		// in listings.
		return &Info{
			ID:  filepath.Base(dir),
			Dir: dir,
			Err: fmt.Errorf("invalid manifest: %w", err),
		}
	}
	return &Info{
		ID:       manifest.Plugin.ID,
		Dir:      dir,
		Manifest: manifest,
	}
}

// Get returns cached info for a plugin id.
func (l *Loader) Get(id string) (*Info, bool) {
	info, ok := l.discovered[id]
	return info, ok
}

// Find locates a plugin by id, scanning the search paths if it is not
// already cached.
func (l *Loader) Find(id string) (*Info, error) {
	if info, ok := l.discovered[id]; ok {
		if info.Err != nil {
			return nil, info.Err
		}
		return info, nil
	}

	for _, base := range l.paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(base, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
				continue
			}
			info := l.inspect(dir)
			if info.Err == nil && info.ID == id {
				l.discovered[id] = info
				return info, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// IDs returns the ids of all discovered plugins, sorted.
func (l *Loader) IDs() []string {
	ids := make([]string, 0, len(l.discovered))
	for id := range l.discovered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Errors returns discovered packages whose manifests failed to load.
func (l *Loader) Errors() []*Info {
	var broken []*Info
	for _, info := range l.discovered {
		if info.Err != nil {
			broken = append(broken, info)
		}
	}
	sort.Slice(broken, func(i, j int) bool {
		return broken[i].ID < broken[j].ID
	})
	return broken
}

// Count returns the number of discovered plugins.
func (l *Loader) Count() int {
	return len(l.discovered)
}
