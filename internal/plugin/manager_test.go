package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// trustedTestManifest builds a manifest that opts out of sandboxing.
// Tests run plugins in-process, so they are marked trusted and the
// profile stays disabled; resource limits would otherwise apply to the
// test binary itself.
func trustedTestManifest(id, version, extra string) string {
	return `
[plugin]
id = "` + id + `"
name = "Test"
version = "` + version + `"
` + extra + `
[runtime]
sandbox = false
`
}

func newTestManager(t *testing.T, pluginDir string, mutate func(*ManagerConfig)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		PluginPaths:    []string{pluginDir},
		DataDir:        t.TempDir(),
		HostAPIVersion: "1.0.0",
		MaxPlugins:     100,
		TrustedPlugins: []string{
			"org.lumen.alpha", "org.lumen.beta", "org.lumen.core", "org.lumen.dep",
		},
		Factory: func(info *Info) (Plugin, error) {
			return &fakePlugin{}, nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManagerRequiresFactory(t *testing.T) {
	_, err := NewManager(ManagerConfig{HostAPIVersion: "1.0.0"})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("NewManager without factory = %v, want ErrConfig", err)
	}
}

func TestManagerLoadUnload(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	host, err := m.Load("org.lumen.alpha")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if host.State() != StateActive {
		t.Errorf("state = %s, want active", host.State())
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
	if _, ok := m.Get("org.lumen.alpha"); !ok {
		t.Error("Get did not find loaded plugin")
	}

	if _, err := m.Load("org.lumen.alpha"); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load = %v, want ErrAlreadyLoaded", err)
	}

	if err := m.Unload("org.lumen.alpha"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count after unload = %d, want 0", m.Count())
	}
	if err := m.Unload("org.lumen.alpha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Unload = %v, want ErrNotFound", err)
	}
}

func TestManagerLoadUnknown(t *testing.T) {
	m := newTestManager(t, t.TempDir(), nil)
	if _, err := m.Load("org.lumen.ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(ghost) = %v, want ErrNotFound", err)
	}
}

func TestManagerVersionMismatchNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0",
		"min_api_version = \"2.0.0\"\n"))
	m := newTestManager(t, dir, nil)

	_, err := m.Load("org.lumen.alpha")
	var mismatch *VersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Load = %v, want VersionMismatchError", err)
	}

	// A rejected plugin must leave no trace: nothing registered,
	// nothing on disk.
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0", m.Count())
	}
	pluginData := filepath.Join(m.config.DataDir, "plugins", "org.lumen.alpha")
	if _, statErr := os.Stat(pluginData); !os.IsNotExist(statErr) {
		t.Errorf("plugin data dir %s exists after rejected load", pluginData)
	}
}

func TestManagerDependencyChecks(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", trustedTestManifest("org.lumen.core", "1.5.0", ""))
	writePlugin(t, dir, "dep", trustedTestManifest("org.lumen.dep", "1.0.0", `
[plugin.dependencies]
"org.lumen.core" = ">= 1.0"
`))
	m := newTestManager(t, dir, nil)

	// Dependency not loaded yet.
	if _, err := m.Load("org.lumen.dep"); !errors.Is(err, ErrDependencyNotSatisfied) {
		t.Fatalf("Load without dependency = %v, want ErrDependencyNotSatisfied", err)
	}

	if _, err := m.Load("org.lumen.core"); err != nil {
		t.Fatalf("Load core: %v", err)
	}
	if _, err := m.Load("org.lumen.dep"); err != nil {
		t.Fatalf("Load dep with satisfied dependency: %v", err)
	}
}

func TestManagerDependencyVersionTooOld(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "core", trustedTestManifest("org.lumen.core", "1.0.0", ""))
	writePlugin(t, dir, "dep", trustedTestManifest("org.lumen.dep", "1.0.0", `
[plugin.dependencies]
"org.lumen.core" = ">= 2.0"
`))
	m := newTestManager(t, dir, nil)

	if _, err := m.Load("org.lumen.core"); err != nil {
		t.Fatalf("Load core: %v", err)
	}
	if _, err := m.Load("org.lumen.dep"); !errors.Is(err, ErrDependencyNotSatisfied) {
		t.Errorf("Load = %v, want ErrDependencyNotSatisfied", err)
	}
}

func TestManagerMaxPlugins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	writePlugin(t, dir, "beta", trustedTestManifest("org.lumen.beta", "1.0.0", ""))
	m := newTestManager(t, dir, func(cfg *ManagerConfig) {
		cfg.MaxPlugins = 1
	})

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.Load("org.lumen.beta"); !errors.Is(err, ErrTooManyPlugins) {
		t.Errorf("Load over limit = %v, want ErrTooManyPlugins", err)
	}
}

func TestManagerDisableEnable(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Disabling a loaded plugin tears it down.
	if err := m.Disable("org.lumen.alpha"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0 after disable", m.Count())
	}
	if !m.IsDisabled("org.lumen.alpha") {
		t.Error("IsDisabled = false")
	}

	// Loading while disabled is refused.
	if _, err := m.Load("org.lumen.alpha"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Load while disabled = %v, want ErrDisabled", err)
	}

	if err := m.Enable("org.lumen.alpha"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Errorf("Load after enable: %v", err)
	}
}

func TestManagerDisabledListPersists(t *testing.T) {
	dir := t.TempDir()
	dataDir := t.TempDir()
	mutate := func(cfg *ManagerConfig) { cfg.DataDir = dataDir }

	m1 := newTestManager(t, dir, mutate)
	if err := m1.Disable("org.lumen.alpha"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	// A fresh manager over the same data dir sees the mark.
	m2 := newTestManager(t, dir, mutate)
	if !m2.IsDisabled("org.lumen.alpha") {
		t.Error("disabled mark not persisted across managers")
	}
	if got := m2.Disabled(); len(got) != 1 || got[0] != "org.lumen.alpha" {
		t.Errorf("Disabled = %v", got)
	}

	if err := m2.Enable("org.lumen.alpha"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	m3 := newTestManager(t, dir, mutate)
	if m3.IsDisabled("org.lumen.alpha") {
		t.Error("enable not persisted across managers")
	}
}

func TestManagerLoadAllPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", `
[plugin]
id = "org.lumen.alpha"
name = "Alpha"
version = "1.0.0"

[runtime]
sandbox = false
priority = 1
`)
	writePlugin(t, dir, "beta", `
[plugin]
id = "org.lumen.beta"
name = "Beta"
version = "1.0.0"

[runtime]
sandbox = false
priority = 10
`)
	writePlugin(t, dir, "core", `
[plugin]
id = "org.lumen.core"
name = "Core"
version = "1.0.0"

[runtime]
sandbox = false
auto_start = false
`)
	m := newTestManager(t, dir, nil)

	var order []string
	m.Subscribe(func(ev ManagerEvent) {
		if ev.Type == EventPluginLoaded {
			order = append(order, ev.Plugin)
		}
	})

	if err := m.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	// Highest priority first; auto_start=false is skipped.
	if len(order) != 2 || order[0] != "org.lumen.beta" || order[1] != "org.lumen.alpha" {
		t.Errorf("load order = %v", order)
	}
	if _, ok := m.Get("org.lumen.core"); ok {
		t.Error("auto_start=false plugin was loaded")
	}
}

func TestManagerLoadAllSkipsDisabled(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	writePlugin(t, dir, "beta", trustedTestManifest("org.lumen.beta", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	if err := m.Disable("org.lumen.beta"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	// A disabled plugin is not an error during bulk load.
	if err := m.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestManagerSuspendResume(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Suspend("org.lumen.alpha"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if got := m.ListByState(StateSuspended); len(got) != 1 {
		t.Errorf("ListByState(suspended) = %d hosts, want 1", len(got))
	}
	if err := m.Resume("org.lumen.alpha"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := m.ListByState(StateActive); len(got) != 1 {
		t.Errorf("ListByState(active) = %d hosts, want 1", len(got))
	}
}

func TestManagerReload(t *testing.T) {
	searchDir := t.TempDir()
	pluginDir := writePlugin(t, searchDir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	m := newTestManager(t, searchDir, nil)

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Reload picks up a changed manifest.
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFileName),
		[]byte(trustedTestManifest("org.lumen.alpha", "2.0.0", "")), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload("org.lumen.alpha"); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	host, ok := m.Get("org.lumen.alpha")
	if !ok {
		t.Fatal("plugin missing after reload")
	}
	if got := host.Metadata().Version.String(); got != "2.0.0" {
		t.Errorf("version after reload = %s, want 2.0.0", got)
	}
}

func TestManagerUnloadAllReverseOrder(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	writePlugin(t, dir, "beta", trustedTestManifest("org.lumen.beta", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.Load("org.lumen.beta"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var order []string
	m.Subscribe(func(ev ManagerEvent) {
		if ev.Type == EventPluginUnloaded {
			order = append(order, ev.Plugin)
		}
	})

	if err := m.UnloadAll(); err != nil {
		t.Fatalf("UnloadAll: %v", err)
	}
	if len(order) != 2 || order[0] != "org.lumen.beta" || order[1] != "org.lumen.alpha" {
		t.Errorf("unload order = %v, want reverse of load order", order)
	}
}

func TestManagerSandboxPolicy(t *testing.T) {
	m := newTestManager(t, t.TempDir(), func(cfg *ManagerConfig) {
		cfg.TrustedPlugins = []string{"org.lumen.trusted"}
	})

	load := func(t *testing.T, id string, sandboxOff bool) (*Manifest, Metadata) {
		t.Helper()
		extra := ""
		if sandboxOff {
			extra = "[runtime]\nsandbox = false\n"
		}
		dir := writeManifest(t, `
[plugin]
id = "`+id+`"
name = "X"
version = "1.0.0"
permissions = ["own-data"]
`+extra)
		manifest, err := LoadManifestFromDir(dir)
		if err != nil {
			t.Fatalf("LoadManifestFromDir: %v", err)
		}
		meta, err := manifest.Metadata()
		if err != nil {
			t.Fatalf("Metadata: %v", err)
		}
		return manifest, meta
	}

	t.Run("trusted opt-out is honored", func(t *testing.T) {
		manifest, meta := load(t, "org.lumen.trusted", true)
		cfg := m.sandboxConfig(manifest, meta, t.TempDir())
		if cfg.Enabled {
			t.Error("trusted plugin with sandbox=false should run unconfined")
		}
	})

	t.Run("untrusted opt-out is ignored", func(t *testing.T) {
		manifest, meta := load(t, "org.lumen.sneaky", true)
		cfg := m.sandboxConfig(manifest, meta, t.TempDir())
		if !cfg.Enabled {
			t.Error("untrusted plugin must stay sandboxed regardless of its manifest")
		}
	})

	t.Run("memory limit from manifest", func(t *testing.T) {
		manifest, meta := load(t, "org.lumen.sneaky", false)
		manifest.Runtime.MaxMemoryMB = 64
		cfg := m.sandboxConfig(manifest, meta, t.TempDir())
		if !cfg.Enabled {
			t.Error("default profile should be enabled")
		}
		if cfg.MaxMemory != 64*1024*1024 {
			t.Errorf("MaxMemory = %d, want 64 MiB", cfg.MaxMemory)
		}
	})
}

func TestManagerPluginEventsForwarded(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))

	var plug *fakePlugin
	m := newTestManager(t, dir, func(cfg *ManagerConfig) {
		cfg.Factory = func(info *Info) (Plugin, error) {
			plug = &fakePlugin{}
			return plug, nil
		}
	})

	received := make(chan Event, 1)
	m.SubscribePluginEvents(func(ev Event) {
		select {
		case received <- ev:
		default:
		}
	})

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	plug.ctx.EmitEvent(Event{Kind: EventShowNotification, Title: "hello"})

	select {
	case ev := <-received:
		if ev.PluginID != "org.lumen.alpha" || ev.Title != "hello" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("plugin event not forwarded to subscribers")
	}
}

func TestManagerSubscribeUnsubscribe(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))
	m := newTestManager(t, dir, nil)

	count := 0
	unsubscribe := m.Subscribe(func(ev ManagerEvent) { count++ })

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if count != 1 {
		t.Fatalf("handler called %d times, want 1", count)
	}

	unsubscribe()
	if err := m.Unload("org.lumen.alpha"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if count != 1 {
		t.Errorf("handler called after unsubscribe")
	}
}

func TestManagerOnConfigChanged(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "alpha", trustedTestManifest("org.lumen.alpha", "1.0.0", ""))

	var plug *configPlugin
	m := newTestManager(t, dir, func(cfg *ManagerConfig) {
		cfg.Factory = func(info *Info) (Plugin, error) {
			plug = &configPlugin{}
			return plug, nil
		}
	})

	if _, err := m.Load("org.lumen.alpha"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.OnConfigChanged("theme", "dark")

	plug.mu.Lock()
	defer plug.mu.Unlock()
	if plug.key != "theme" || plug.value != "dark" {
		t.Errorf("config change = %q/%v", plug.key, plug.value)
	}
}

// configPlugin records config change notifications.
type configPlugin struct {
	fakePlugin
	key   string
	value any
}

func (p *configPlugin) OnConfigChanged(key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
	p.value = value
	return errors.New("handler hiccup") // errors are absorbed
}
