package luaplug

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/lumen/internal/plugin"
)

// writeLuaPackage creates a plugin package with a manifest and entry
// file and returns discovery info for it.
func writeLuaPackage(t *testing.T, manifest, luaCode string) *plugin.Info {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, plugin.ManifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(luaCode), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := plugin.LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir: %v", err)
	}
	return &plugin.Info{ID: m.Plugin.ID, Dir: dir, Manifest: m}
}

const basicManifest = `
[plugin]
id = "org.lumen.luatest"
name = "Lua Test"
version = "1.0.0"
permissions = ["own-data", "notifications-send"]
`

// initPlugin builds and initializes a LuaPlugin with a fresh context.
func initPlugin(t *testing.T, manifest, luaCode string) *LuaPlugin {
	t.Helper()
	info := writeLuaPackage(t, manifest, luaCode)
	p, err := New(info)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, err := plugin.NewContext(p.Metadata().ID, t.TempDir(), p.Metadata().Permissions, nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := p.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func TestLuaPluginLifecycle(t *testing.T) {
	p := initPlugin(t, basicManifest, `
		local lumen = require("lumen")

		function init()
			lumen.set_state("phase", "initialized")
		end

		function suspend()
			lumen.set_state("phase", "suspended")
		end

		function resume()
			lumen.set_state("phase", "resumed")
		end

		function shutdown()
			lumen.set_state("phase", "done")
		end
	`)

	phase := func() any {
		v, _ := p.ctx.GetState("phase")
		return v
	}

	if got := phase(); got != "initialized" {
		t.Errorf("after init phase = %v", got)
	}
	if err := p.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if got := phase(); got != "suspended" {
		t.Errorf("after suspend phase = %v", got)
	}
	if err := p.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := phase(); got != "resumed" {
		t.Errorf("after resume phase = %v", got)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := phase(); got != "done" {
		t.Errorf("after shutdown phase = %v", got)
	}
}

func TestLuaPluginInitError(t *testing.T) {
	info := writeLuaPackage(t, basicManifest, `this is not lua`)
	p, err := New(info)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, err := plugin.NewContext(p.Metadata().ID, t.TempDir(), p.Metadata().Permissions, nil)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := p.Init(ctx); !errors.Is(err, plugin.ErrRuntime) {
		t.Errorf("Init = %v, want ErrRuntime", err)
	}
}

func TestLuaPluginUpdates(t *testing.T) {
	p := initPlugin(t, basicManifest, `
		local lumen = require("lumen")
		update_interval = 250
		ticks = 0

		function update()
			ticks = ticks + 1
			lumen.set_state("ticks", ticks)
		end
	`)

	if !p.WantsUpdates() {
		t.Fatal("WantsUpdates = false for package with update()")
	}
	if got := p.UpdateInterval(); got != 250*time.Millisecond {
		t.Errorf("UpdateInterval = %v, want 250ms", got)
	}

	if err := p.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := p.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v, _ := p.ctx.GetState("ticks"); v != float64(2) {
		t.Errorf("ticks = %v, want 2", v)
	}
}

func TestLuaPluginNoUpdates(t *testing.T) {
	p := initPlugin(t, basicManifest, `-- nothing`)
	if p.WantsUpdates() {
		t.Error("WantsUpdates = true for package without update()")
	}
	if p.UpdateInterval() != plugin.DefaultUpdateInterval {
		t.Errorf("UpdateInterval = %v, want default", p.UpdateInterval())
	}
}

func TestLuaPluginCommands(t *testing.T) {
	p := initPlugin(t, basicManifest, `
		local lumen = require("lumen")

		lumen.register_command("greet", "Say hello", function(args)
			lumen.set_state("greeted", args[1])
		end)
	`)

	provider := p.CommandProvider()
	if provider == nil {
		t.Fatal("CommandProvider = nil")
	}
	cmds := provider.Commands()
	if len(cmds) != 1 || cmds[0].Name != "greet" || cmds[0].Description != "Say hello" {
		t.Fatalf("Commands = %+v", cmds)
	}

	if err := provider.Execute("greet", []string{"world"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v, _ := p.ctx.GetState("greeted"); v != "world" {
		t.Errorf("greeted = %v, want world", v)
	}

	if err := provider.Execute("missing", nil); !errors.Is(err, plugin.ErrAPI) {
		t.Errorf("Execute(missing) = %v, want ErrAPI", err)
	}
}

func TestLuaPluginNoCommands(t *testing.T) {
	p := initPlugin(t, basicManifest, `-- nothing`)
	if p.CommandProvider() != nil {
		t.Error("CommandProvider should be nil without registered commands")
	}
}

func TestLuaPluginWidget(t *testing.T) {
	widgetManifest := `
[plugin]
id = "org.lumen.luatest"
name = "Lua Test"
version = "1.0.0"
capabilities = ["panel-widget"]
permissions = ["own-data"]
`
	p := initPlugin(t, widgetManifest, `
		widget_position = "center"

		function widget_title()
			return "12:30"
		end
	`)

	w := p.PanelWidget()
	if w == nil {
		t.Fatal("PanelWidget = nil")
	}
	if w.WidgetID() != "org.lumen.luatest" {
		t.Errorf("WidgetID = %q", w.WidgetID())
	}
	if w.Title() != "12:30" {
		t.Errorf("Title = %q", w.Title())
	}
	if w.Position().String() != "center" {
		t.Errorf("Position = %s", w.Position())
	}
}

func TestLuaPluginWidgetRequiresCapability(t *testing.T) {
	// widget_title alone is not enough without the declared capability.
	p := initPlugin(t, basicManifest, `
		function widget_title()
			return "nope"
		end
	`)
	if p.PanelWidget() != nil {
		t.Error("PanelWidget exposed without the panel-widget capability")
	}
}

func TestLuaPluginConfigChanged(t *testing.T) {
	p := initPlugin(t, basicManifest, `
		local lumen = require("lumen")

		function on_config_changed(key, value)
			lumen.set_state("config:" .. key, value)
		end
	`)

	if err := p.OnConfigChanged("theme", "dark"); err != nil {
		t.Fatalf("OnConfigChanged: %v", err)
	}
	if v, _ := p.ctx.GetState("config:theme"); v != "dark" {
		t.Errorf("config:theme = %v, want dark", v)
	}
}

func TestLuaPluginHostModule(t *testing.T) {
	p := initPlugin(t, basicManifest, `
		local lumen = require("lumen")

		function init()
			lumen.set_state("has_own_data", lumen.has_permission("own-data"))
			lumen.set_state("has_camera", lumen.has_permission("camera"))
			lumen.set_state("notified", lumen.notify("hello", "world"))
			lumen.set_state("data_dir", lumen.data_dir())
		end
	`)

	if v, _ := p.ctx.GetState("has_own_data"); v != true {
		t.Errorf("has_permission(own-data) = %v", v)
	}
	if v, _ := p.ctx.GetState("has_camera"); v != false {
		t.Errorf("has_permission(camera) = %v", v)
	}
	// notifications-send is granted, so notify lands on the event
	// channel.
	if v, _ := p.ctx.GetState("notified"); v != true {
		t.Errorf("notify = %v", v)
	}
	if v, _ := p.ctx.GetState("data_dir"); v != p.ctx.DataDir() {
		t.Errorf("data_dir = %v", v)
	}

	ev := <-p.ctx.Events()
	if ev.Kind != plugin.EventShowNotification || ev.Title != "hello" {
		t.Errorf("event = %+v", ev)
	}
}
