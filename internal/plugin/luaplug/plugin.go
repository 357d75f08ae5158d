package luaplug

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/plugin"
	"github.com/dshills/lumen/internal/plugin/api"
	"github.com/dshills/lumen/internal/sandbox"
)

// LuaPlugin adapts a Lua plugin package to the Plugin contract. The
// package's entry file runs at Init; lifecycle hooks map to optional
// global Lua functions (init, shutdown, suspend, resume, update,
// on_config_changed).
type LuaPlugin struct {
	plugin.Base

	meta     plugin.Metadata
	manifest *plugin.Manifest

	mu    sync.Mutex
	state *State
	ctx   *plugin.Context

	commands   []api.Command
	commandFns map[string]*lua.LFunction
}

// New creates a Lua plugin from a discovered package.
func New(info *plugin.Info) (*LuaPlugin, error) {
	if info.Manifest == nil {
		return nil, plugin.ErrNilManifest
	}
	meta, err := info.Manifest.Metadata()
	if err != nil {
		return nil, err
	}
	return &LuaPlugin{
		meta:       meta,
		manifest:   info.Manifest,
		commandFns: make(map[string]*lua.LFunction),
	}, nil
}

// Factory builds Lua plugins for the manager.
func Factory(info *plugin.Info) (plugin.Plugin, error) {
	return New(info)
}

// Metadata returns the plugin's metadata.
func (p *LuaPlugin) Metadata() plugin.Metadata {
	return p.meta
}

// Init creates the interpreter, exposes the host module, runs the
// entry file, and calls the plugin's init function if present.
func (p *LuaPlugin) Init(ctx *plugin.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.state = NewState(p.meta.Permissions)
	p.state.PreloadModule(hostModule, p.hostModuleLoader)
	p.mu.Unlock()

	entry := p.manifest.EntryFile()
	if err := p.state.DoFile(entry); err != nil {
		p.closeState()
		return fmt.Errorf("%w: %v", plugin.ErrRuntime, err)
	}

	if _, err := p.state.CallOptional("init"); err != nil {
		p.closeState()
		return fmt.Errorf("%w: init: %v", plugin.ErrRuntime, err)
	}
	return nil
}

// Shutdown calls the plugin's shutdown function and closes the
// interpreter.
func (p *LuaPlugin) Shutdown() error {
	if p.state == nil {
		return nil
	}
	_, err := p.state.CallOptional("shutdown")
	p.closeState()
	if err != nil {
		return fmt.Errorf("%w: shutdown: %v", plugin.ErrRuntime, err)
	}
	return nil
}

// Suspend calls the plugin's suspend function if present.
func (p *LuaPlugin) Suspend() error {
	if p.state == nil {
		return nil
	}
	_, err := p.state.CallOptional("suspend")
	return err
}

// Resume calls the plugin's resume function if present.
func (p *LuaPlugin) Resume() error {
	if p.state == nil {
		return nil
	}
	_, err := p.state.CallOptional("resume")
	return err
}

// Update calls the plugin's update function if present.
func (p *LuaPlugin) Update() error {
	if p.state == nil {
		return nil
	}
	_, err := p.state.CallOptional("update")
	return err
}

// WantsUpdates is true when the package defines an update function.
func (p *LuaPlugin) WantsUpdates() bool {
	return p.state != nil && p.state.HasFunction("update")
}

// UpdateInterval reads the package's update_interval global,
// interpreted as milliseconds.
func (p *LuaPlugin) UpdateInterval() time.Duration {
	if p.state == nil {
		return plugin.DefaultUpdateInterval
	}
	if n, ok := p.state.GetGlobal("update_interval").(lua.LNumber); ok && n > 0 {
		return time.Duration(float64(n)) * time.Millisecond
	}
	return plugin.DefaultUpdateInterval
}

// OnConfigChanged forwards a configuration change to the package's
// on_config_changed function if present.
func (p *LuaPlugin) OnConfigChanged(key string, value any) error {
	if p.state == nil {
		return nil
	}
	p.state.mu.Lock()
	lv := toLua(p.state.L, value)
	p.state.mu.Unlock()
	_, err := p.state.CallOptional("on_config_changed", lua.LString(key), lv)
	return err
}

// PanelWidget exposes a widget when the package declares the
// capability and defines widget_title.
func (p *LuaPlugin) PanelWidget() api.PanelWidget {
	if !p.meta.HasCapability(plugin.CapabilityPanelWidget) {
		return nil
	}
	if p.state == nil || !p.state.HasFunction("widget_title") {
		return nil
	}
	return &luaWidget{plugin: p}
}

// CommandProvider exposes commands registered through the host
// module.
func (p *LuaPlugin) CommandProvider() api.CommandProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.commands) == 0 {
		return nil
	}
	return p
}

// Commands lists the registered commands, sorted by name.
func (p *LuaPlugin) Commands() []api.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := append([]api.Command{}, p.commands...)
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute runs a registered command.
func (p *LuaPlugin) Execute(name string, args []string) error {
	p.mu.Lock()
	fn, ok := p.commandFns[name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown command %q", plugin.ErrAPI, name)
	}

	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return ErrStateClosed
	}

	L := p.state.L
	argTbl := L.NewTable()
	for i, a := range args {
		argTbl.RawSetInt(i+1, lua.LString(a))
	}
	return p.state.bounded(func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, argTbl)
	})
}

// closeState tears down the interpreter.
func (p *LuaPlugin) closeState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != nil {
		_ = p.state.Close()
	}
}

// hostModuleLoader builds the lumen module table.
func (p *LuaPlugin) hostModuleLoader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			p.ctx.Log("%s", L.CheckString(1))
			return 0
		},
		"notify": func(L *lua.LState) int {
			title := L.CheckString(1)
			body := L.OptString(2, "")
			if !p.meta.Permissions.Has(sandbox.NotificationsSend()) {
				L.Push(lua.LFalse)
				return 1
			}
			L.Push(lua.LBool(p.ctx.ShowNotification(title, body)))
			return 1
		},
		"set_state": func(L *lua.LState) int {
			key := L.CheckString(1)
			p.ctx.SetState(key, toGo(L.Get(2)))
			return 0
		},
		"get_state": func(L *lua.LState) int {
			key := L.CheckString(1)
			v, ok := p.ctx.GetState(key)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"data_dir": func(L *lua.LState) int {
			L.Push(lua.LString(p.ctx.DataDir()))
			return 1
		},
		"config_dir": func(L *lua.LState) int {
			L.Push(lua.LString(p.ctx.ConfigDir()))
			return 1
		},
		"cache_dir": func(L *lua.LState) int {
			L.Push(lua.LString(p.ctx.CacheDir()))
			return 1
		},
		"resource_dir": func(L *lua.LState) int {
			L.Push(lua.LString(p.ctx.ResourceDir()))
			return 1
		},
		"has_permission": func(L *lua.LState) int {
			perm, err := sandbox.Parse(L.CheckString(1))
			if err != nil {
				L.Push(lua.LFalse)
				return 1
			}
			L.Push(lua.LBool(p.ctx.HasPermission(perm)))
			return 1
		},
		"emit": func(L *lua.LState) int {
			payload, _ := toGo(L.OptTable(1, L.NewTable())).(map[string]any)
			delivered := p.ctx.EmitEvent(plugin.Event{
				Kind:    plugin.EventCustom,
				Payload: payload,
			})
			L.Push(lua.LBool(delivered))
			return 1
		},
		"refresh": func(L *lua.LState) int {
			L.Push(lua.LBool(p.ctx.RequestRefresh()))
			return 1
		},
		"register_command": func(L *lua.LState) int {
			name := L.CheckString(1)
			desc := L.OptString(2, "")
			fn := L.CheckFunction(3)
			p.mu.Lock()
			if _, exists := p.commandFns[name]; !exists {
				p.commands = append(p.commands, api.Command{Name: name, Description: desc})
			}
			p.commandFns[name] = fn
			p.mu.Unlock()
			return 0
		},
	})
	L.Push(mod)
	return 1
}

// luaWidget bridges the package's widget_* globals to the panel
// surface.
type luaWidget struct {
	plugin *LuaPlugin
}

// WidgetID returns the plugin id.
func (w *luaWidget) WidgetID() string {
	return w.plugin.meta.ID
}

// Title evaluates the package's widget_title function.
func (w *luaWidget) Title() string {
	results, err := w.plugin.state.Call("widget_title")
	if err != nil || len(results) == 0 {
		return ""
	}
	return results[0].String()
}

// Position reads the widget_position global (left, center, right).
func (w *luaWidget) Position() api.PanelPosition {
	switch w.plugin.state.GetGlobal("widget_position").String() {
	case "left":
		return api.PanelPositionLeft
	case "center":
		return api.PanelPositionCenter
	default:
		return api.PanelPositionRight
	}
}

// Priority returns the manifest runtime priority.
func (w *luaWidget) Priority() int {
	return w.plugin.manifest.Runtime.Priority
}
