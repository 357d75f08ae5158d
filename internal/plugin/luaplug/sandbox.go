package luaplug

import (
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/sandbox"
)

// hostModule is the module name plugins require for the host API.
const hostModule = "lumen"

// Sandbox restricts what plugin Lua code can reach. Libraries with
// side effects are gated on the plugin's granted permissions instead
// of being loaded wholesale.
type Sandbox struct {
	L     *lua.LState
	perms *sandbox.PermissionSet
}

// NewSandbox creates a sandbox over a Lua state.
func NewSandbox(L *lua.LState, perms *sandbox.PermissionSet) *Sandbox {
	if perms == nil {
		perms = sandbox.NewPermissionSet()
	}
	return &Sandbox{L: L, perms: perms}
}

// Permissions returns the permission set the sandbox enforces.
func (s *Sandbox) Permissions() *sandbox.PermissionSet {
	return s.perms
}

// Install applies the restrictions: code-loading primitives are
// removed, module loading from disk is disabled, and require only
// resolves whitelisted or preloaded modules.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
	s.installOSModule()
	if s.perms.Has(sandbox.Filesystem()) ||
		s.hasAnyFilesystemRead() || s.hasAnyFilesystemWrite() {
		s.installIOModule()
	}
}

// hasAnyFilesystemRead reports whether any read-granting permission is
// present.
func (s *Sandbox) hasAnyFilesystemRead() bool {
	for _, p := range s.perms.Permissions() {
		switch p.Kind {
		case sandbox.KindFilesystem, sandbox.KindFilesystemHome,
			sandbox.KindFilesystemRead, sandbox.KindFilesystemWrite,
			sandbox.KindFilesystemDownloads, sandbox.KindFilesystemDocuments,
			sandbox.KindFilesystemPictures, sandbox.KindOwnData:
			return true
		}
	}
	return false
}

// hasAnyFilesystemWrite reports whether any write-granting permission
// is present.
func (s *Sandbox) hasAnyFilesystemWrite() bool {
	for _, p := range s.perms.Permissions() {
		switch p.Kind {
		case sandbox.KindFilesystem, sandbox.KindFilesystemWrite,
			sandbox.KindFilesystemDownloads, sandbox.KindFilesystemDocuments,
			sandbox.KindFilesystemPictures, sandbox.KindOwnData:
			return true
		}
	}
	return false
}

// installSafeRequire clears the disk module search path and replaces
// require with a whitelist resolver. Preloaded host modules (lumen,
// lumen.*) and safe builtins pass through; everything else raises.
func (s *Sandbox) installSafeRequire() {
	pkg := s.L.GetGlobal("package")
	if pkgTable, ok := pkg.(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))

		safeLoaded := map[string]bool{
			"_G": true, "string": true, "table": true, "math": true,
			"bit32": true, "utf8": true, "package": true,
		}
		if loadedTbl, ok := s.L.GetField(pkgTable, "loaded").(*lua.LTable); ok {
			var stale []string
			loadedTbl.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !safeLoaded[string(ks)] {
					stale = append(stale, string(ks))
				}
			})
			for _, key := range stale {
				loadedTbl.RawSetString(key, lua.LNil)
			}
		}
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
		"bit32":  true,
		"utf8":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		allowed := safeModules[modName] ||
			modName == hostModule ||
			strings.HasPrefix(modName, hostModule+".")
		if !allowed {
			L.RaiseError("module %q is not available", modName)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// installOSModule provides a reduced os table. Command execution is
// never exposed; environment reads go through the sandbox env
// allow-list.
func (s *Sandbox) installOSModule() {
	osMod := s.L.NewTable()

	allowedEnv := make(map[string]bool, len(sandbox.DefaultConfig().EnvPassthrough))
	for _, name := range sandbox.DefaultConfig().EnvPassthrough {
		allowedEnv[name] = true
	}

	s.L.SetField(osMod, "getenv", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !allowedEnv[name] {
			L.Push(lua.LNil)
			return 1
		}
		value := os.Getenv(name)
		if value == "" {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(value))
		}
		return 1
	}))

	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))

	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixNano()) / 1e9))
		return 1
	}))

	s.L.SetField(osMod, "date", s.L.NewFunction(func(L *lua.LState) int {
		format := L.OptString(1, "%c")
		// Supports the common strftime verbs via Go layouts.
		now := time.Now()
		replacer := strings.NewReplacer(
			"%Y", now.Format("2006"),
			"%m", now.Format("01"),
			"%d", now.Format("02"),
			"%H", now.Format("15"),
			"%M", now.Format("04"),
			"%S", now.Format("05"),
			"%c", now.Format("Mon Jan  2 15:04:05 2006"),
		)
		L.Push(lua.LString(replacer.Replace(format)))
		return 1
	}))

	s.L.SetGlobal("os", osMod)
}

// installIOModule provides a path-checked io table. Every open is
// validated against the plugin's filesystem permissions, read modes
// against reads and everything else against writes.
func (s *Sandbox) installIOModule() {
	ioMod := s.L.NewTable()

	s.L.SetField(ioMod, "open", s.L.NewFunction(func(L *lua.LState) int {
		filename := L.CheckString(1)
		mode := L.OptString(2, "r")

		readOnly := mode == "r" || mode == "rb"
		if readOnly {
			if !s.canRead(filename) {
				L.Push(lua.LNil)
				L.Push(lua.LString("permission denied: read " + filename))
				return 2
			}
		} else if !s.canWrite(filename) {
			L.Push(lua.LNil)
			L.Push(lua.LString("permission denied: write " + filename))
			return 2
		}

		var flag int
		switch mode {
		case "r", "rb":
			flag = os.O_RDONLY
		case "w", "wb":
			flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		case "a", "ab":
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		case "r+", "r+b":
			flag = os.O_RDWR
		case "w+", "w+b":
			flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
		case "a+", "a+b":
			flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
		default:
			L.ArgError(2, "invalid mode")
			return 0
		}

		file, err := os.OpenFile(filename, flag, 0o644)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		ud := L.NewUserData()
		ud.Value = file
		L.SetMetatable(ud, s.fileMetatable())
		L.Push(ud)
		return 1
	}))

	s.L.SetGlobal("io", ioMod)
}

// canRead checks a path against the granted read permissions.
func (s *Sandbox) canRead(path string) bool {
	return s.perms.Has(sandbox.Filesystem()) ||
		s.perms.Has(sandbox.FilesystemRead(path))
}

// canWrite checks a path against the granted write permissions.
func (s *Sandbox) canWrite(path string) bool {
	return s.perms.Has(sandbox.Filesystem()) ||
		s.perms.Has(sandbox.FilesystemWrite(path))
}

// fileMetatable builds the metatable shared by Lua file handles.
func (s *Sandbox) fileMetatable() *lua.LTable {
	mt := s.L.NewTable()
	index := s.L.NewTable()

	s.L.SetField(index, "read", s.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		file, ok := ud.Value.(*os.File)
		if !ok {
			L.ArgError(1, "expected file")
			return 0
		}
		format := L.OptString(2, "*a")
		switch format {
		case "*a", "*all":
			content, err := os.ReadFile(file.Name())
			if err != nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(content))
			return 1
		default:
			L.Push(lua.LNil)
			return 1
		}
	}))

	s.L.SetField(index, "write", s.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		file, ok := ud.Value.(*os.File)
		if !ok {
			L.ArgError(1, "expected file")
			return 0
		}
		for i := 2; i <= L.GetTop(); i++ {
			if _, err := file.WriteString(L.CheckString(i)); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
		}
		L.Push(ud)
		return 1
	}))

	s.L.SetField(index, "close", s.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		file, ok := ud.Value.(*os.File)
		if !ok {
			L.ArgError(1, "expected file")
			return 0
		}
		if err := file.Close(); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.L.SetField(mt, "__index", index)
	return mt
}
