package luaplug

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/sandbox"
)

func TestSandboxStripsCodeLoaders(t *testing.T) {
	s := NewState(nil)
	defer s.Close()

	err := s.DoString(`
		assert(dofile == nil, "dofile leaked")
		assert(loadfile == nil, "loadfile leaked")
		assert(load == nil, "load leaked")
		assert(loadstring == nil, "loadstring leaked")
	`)
	if err != nil {
		t.Errorf("code loading primitive leaked into sandbox: %v", err)
	}
}

func TestSandboxRequireWhitelist(t *testing.T) {
	s := NewState(nil)
	defer s.Close()

	if err := s.DoString(`local str = require("string"); assert(str.upper("a") == "A")`); err != nil {
		t.Errorf("require of safe builtin failed: %v", err)
	}
	if err := s.DoString(`require("socket")`); err == nil {
		t.Error("require of unknown module should raise")
	}
	if err := s.DoString(`require("os")`); err == nil {
		t.Error("require of os should raise")
	}
}

func TestSandboxRequirePreloadedHostModule(t *testing.T) {
	s := NewState(nil)
	defer s.Close()

	s.PreloadModule(hostModule, func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetField(mod, "version", lua.LString("1.0.0"))
		L.Push(mod)
		return 1
	})

	err := s.DoString(`local m = require("lumen"); assert(m.version == "1.0.0")`)
	if err != nil {
		t.Errorf("require of preloaded host module failed: %v", err)
	}
}

func TestSandboxOSModule(t *testing.T) {
	t.Setenv("LUMEN_TEST_SECRET", "hunter2")

	s := NewState(nil)
	defer s.Close()

	err := s.DoString(`
		assert(os.execute == nil, "os.execute leaked")
		assert(os.getenv("LUMEN_TEST_SECRET") == nil, "env allow-list bypassed")
		assert(type(os.time()) == "number")
		assert(type(os.clock()) == "number")
		assert(#os.date("%Y") == 4)
	`)
	if err != nil {
		t.Errorf("os module: %v", err)
	}
}

func TestSandboxNoIOWithoutFilesystemPermission(t *testing.T) {
	s := NewState(sandbox.NewPermissionSet(sandbox.Network()))
	defer s.Close()

	if err := s.DoString(`assert(io == nil, "io leaked")`); err != nil {
		t.Errorf("io available without filesystem permission: %v", err)
	}
}

func TestSandboxIOReadGated(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed.txt")
	forbidden := filepath.Join(dir, "forbidden.txt")
	for _, path := range []string{allowed, forbidden} {
		if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := NewState(sandbox.NewPermissionSet(sandbox.FilesystemRead(allowed)))
	defer s.Close()

	err := s.DoString(fmt.Sprintf(`
		local f, err = io.open(%q, "r")
		assert(f, err)
		assert(f:read("*a") == "hello")
		f:close()
	`, allowed))
	if err != nil {
		t.Errorf("read of permitted path: %v", err)
	}

	err = s.DoString(fmt.Sprintf(`
		local f = io.open(%q, "r")
		assert(f == nil, "read of unpermitted path succeeded")
	`, forbidden))
	if err != nil {
		t.Errorf("unpermitted read check: %v", err)
	}

	// A read grant does not allow writing.
	err = s.DoString(fmt.Sprintf(`
		local f = io.open(%q, "w")
		assert(f == nil, "write with read-only grant succeeded")
	`, allowed))
	if err != nil {
		t.Errorf("write gating: %v", err)
	}
}

func TestSandboxIOWriteGated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	s := NewState(sandbox.NewPermissionSet(sandbox.FilesystemWrite(path)))
	defer s.Close()

	err := s.DoString(fmt.Sprintf(`
		local f, err = io.open(%q, "w")
		assert(f, err)
		f:write("one", "two")
		f:close()
	`, path))
	if err != nil {
		t.Fatalf("write of permitted path: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "onetwo" {
		t.Errorf("file content = %q, want %q", data, "onetwo")
	}
}
