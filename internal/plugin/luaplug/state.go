// Package luaplug runs Lua plugin packages in-process. Each plugin
// gets its own sandboxed interpreter; filesystem and environment
// access from Lua is gated on the plugin's granted permissions.
package luaplug

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/sandbox"
)

// Default limits for a plugin interpreter.
const (
	// DefaultExecutionTimeout bounds a single Lua call. The interpreter
	// checks the deadline between instructions, so a runaway script is
	// interrupted rather than wedging the host goroutine.
	DefaultExecutionTimeout = 5 * time.Second
)

// ErrStateClosed is returned when using a closed interpreter.
var ErrStateClosed = errors.New("lua state is closed")

// State wraps a gopher-lua interpreter with sandboxing.
//
// LState is not goroutine-safe; the mutex serializes all access from
// Go code.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	sandbox          *Sandbox
	closed           bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the best-effort timeout for Lua calls.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// NewState creates a sandboxed interpreter whose Lua-visible surface
// is restricted to what perms grants.
func NewState(perms *sandbox.PermissionSet, opts ...StateOption) *State {
	s := &State{
		executionTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	s.L = L

	// Only the safe standard libraries are opened; io, os and debug
	// stay out unless the sandbox grants them. The package library
	// goes first, matching the interpreter's own open order, so the
	// libraries after it land in package.loaded and stay reachable
	// through require. The sandbox then strips the disk loaders.
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s.sandbox = NewSandbox(L, perms)
	s.sandbox.Install()

	return s
}

// Sandbox returns the permission-gating sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// PreloadModule makes a module available to sandboxed require.
func (s *State) PreloadModule(name string, loader lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.PreloadModule(name, loader)
}

// DoFile executes a Lua file synchronously.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.bounded(func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes Lua source synchronously.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.bounded(func() error {
		return s.L.DoString(code)
	})
}

// HasFunction reports whether a global Lua function exists.
func (s *State) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	v := s.L.GetGlobal(name)
	return v.Type() == lua.LTFunction
}

// GetGlobal returns a global value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// Call invokes a global Lua function. Returns an empty slice when the
// function returns nothing.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", fn)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	stackTop := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}

	if err := s.bounded(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		return nil, err
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// CallOptional invokes a global function if it exists, returning
// (false, nil) when it does not.
func (s *State) CallOptional(fn string, args ...lua.LValue) (bool, error) {
	if !s.HasFunction(fn) {
		return false, nil
	}
	_, err := s.Call(fn, args...)
	return true, err
}

// bounded runs fn under the execution timeout, converting panics into
// errors. Caller holds the mutex.
func (s *State) bounded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	if s.executionTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	return fn()
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
