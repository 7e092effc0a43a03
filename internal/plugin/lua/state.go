// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package lua runs plugins written in Lua inside sandboxed gopher-lua states.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the libraries a plugin may use: base, table,
// string and math. os, io, debug and package are never opened.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are base library functions that reach the filesystem
// or compile arbitrary chunks.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries     []safeLibrary
	callStackSize int
	registrySize  int
}

// FactoryOption configures a StateFactory.
type FactoryOption func(*StateFactory)

// WithCallStackSize limits Lua call depth.
func WithCallStackSize(n int) FactoryOption {
	return func(f *StateFactory) { f.callStackSize = n }
}

// WithRegistrySize limits the Lua value stack.
func WithRegistrySize(n int) FactoryOption {
	return func(f *StateFactory) { f.registrySize = n }
}

// NewStateFactory creates a new state factory.
func NewStateFactory(opts ...FactoryOption) *StateFactory {
	f := &StateFactory{
		libraries:     defaultSafeLibraries(),
		callStackSize: 256,
		registrySize:  1024 * 16,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh Lua state with only the safe libraries loaded.
// ctx bounds library initialisation only; callers attach a context per call
// with SetContext.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		RegistrySize:        f.registrySize,
		IncludeGoStackTrace: false,
	})
	L.SetContext(ctx)
	defer L.RemoveContext()

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.Code("LUA_STATE_FAILED").
				With("library", lib.name).
				Wrapf(err, "failed to open library %s", lib.name)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}
