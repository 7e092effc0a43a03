// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package lua

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/plugin/hostfunc"
	"github.com/schemastudio/studio/internal/pluginctx"
)

// Lifecycle hook globals a script may define.
const (
	HookLoad       = "on_load"
	HookActivate   = "on_activate"
	HookDeactivate = "on_deactivate"
	HookUnload     = "on_unload"
)

var (
	_ plugin.Loadable      = (*luaPlugin)(nil)
	_ plugin.Activatable   = (*luaPlugin)(nil)
	_ plugin.Deactivatable = (*luaPlugin)(nil)
	_ plugin.Unloadable    = (*luaPlugin)(nil)
)

// luaPlugin runs a compiled script. Each activation gets a fresh state bound
// to that activation's context; the state lives until the next load or
// unload.
//
// A state is not safe for concurrent use. Hooks, event handlers and service
// functions of one plugin must be driven from one goroutine at a time.
type luaPlugin struct {
	manifest *plugin.Manifest
	proto    *lua.FunctionProto
	factory  *StateFactory
	logger   *slog.Logger
	unloaded func()

	mu    sync.Mutex
	state *lua.LState
}

func (p *luaPlugin) Manifest() *plugin.Manifest { return p.manifest }

// OnLoad creates the plugin's state, installs the studio table, runs the
// script's top level and then its on_load hook.
func (p *luaPlugin) OnLoad(ctx context.Context, pc *pluginctx.Context) error {
	L, err := p.factory.NewState(ctx)
	if err != nil {
		return err
	}
	hostfunc.New(pc).Register(L)

	L.SetContext(ctx)
	L.Push(L.NewFunctionFromProto(p.proto))
	err = L.PCall(0, lua.MultRet, nil)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return oops.Code("LUA_EXEC_FAILED").
			With("plugin", p.manifest.ID).
			With("entry", p.manifest.Lua.Entry).
			Wrap(err)
	}

	p.mu.Lock()
	prev := p.state
	p.state = L
	p.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return p.call(ctx, HookLoad)
}

// OnActivate runs on_activate.
func (p *luaPlugin) OnActivate(ctx context.Context, _ *pluginctx.Context) error {
	return p.call(ctx, HookActivate)
}

// OnDeactivate runs on_deactivate.
func (p *luaPlugin) OnDeactivate(ctx context.Context, _ *pluginctx.Context) error {
	return p.call(ctx, HookDeactivate)
}

// OnUnload runs on_unload, closes the state and releases the plugin's id in
// its host.
func (p *luaPlugin) OnUnload(ctx context.Context) error {
	err := p.call(ctx, HookUnload)
	p.close()
	if p.unloaded != nil {
		p.unloaded()
	}
	return err
}

func (p *luaPlugin) close() {
	p.mu.Lock()
	L := p.state
	p.state = nil
	p.mu.Unlock()
	if L != nil {
		L.Close()
	}
}

// call invokes a hook global if the script defines it. A raised error or a
// returned string fails the hook.
func (p *luaPlugin) call(ctx context.Context, hook string) error {
	p.mu.Lock()
	L := p.state
	p.mu.Unlock()
	if L == nil {
		return nil
	}

	fn, ok := L.GetGlobal(hook).(*lua.LFunction)
	if !ok {
		p.logger.Debug("hook not defined", "plugin", p.manifest.ID, "hook", hook)
		return nil
	}

	L.SetContext(ctx)
	defer L.RemoveContext()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return oops.Code("LUA_EXEC_FAILED").
			With("plugin", p.manifest.ID).
			With("hook", hook).
			Wrap(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	if msg, ok := ret.(lua.LString); ok && msg != "" {
		return oops.Code("LUA_HOOK_FAILED").
			With("plugin", p.manifest.ID).
			With("hook", hook).
			Errorf("%s", string(msg))
	}
	return nil
}
