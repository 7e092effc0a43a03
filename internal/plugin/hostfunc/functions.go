// Package hostfunc provides the studio host functions to Lua plugins.
//
// Every function goes through the plugin's context, so capability gating,
// scoping and release behave exactly as for Go plugins: a call the plugin
// is not granted is a silent no-op returning a zero value.
package hostfunc

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
)

// ModuleName is the global under which the host functions are installed.
const ModuleName = "studio"

// Functions binds host functions to one plugin context.
type Functions struct {
	pc *pluginctx.Context
}

// New creates host functions for pc. Panics if pc is nil.
func New(pc *pluginctx.Context) *Functions {
	if pc == nil {
		panic("hostfunc.New: plugin context cannot be nil")
	}
	return &Functions{pc: pc}
}

// Register adds the studio table to a Lua state.
func (f *Functions) Register(ls *lua.LState) {
	mod := ls.NewTable()
	ls.SetFuncs(mod, map[string]lua.LGFunction{
		"log":            f.logFn,
		"new_id":         newIDFn,
		"plugin_id":      f.pluginIDFn,
		"emit":           f.emitFn,
		"subscribe":      f.subscribeFn,
		"provide":        f.provideFn,
		"consume":        f.consumeFn,
		"define_point":   f.definePointFn,
		"contribute":     f.contributeFn,
		"withdraw":       f.withdrawFn,
		"contributions":  f.contributionsFn,
		"get":            f.getFn,
		"set":            f.setFn,
		"delete":         f.deleteFn,
		"select":         f.selectFn,
		"selection":      f.selectionFn,
		"validate":       f.validateFn,
		"theme":          f.themeFn,
		"set_theme":      f.setThemeFn,
		"reveal_slot":    f.revealSlotFn,
		"storage_get":    f.storageGetFn,
		"storage_set":    f.storageSetFn,
		"storage_delete": f.storageDeleteFn,
		"storage_keys":   f.storageKeysFn,
	})
	ls.SetGlobal(ModuleName, mod)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// logFn implements studio.log(level, message [, fields]).
func (f *Functions) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)
	lvl, ok := logLevels[level]
	if !ok {
		L.ArgError(1, "invalid log level "+level+": want debug, info, warn or error")
		return 0
	}

	var attrs []any
	if fields, ok := L.Get(3).(*lua.LTable); ok {
		if m, ok := ToGo(L, fields).(map[string]any); ok {
			for k, v := range m {
				attrs = append(attrs, k, v)
			}
		}
	}
	f.pc.Log().Log(luaContext(L), lvl, message, attrs...)
	return 0
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (f *Functions) pluginIDFn(L *lua.LState) int {
	L.Push(lua.LString(f.pc.PluginID()))
	return 1
}

// emitFn implements studio.emit(type [, payload]) -> delivered.
func (f *Functions) emitFn(L *lua.LState) int {
	eventType := L.CheckString(1)
	payload := ToGo(L, L.Get(2))
	L.Push(lua.LBool(f.pc.Events().Emit(eventType, payload)))
	return 1
}

// subscribeFn implements studio.subscribe(type, handler [, {once, priority}])
// and returns a function that cancels the subscription.
func (f *Functions) subscribeFn(L *lua.LState) int {
	eventType := L.CheckString(1)
	handler := L.CheckFunction(2)

	var opts []eventbus.Option
	if o, ok := L.Get(3).(*lua.LTable); ok {
		if lua.LVAsBool(o.RawGetString("once")) {
			opts = append(opts, eventbus.Once())
		}
		if p, ok := o.RawGetString("priority").(lua.LNumber); ok {
			if n, ok := toInt(p); ok {
				opts = append(opts, eventbus.WithPriority(n))
			}
		}
	}

	cancel := f.pc.Events().Subscribe(eventType, func(e eventbus.Event) error {
		ev := L.NewTable()
		ev.RawSetString("id", lua.LString(e.ID.String()))
		ev.RawSetString("type", lua.LString(e.Type))
		ev.RawSetString("source", lua.LString(e.Source))
		ev.RawSetString("payload", ToLua(L, e.Payload))
		ev.RawSetString("time", lua.LNumber(e.Time.UnixMilli()))
		if err := L.CallByParam(lua.P{Fn: handler, NRet: 0, Protect: true}, ev); err != nil {
			return oops.Code("LUA_HANDLER_FAILED").
				With("plugin", f.pc.PluginID()).
				With("event_type", e.Type).
				Wrap(err)
		}
		return nil
	}, opts...)

	L.Push(L.NewFunction(func(*lua.LState) int {
		cancel()
		return 0
	}))
	return 1
}

// provideFn implements studio.provide(id, value) -> err.
func (f *Functions) provideFn(L *lua.LState) int {
	id := L.CheckString(1)
	impl := ToGo(L, L.CheckAny(2))
	return pushResult(L, f.pc.Services().Provide(id, impl))
}

// consumeFn implements studio.consume(id) -> value or nil.
func (f *Functions) consumeFn(L *lua.LState) int {
	impl, ok := f.pc.Services().Consume(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ToLua(L, impl))
	return 1
}

// definePointFn implements studio.define_point(id, fields [, multiplicity])
// where fields is a list of {name, type, required}.
func (f *Functions) definePointFn(L *lua.LState) int {
	id := L.CheckString(1)
	var schema extension.Schema
	if fields, ok := L.Get(2).(*lua.LTable); ok {
		fields.ForEach(func(_, v lua.LValue) {
			ft, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			schema.Fields = append(schema.Fields, extension.Field{
				Name:        lua.LVAsString(ft.RawGetString("name")),
				Type:        lua.LVAsString(ft.RawGetString("type")),
				Required:    lua.LVAsBool(ft.RawGetString("required")),
				Description: lua.LVAsString(ft.RawGetString("description")),
			})
		})
	}
	mult := extension.Multiplicity(L.OptString(3, ""))
	return pushResult(L, f.pc.Extensions().DefinePoint(id, schema, mult))
}

// contributeFn implements studio.contribute(point, data [, priority]) -> err.
func (f *Functions) contributeFn(L *lua.LState) int {
	point := L.CheckString(1)
	data, _ := ToGo(L, L.CheckTable(2)).(map[string]any) //nolint:errcheck // lists are rejected by schema validation
	priority, ok := toInt(L.OptNumber(3, 0))
	if !ok {
		L.ArgError(3, "priority must be an integer")
		return 0
	}
	if data == nil {
		data = map[string]any{}
	}
	return pushResult(L, f.pc.Extensions().Contribute(point, priority, data))
}

func (f *Functions) withdrawFn(L *lua.LState) int {
	L.Push(lua.LNumber(f.pc.Extensions().Withdraw(L.CheckString(1))))
	return 1
}

// contributionsFn implements studio.contributions(point) -> list of
// {plugin, priority, data} in delivery order.
func (f *Functions) contributionsFn(L *lua.LState) int {
	list := f.pc.Extensions().Contributions(L.CheckString(1))
	t := L.CreateTable(len(list), 0)
	for _, c := range list {
		entry := L.CreateTable(0, 3)
		entry.RawSetString("plugin", lua.LString(c.PluginID))
		entry.RawSetString("priority", lua.LNumber(c.Priority))
		entry.RawSetString("data", ToLua(L, c.Data))
		t.Append(entry)
	}
	L.Push(t)
	return 1
}

func (f *Functions) getFn(L *lua.LState) int {
	v, ok := f.pc.Actions().Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ToLua(L, v))
	return 1
}

func (f *Functions) setFn(L *lua.LState) int {
	path := L.CheckString(1)
	return pushResult(L, f.pc.Actions().Set(path, ToGo(L, L.Get(2))))
}

func (f *Functions) deleteFn(L *lua.LState) int {
	return pushResult(L, f.pc.Actions().Delete(L.CheckString(1)))
}

func (f *Functions) selectFn(L *lua.LState) int {
	return pushResult(L, f.pc.Actions().Select(L.OptString(1, "")))
}

func (f *Functions) selectionFn(L *lua.LState) int {
	L.Push(lua.LString(f.pc.Actions().Selection()))
	return 1
}

// validateFn implements studio.validate() -> {valid, error_count,
// error_paths, messages}, err.
func (f *Functions) validateFn(L *lua.LState) int {
	report, err := f.pc.Actions().Validate()
	if err != nil {
		return pushError(L, err)
	}
	t := L.CreateTable(0, 4)
	t.RawSetString("valid", lua.LBool(report.Valid))
	t.RawSetString("error_count", lua.LNumber(report.ErrorCount))
	t.RawSetString("error_paths", ToLua(L, report.ErrorPaths))
	t.RawSetString("messages", ToLua(L, report.Messages))
	return pushSuccess(L, t)
}

func (f *Functions) themeFn(L *lua.LState) int {
	L.Push(lua.LString(f.pc.UI().Theme()))
	return 1
}

func (f *Functions) setThemeFn(L *lua.LState) int {
	f.pc.UI().SetTheme(L.CheckString(1))
	return 0
}

func (f *Functions) revealSlotFn(L *lua.LState) int {
	L.Push(lua.LBool(f.pc.UI().RevealSlot(slot.ID(L.CheckString(1)))))
	return 1
}

// storageGetFn implements studio.storage_get(key) -> value, err. A missing
// key yields nil, nil.
func (f *Functions) storageGetFn(L *lua.LState) int {
	value, ok, err := f.pc.Storage().Get(luaContext(L), L.CheckString(1))
	if err != nil {
		return pushError(L, err)
	}
	if !ok {
		return pushSuccess(L, lua.LNil)
	}
	return pushSuccess(L, lua.LString(value))
}

func (f *Functions) storageSetFn(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	return pushResult(L, f.pc.Storage().Set(luaContext(L), key, []byte(value)))
}

func (f *Functions) storageDeleteFn(L *lua.LState) int {
	return pushResult(L, f.pc.Storage().Delete(luaContext(L), L.CheckString(1)))
}

func (f *Functions) storageKeysFn(L *lua.LState) int {
	keys, err := f.pc.Storage().Keys(luaContext(L))
	if err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, ToLua(L, keys))
}

// luaContext returns the context attached to L, or context.Background.
func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
