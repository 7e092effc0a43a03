// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds table conversion so self-referencing tables terminate.
const maxDepth = 32

// Func is a callable service member. Lua functions inside a provided table
// become Funcs; Funcs handed to Lua become Lua functions.
type Func func(args ...any) (any, error)

// pushError pushes nil followed by an error string and returns 2.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// pushSuccess pushes a value followed by nil and returns 2.
func pushSuccess(L *lua.LState, value lua.LValue) int {
	L.Push(value)
	L.Push(lua.LNil)
	return 2
}

// pushResult pushes nothing on success or an error string, for mutations.
func pushResult(L *lua.LState, err error) int {
	if err == nil {
		return 0
	}
	L.Push(lua.LString(err.Error()))
	return 1
}

// ToGo converts a Lua value to its Go equivalent: tables with keys 1..n
// become []any, other tables map[string]any, functions Func.
func ToGo(L *lua.LState, v lua.LValue) any {
	return toGo(L, v, 0)
}

func toGo(L *lua.LState, v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LFunction:
		return luaFunc(L, lv)
	case *lua.LTable:
		if n := lv.MaxN(); n > 0 && n == tableLen(lv) {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, toGo(L, lv.RawGetInt(i), depth+1))
			}
			return arr
		}
		m := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			m[k.String()] = toGo(L, val, depth+1)
		})
		return m
	}
	return v.String()
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// ToLua converts a Go value to a Lua value. Values without a direct mapping
// go through their JSON encoding.
func ToLua(L *lua.LState, v any) lua.LValue {
	return toLua(L, v, 0)
}

func toLua(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return gv
	case bool:
		return lua.LBool(gv)
	case string:
		return lua.LString(gv)
	case []byte:
		return lua.LString(gv)
	case float64:
		return lua.LNumber(gv)
	case float32:
		return lua.LNumber(gv)
	case int:
		return lua.LNumber(gv)
	case int64:
		return lua.LNumber(gv)
	case int32:
		return lua.LNumber(gv)
	case uint64:
		return lua.LNumber(gv)
	case []string:
		t := L.CreateTable(len(gv), 0)
		for _, s := range gv {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(gv), 0)
		for _, item := range gv {
			t.Append(toLua(L, item, depth+1))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(gv))
		keys := make([]string, 0, len(gv))
		for k := range gv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, gv[k], depth+1))
		}
		return t
	case Func:
		return goFunc(L, gv)
	case func(args ...any) (any, error):
		return goFunc(L, gv)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return lua.LString(string(data))
	}
	return toLua(L, decoded, depth+1)
}

// luaFunc wraps a Lua function so Go callers can invoke it. Calls run on L
// and must not overlap with other use of the state.
func luaFunc(L *lua.LState, fn *lua.LFunction) Func {
	return func(args ...any) (any, error) {
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = ToLua(L, a)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return nil, oops.Code("LUA_CALL_FAILED").Wrap(err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		return ToGo(L, ret), nil
	}
}

// goFunc exposes fn to Lua. It returns (result, nil) or (nil, message).
func goFunc(L *lua.LState, fn Func) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]any, 0, top)
		for i := 1; i <= top; i++ {
			args = append(args, ToGo(L, L.Get(i)))
		}
		result, err := fn(args...)
		if err != nil {
			return pushError(L, err)
		}
		return pushSuccess(L, ToLua(L, result))
	})
}

// toInt converts a Lua number argument to int, rejecting fractions.
func toInt(n lua.LNumber) (int, bool) {
	f := float64(n)
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
