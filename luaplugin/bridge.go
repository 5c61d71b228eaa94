package luaplugin

import (
	"fmt"

	"github.com/leeforge/pluginhost/plugin"
	lua "github.com/yuin/gopher-lua"
)

const eventTypeName = "pluginhost.event"

func registerEventType(L *lua.LState) {
	mt := L.NewTypeMetatable(eventTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"name":    eventName,
		"get":     eventGet,
		"set":     eventSet,
		"stop":    eventStop,
		"stopped": eventStopped,
	}))
}

func newEventValue(L *lua.LState, e *plugin.Event) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = e
	L.SetMetatable(ud, L.GetTypeMetatable(eventTypeName))
	return ud
}

func checkEvent(L *lua.LState) *plugin.Event {
	ud := L.CheckUserData(1)
	if e, ok := ud.Value.(*plugin.Event); ok {
		return e
	}
	L.ArgError(1, "event expected")
	return nil
}

func eventName(L *lua.LState) int {
	L.Push(lua.LString(checkEvent(L).Name))
	return 1
}

func eventGet(L *lua.LState) int {
	e := checkEvent(L)
	key := L.CheckString(2)
	if v := e.Get(key, nil); v != nil {
		L.Push(toLua(L, v))
	} else {
		L.Push(L.Get(3))
	}
	return 1
}

func eventSet(L *lua.LState) int {
	e := checkEvent(L)
	e.Set(L.CheckString(2), toGo(L.CheckAny(3)))
	return 0
}

func eventStop(L *lua.LState) int {
	checkEvent(L).Stop()
	return 0
}

func eventStopped(L *lua.LState) int {
	L.Push(lua.LBool(checkEvent(L).IsStopped()))
	return 1
}

// toGo converts a Lua value to a Go value. Integral numbers become int64 and
// tables become []any when they are sequences, map[string]any otherwise.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	isArray := n > 0
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if count != n {
		isArray = false
	}

	if isArray {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, toGoVisited(t.RawGetInt(i), visited))
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = toGoVisited(v, visited)
	})
	return out
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case lua.LValue:
		return val
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
