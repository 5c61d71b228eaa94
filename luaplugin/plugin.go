package luaplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/leeforge/pluginhost/plugin"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// Ext is the entry file extension of script plugins.
const Ext = ".lua"

// EntryFile returns the script path for plugin name inside pluginDir.
func EntryFile(pluginDir, name string) string {
	return filepath.Join(pluginDir, name+Ext)
}

// Compile parses and compiles a script once so instances can share the bytecode.
func Compile(path string) (*lua.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", filepath.Base(path), err)
	}
	return proto, nil
}

// Register compiles the script at path and registers it as class name,
// replacing an earlier registration of the same script.
func Register(classes *plugin.ClassRegistry, name, path string) error {
	proto, err := Compile(path)
	if err != nil {
		return err
	}
	classes.Replace(plugin.Class{
		Name:        name,
		Description: "Lua plugin " + name,
		New: func(app *plugin.AppContext, id int64) (plugin.Plugin, error) {
			return New(app, name, id, proto)
		},
	})
	return nil
}

// Plugin is a plugin instance backed by a Lua state.
// gopher-lua states are not goroutine-safe; mu serializes every call into L.
type Plugin struct {
	*plugin.Base

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// New runs the compiled script in a fresh state.
func New(app *plugin.AppContext, name string, id int64, proto *lua.FunctionProto) (*Plugin, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	p := &Plugin{Base: plugin.NewBase(name, id, app), L: L}
	registerEventType(L)
	L.SetGlobal("plugin", p.hostTable())

	L.Push(L.NewFunctionFromProto(proto))
	if err := p.protect(func() error { return L.PCall(0, lua.MultRet, nil) }); err != nil {
		p.close()
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	return p, nil
}

// openSafeLibraries opens only libraries without filesystem or process access.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// the base library still carries file loaders
	for _, fn := range []string{"dofile", "loadfile"} {
		L.SetGlobal(fn, lua.LNil)
	}
}

// Init calls the script's init() if it defines one.
func (p *Plugin) Init(ctx context.Context) error {
	return p.callOptional(ctx, "init")
}

// Disable calls the script's disable() if it defines one, then closes the state.
func (p *Plugin) Disable(ctx context.Context) error {
	err := p.callOptional(ctx, "disable")
	p.mu.Lock()
	p.close()
	p.mu.Unlock()
	return err
}

// HandleEvent calls the global function named handler with the event.
func (p *Plugin) HandleEvent(ctx context.Context, handler string, e *plugin.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%s: lua state closed", p.Name())
	}
	fn, ok := p.L.GetGlobal(handler).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%s.%s: %w", p.Name(), handler, plugin.ErrHandlerNotFound)
	}

	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	return p.protect(func() error {
		return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, newEventValue(p.L, e))
	})
}

func (p *Plugin) callOptional(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	fn, ok := p.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}

	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	return p.protect(func() error {
		return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
}

// protect converts a Go panic raised inside a callback into an error.
func (p *Plugin) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

func (p *Plugin) close() {
	if p.closed {
		return
	}
	p.closed = true
	p.Unlisten(p, plugin.AllEvents)
	p.L.Close()
}

// hostTable builds the "plugin" global.
func (p *Plugin) hostTable() *lua.LTable {
	L := p.L
	t := L.NewTable()
	t.RawSetString("name", lua.LString(p.Name()))
	t.RawSetString("id", lua.LNumber(p.ID()))
	L.SetFuncs(t, map[string]lua.LGFunction{
		"subscribe":   p.luaSubscribe,
		"unsubscribe": p.luaUnsubscribe,
		"setting":     p.luaSetting,
		"log":         p.luaLog,
	})
	return t
}

func (p *Plugin) luaSubscribe(L *lua.LState) int {
	event := L.CheckString(1)
	handler := L.OptString(2, event)
	if app := p.App(); app != nil && app.Events != nil {
		app.Events.Subscribe(p, event, handler)
	}
	return 0
}

func (p *Plugin) luaUnsubscribe(L *lua.LState) int {
	p.Unlisten(p, L.CheckString(1))
	return 0
}

func (p *Plugin) luaSetting(L *lua.LState) int {
	key := L.CheckString(1)
	if v, ok := p.Config().Get(key); ok {
		L.Push(toLua(L, v))
	} else {
		L.Push(L.Get(2))
	}
	return 1
}

func (p *Plugin) luaLog(L *lua.LState) int {
	p.Logger().Info(L.CheckString(1), zap.String("source", "lua"))
	return 0
}

var (
	_ plugin.Plugin       = (*Plugin)(nil)
	_ plugin.Initializer  = (*Plugin)(nil)
	_ plugin.Disableable  = (*Plugin)(nil)
	_ plugin.Configurable = (*Plugin)(nil)
)
