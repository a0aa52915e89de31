package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/thisisjab/logsieve/entity"
	"github.com/thisisjab/logsieve/parser"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

type LuaPluginConfig struct {
	Name       string `yaml:"-"`
	ScriptPath string `yaml:"script_path"`
}

// LuaPlugin loads parsers written in Lua. A script registers any number of parsers by calling
//
//	register({
//	  name = "my-parser",
//	  parse = function(line, ctx) ... end,
//	})
//
// `parse` returns nil when the line does not match, or a table with `level`, `message` and `service` keys.
// `ctx` is a table with a `source` key. Scripts can use `log.namedCapture(line, pattern)` which applies a
// Go regular expression and returns a table of named groups or nil.
// Note that user can have access to JSON helper using `local json = require("json")`
//
// The parsers are registered under the names passed to `register`, not under the name of the lua entry in the
// config file, so sources have to list those names. Scripts run without the `os` and `io` libraries, and
// `dofile`, `loadfile` and file based `require` are removed.
type LuaPlugin struct {
	cfg      LuaPluginConfig
	logger   *slog.Logger
	patterns *patternCache
	pool     *sync.Pool
	names    []string
}

type luaVM struct {
	L       *lua.LState
	parsers map[string]*lua.LFunction
	names   []string
}

func NewLuaPlugin(logger *slog.Logger, cfg LuaPluginConfig) (*LuaPlugin, error) {
	if cfg.ScriptPath == "" {
		return nil, errors.New("script path is required")
	}

	lp := &LuaPlugin{
		cfg:      cfg,
		logger:   logger,
		patterns: &patternCache{},
	}

	// The first VM is loaded eagerly so that broken scripts are reported at startup.
	vm, err := lp.newVM()
	if err != nil {
		return nil, err
	}

	if len(vm.names) == 0 {
		vm.L.Close()
		return nil, fmt.Errorf("script `%s` did not register any parser", cfg.ScriptPath)
	}

	lp.names = vm.names
	lp.pool = &sync.Pool{
		New: func() any {
			vm, err := lp.newVM()
			if err != nil {
				lp.logger.Error("cannot load lua script.", "path", cfg.ScriptPath, "error", err)
				return nil
			}
			return vm
		},
	}
	lp.pool.Put(vm)

	return lp, nil
}

func (lp *LuaPlugin) Name() string {
	return lp.cfg.Name
}

// Names returns the names of the parsers registered by the script, in registration order.
func (lp *LuaPlugin) Names() []string {
	return lp.names
}

// Descriptors returns one descriptor per parser registered by the script.
func (lp *LuaPlugin) Descriptors() []parser.Descriptor {
	res := make([]parser.Descriptor, len(lp.names))
	for i, name := range lp.names {
		res[i] = parser.Descriptor{
			Name: name,
			Parse: func(line string, ctx parser.Context) (entity.Record, bool) {
				return lp.parse(name, line, ctx)
			},
		}
	}
	return res
}

func (lp *LuaPlugin) parse(name, line string, ctx parser.Context) (entity.Record, bool) {
	vm, _ := lp.pool.Get().(*luaVM)
	if vm == nil {
		return entity.Record{}, false
	}
	defer lp.pool.Put(vm)

	fn, ok := vm.parsers[name]
	if !ok {
		return entity.Record{}, false
	}

	L := vm.L

	luaCtx := L.NewTable()
	if ctx != nil {
		luaCtx.RawSetString("source", lua.LString(ctx.Source()))
	}

	err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(line), luaCtx)
	if err != nil {
		lp.logger.Warn("lua parser failed.", "parser", name, "error", err)
		return entity.Record{}, false
	}

	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return entity.Record{}, false
	}

	return entity.Record{
		Level:   luaValueString(tbl.RawGetString("level")),
		Message: luaValueString(tbl.RawGetString("message")),
		Service: luaValueString(tbl.RawGetString("service")),
	}, true
}

func (lp *LuaPlugin) newVM() (*luaVM, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load anything by default
	})

	// Manually open only the safe libraries
	// 'os' and 'io' are skipped, file loading from base and package is removed below
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},  // Allows 'require'
		{lua.BaseLibName, lua.OpenBase},     // Allows 'print', 'pairs', etc.
		{lua.TabLibName, lua.OpenTable},     // Allows 'table.insert', etc.
		{lua.StringLibName, lua.OpenString}, // Allows string manipulation
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	// Scripts cannot load other files: `require` only sees package.preload.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	if pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))
		if loaders, ok := pkg.RawGetString("loaders").(*lua.LTable); ok {
			// 1 is the preload searcher, 2 searches package.path.
			loaders.RawSetInt(2, lua.LNil)
		}
	}

	// Pre-register the JSON module in this VM
	// This allows the user to do: local json = require("json")
	luajson.Preload(L)

	vm := &luaVM{
		L:       L,
		parsers: make(map[string]*lua.LFunction),
	}

	L.SetGlobal("register", L.NewFunction(vm.register))

	logMod := L.NewTable()
	L.SetField(logMod, "namedCapture", L.NewFunction(lp.patterns.namedCapture))
	L.SetGlobal("log", logMod)

	if err := L.DoFile(lp.cfg.ScriptPath); err != nil {
		L.Close()
		return nil, fmt.Errorf("cannot load script `%s`: %w", lp.cfg.ScriptPath, err)
	}

	return vm, nil
}

// register is exposed to scripts as the global `register`.
func (vm *luaVM) register(L *lua.LState) int {
	desc := L.CheckTable(1)

	name, ok := desc.RawGetString("name").(lua.LString)
	if !ok || name == "" {
		L.ArgError(1, "`name` must be a non-empty string")
		return 0
	}

	fn, ok := desc.RawGetString("parse").(*lua.LFunction)
	if !ok {
		L.ArgError(1, "`parse` must be a function")
		return 0
	}

	if _, exists := vm.parsers[string(name)]; exists {
		L.RaiseError("parser `%s` is already registered by this script", string(name))
		return 0
	}

	vm.parsers[string(name)] = fn
	vm.names = append(vm.names, string(name))

	return 0
}

// patternCache compiles each pattern once and shares it between all VMs.
type patternCache struct {
	m sync.Map
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.m.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	actual, _ := c.m.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// namedCapture is exposed to scripts as `log.namedCapture(line, pattern)`.
func (c *patternCache) namedCapture(L *lua.LState) int {
	line := L.CheckString(1)
	pattern := L.CheckString(2)

	re, err := c.compile(pattern)
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	m, ok := parser.NamedCapture(re, line)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.CreateTable(0, len(m))
	for k, v := range m {
		tbl.RawSetString(k, lua.LString(v))
	}
	L.Push(tbl)

	return 1
}
