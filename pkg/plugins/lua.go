package plugins

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// basePluginSource defines the host base type every plugin class extends
const basePluginSource = `
BasePlugin = {}
BasePlugin.__index = BasePlugin

function BasePlugin:extend()
  local cls = {}
  for k, v in pairs(self) do
    if type(k) == "string" and k:find("__") == 1 then cls[k] = v end
  end
  cls.__index = cls
  cls.super = self
  return setmetatable(cls, self)
end

function BasePlugin:new(opts)
  opts = opts or {}
  local obj = setmetatable({}, self)
  obj.plugin_id = opts.plugin_id
  obj.config = opts.config or {}
  obj.display_manager = opts.display_manager
  obj.cache_manager = opts.cache_manager
  obj.plugin_manager = opts.plugin_manager
  obj.enabled = obj.config.enabled ~= false
  if obj.init then obj:init(opts) end
  return obj
end

function BasePlugin:update() end
function BasePlugin:display(force_clear) end
`

// newPluginState creates the VM a single plugin module runs in. Module lookups
// resolve against root and its dependency tree only.
func newPluginState(root string) (*lua.LState, error) {
	L := lua.NewState()

	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("lua package library unavailable")
	}
	L.SetField(pkg, "path", lua.LString(searchPath(root)))
	L.SetField(pkg, "cpath", lua.LString(""))

	if err := L.DoString(basePluginSource); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to define %s: %w", BaseClassName, err)
	}

	return L, nil
}

// searchPath builds package.path for a plugin rooted at root
func searchPath(root string) string {
	share := filepath.Join(root, LuaModulesDir, "share", "lua", "5.1")
	patterns := []string{
		filepath.Join(root, "?.lua"),
		filepath.Join(root, "?", "init.lua"),
		filepath.Join(share, "?.lua"),
		filepath.Join(share, "?", "init.lua"),
	}
	return strings.Join(patterns, ";")
}

// isClass reports whether v can be instantiated with Class:new(opts)
func isClass(L *lua.LState, v lua.LValue) bool {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return false
	}
	_, ok = L.GetField(tbl, "new").(*lua.LFunction)
	return ok
}

// toLua converts a Go value to a Lua value
func toLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case []string:
		tbl := L.NewTable()
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(L, val[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// fromLua converts a Lua value to a Go value. Tables with only a 1..n sequence
// become slices, everything else maps.
func fromLua(v lua.LValue) interface{} {
	return fromLuaVisited(v, map[*lua.LTable]bool{})
}

func fromLuaVisited(v lua.LValue, visited map[*lua.LTable]bool) interface{} {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if visited[val] {
			return nil
		}
		visited[val] = true
		defer delete(visited, val)

		n := val.Len()
		isArray := n > 0
		count := 0
		val.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if count != n {
			isArray = false
		}
		if isArray {
			out := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaVisited(val.RawGetInt(i), visited))
			}
			return out
		}
		out := make(map[string]interface{}, count)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLuaVisited(item, visited)
		})
		return out
	default:
		return nil
	}
}

// Collaborator tables are called with colon syntax, so argument 1 is the table itself.

func displayTable(L *lua.LState, d Display) lua.LValue {
	if d == nil {
		return lua.LNil
	}
	tbl := L.NewTable()
	tbl.RawSetString("width", lua.LNumber(d.Width()))
	tbl.RawSetString("height", lua.LNumber(d.Height()))
	tbl.RawSetString("clear", L.NewFunction(func(L *lua.LState) int {
		d.Clear()
		return 0
	}))
	tbl.RawSetString("draw_text", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(2)
		x := L.OptInt(3, 0)
		y := L.OptInt(4, 0)
		color := Color{
			R: uint8(L.OptInt(5, 255)),
			G: uint8(L.OptInt(6, 255)),
			B: uint8(L.OptInt(7, 255)),
		}
		d.DrawText(text, x, y, color)
		return 0
	}))
	tbl.RawSetString("update_display", L.NewFunction(func(L *lua.LState) int {
		d.Update()
		return 0
	}))
	return tbl
}

func cacheTable(L *lua.LState, c Cache) lua.LValue {
	if c == nil {
		return lua.LNil
	}
	tbl := L.NewTable()
	tbl.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		maxAge := time.Duration(L.OptNumber(3, 0) * lua.LNumber(time.Second))
		value, ok := c.Get(key, maxAge)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, value))
		return 1
	}))
	tbl.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		c.Set(L.CheckString(2), fromLua(L.Get(3)))
		return 0
	}))
	return tbl
}

func pluginDirectoryTable(L *lua.LState, dir PluginDirectory) lua.LValue {
	if dir == nil {
		return lua.LNil
	}
	tbl := L.NewTable()
	tbl.RawSetString("get_plugin_ids", L.NewFunction(func(L *lua.LState) int {
		L.Push(toLua(L, dir.PluginIDs()))
		return 1
	}))
	tbl.RawSetString("get_manifest", L.NewFunction(func(L *lua.LState) int {
		m, ok := dir.Manifest(L.CheckString(2))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		info := L.NewTable()
		info.RawSetString("id", lua.LString(m.ID))
		info.RawSetString("name", lua.LString(m.Name))
		info.RawSetString("version", lua.LString(m.Version))
		info.RawSetString("display_modes", toLua(L, m.DisplayModes))
		L.Push(info)
		return 1
	}))
	return tbl
}
