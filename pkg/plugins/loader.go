package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Module is a plugin's executed entry point. Each module owns its VM, so
// module-level side effects stay inside one plugin.
type Module struct {
	ID       string
	Root     string
	Manifest *Manifest
	LoadedAt time.Time

	mu      sync.Mutex
	state   *lua.LState
	exports lua.LValue
	closed  bool
}

// Instance is an instantiated plugin class
type Instance struct {
	ID     string
	Module *Module
	object *lua.LTable
}

// Loader discovers installed plugins and loads their code. Loaded modules are
// cached by identifier; loading an identifier twice returns the first module.
type Loader struct {
	pluginsDir string
	modules    map[string]*Module
	mu         sync.Mutex
	log        *logrus.Logger
}

// NewLoader creates a new plugin loader over pluginsDir
func NewLoader(pluginsDir string, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}

	return &Loader{
		pluginsDir: pluginsDir,
		modules:    make(map[string]*Module),
		log:        log,
	}
}

// PluginsDir returns the plugins root
func (l *Loader) PluginsDir() string {
	return l.pluginsDir
}

// Discover lists every installed plugin: each directory under the plugins root
// holding a parseable manifest with an identifier. Sorted by identifier.
func (l *Loader) Discover() ([]InstalledPlugin, error) {
	entries, err := os.ReadDir(l.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var installed []InstalledPlugin
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		root := filepath.Join(l.pluginsDir, entry.Name())
		manifest, err := LoadManifestFromDir(root)
		if err != nil {
			l.log.Debugf("Skipping %s: %v", root, err)
			continue
		}
		if manifest.ID == "" {
			l.log.Warnf("Skipping %s: manifest has no id", root)
			continue
		}

		installed = append(installed, InstalledPlugin{ID: manifest.ID, Root: root, Manifest: manifest})
	}

	sort.Slice(installed, func(i, j int) bool {
		return installed[i].ID < installed[j].ID
	})

	return installed, nil
}

// ResolveDir finds the on-disk directory of plugin id. Directory names are only
// a convention, so the final fallback reads every manifest.
func (l *Loader) ResolveDir(id string) (string, error) {
	for _, name := range []string{id, DirPrefix + id} {
		root := filepath.Join(l.pluginsDir, name)
		if hasManifest(root) {
			return root, nil
		}
	}

	entries, err := os.ReadDir(l.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewError(KindNotFound, "resolve", id, ErrPluginNotFound)
		}
		return "", NewError(KindInternal, "resolve", id, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.EqualFold(name, id) || strings.EqualFold(name, DirPrefix+id) {
			root := filepath.Join(l.pluginsDir, name)
			if hasManifest(root) {
				return root, nil
			}
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		root := filepath.Join(l.pluginsDir, entry.Name())
		if manifest, err := LoadManifestFromDir(root); err == nil && manifest.ID == id {
			l.log.Debugf("Plugin %s found in non-matching directory %s", id, entry.Name())
			return root, nil
		}
	}

	return "", NewError(KindNotFound, "resolve", id, ErrPluginNotFound)
}

// LoadModule executes the plugin's entry point, or returns the module already
// loaded under id.
func (l *Loader) LoadModule(ctx context.Context, id string, manifest *Manifest, root string) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if module, ok := l.modules[id]; ok {
		return module, nil
	}

	entry := manifest.EntryPointPath(root)
	if _, err := os.Stat(entry); err != nil {
		return nil, l.loadError(id, root, fmt.Errorf("%w: %s", ErrEntryPointMissing, manifest.EntryPoint))
	}

	state, err := newPluginState(root)
	if err != nil {
		return nil, l.loadError(id, root, err)
	}

	state.SetContext(ctx)
	exports, err := execChunk(state, entry)
	state.RemoveContext()
	if err != nil {
		state.Close()
		return nil, l.loadError(id, root, fmt.Errorf("failed to execute %s: %w", manifest.EntryPoint, err))
	}

	module := &Module{
		ID:       id,
		Root:     root,
		Manifest: manifest,
		LoadedAt: time.Now(),
		state:    state,
		exports:  exports,
	}
	l.modules[id] = module

	l.log.Infof("Loaded plugin module: %s v%s", manifest.Name, manifest.Version)
	return module, nil
}

// execChunk runs a file and returns its first return value
func execChunk(L *lua.LState, path string) (lua.LValue, error) {
	fn, err := L.LoadFile(path)
	if err != nil {
		return nil, err
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// ResolveClass looks className up in the module's returned table, then its
// globals, and checks the value can be instantiated.
func (m *Module) ResolveClass(className string) (*lua.LTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveClassLocked(className)
}

func (m *Module) resolveClassLocked(className string) (*lua.LTable, error) {
	var value lua.LValue = lua.LNil
	if exports, ok := m.exports.(*lua.LTable); ok {
		value = m.state.GetField(exports, className)
		if value == lua.LNil && isClass(m.state, exports) {
			if name, ok := m.state.GetField(exports, "__name").(lua.LString); ok && string(name) == className {
				value = exports
			}
		}
	}
	if value == lua.LNil {
		value = m.state.GetGlobal(className)
	}

	if value == lua.LNil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, className)
	}
	if !isClass(m.state, value) {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAClass, className, value.Type())
	}
	return value.(*lua.LTable), nil
}

// LoadPlugin loads plugin id and instantiates its class with the host
// collaborators. An empty root is resolved from the plugins directory; a nil
// manifest is read from root.
func (l *Loader) LoadPlugin(ctx context.Context, id string, manifest *Manifest, root string, host HostCollaborators) (*Instance, error) {
	if root == "" {
		resolved, err := l.ResolveDir(id)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	if manifest == nil {
		loaded, err := LoadManifestFromDir(root)
		if err != nil {
			return nil, l.loadError(id, root, err)
		}
		manifest = loaded
	}

	module, err := l.LoadModule(ctx, id, manifest, root)
	if err != nil {
		return nil, err
	}

	if host.Plugins == nil {
		host.Plugins = l
	}

	module.mu.Lock()
	defer module.mu.Unlock()

	class, err := module.resolveClassLocked(manifest.ClassName)
	if err != nil {
		return nil, l.loadError(id, root, err)
	}

	object, err := instantiate(module.state, class, id, host)
	if err != nil {
		return nil, l.loadError(id, root, fmt.Errorf("failed to instantiate %s: %w", manifest.ClassName, err))
	}

	if host.Fonts != nil && (len(manifest.Fonts) > 0 || len(manifest.FontDefaults) > 0) {
		if err := host.Fonts.RegisterPluginFonts(id, root, manifest.Fonts, manifest.FontDefaults); err != nil {
			l.log.Warnf("Failed to register fonts for %s: %v", id, err)
		}
	}

	return &Instance{ID: id, Module: module, object: object}, nil
}

// instantiate calls Class:new(opts). Collaborators are passed by name so the
// constructor does not depend on their order.
func instantiate(L *lua.LState, class *lua.LTable, id string, host HostCollaborators) (*lua.LTable, error) {
	var config map[string]interface{}
	if host.Config != nil {
		config = host.Config.PluginConfig(id)
	}
	if config == nil {
		config = map[string]interface{}{}
	}

	opts := L.NewTable()
	opts.RawSetString("plugin_id", lua.LString(id))
	opts.RawSetString("config", toLua(L, config))
	opts.RawSetString("display_manager", displayTable(L, host.Display))
	opts.RawSetString("cache_manager", cacheTable(L, host.Cache))
	opts.RawSetString("plugin_manager", pluginDirectoryTable(L, host.Plugins))

	if err := L.CallByParam(lua.P{
		Fn:      L.GetField(class, "new"),
		NRet:    1,
		Protect: true,
	}, class, opts); err != nil {
		return nil, err
	}

	ret := L.Get(-1)
	L.Pop(1)

	object, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("constructor returned %s, want table", ret.Type())
	}
	return object, nil
}

// loadError wraps a load failure, attributing it to a recorded dependency
// failure when there is one
func (l *Loader) loadError(id, root string, err error) error {
	if reason, ok := DependencyFailure(root); ok {
		err = fmt.Errorf("%w (%s): %v", ErrDependenciesFailed, reason, err)
	}
	l.log.WithField("plugin_id", id).Errorf("Failed to load plugin: %v", err)
	return NewError(KindLoadFailure, "load", id, err)
}

// Unload closes the module loaded under id
func (l *Loader) Unload(id string) bool {
	l.mu.Lock()
	module, ok := l.modules[id]
	delete(l.modules, id)
	l.mu.Unlock()

	if !ok {
		return false
	}

	module.mu.Lock()
	module.state.Close()
	module.closed = true
	module.mu.Unlock()

	l.log.Infof("Unloaded plugin module: %s", id)
	return true
}

// EvictRoot unloads every module loaded from root
func (l *Loader) EvictRoot(root string) []string {
	l.mu.Lock()
	var ids []string
	for id, module := range l.modules {
		if filepath.Clean(module.Root) == filepath.Clean(root) {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.Unload(id)
	}
	return ids
}

// Module returns the module loaded under id
func (l *Loader) Module(id string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	module, ok := l.modules[id]
	return module, ok
}

// PluginIDs returns the identifiers of loaded modules
func (l *Loader) PluginIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.modules))
	for id := range l.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Manifest returns the manifest of a loaded module
func (l *Loader) Manifest(id string) (*Manifest, bool) {
	module, ok := l.Module(id)
	if !ok {
		return nil, false
	}
	return module.Manifest, true
}

// Update calls the instance's update method
func (i *Instance) Update() error {
	return i.call("update")
}

// Display calls the instance's display method
func (i *Instance) Display(forceClear bool) error {
	return i.call("display", lua.LBool(forceClear))
}

// Field returns a field of the instance converted to Go
func (i *Instance) Field(name string) interface{} {
	i.Module.mu.Lock()
	defer i.Module.mu.Unlock()
	return fromLua(i.Module.state.GetField(i.object, name))
}

func (i *Instance) call(method string, args ...lua.LValue) error {
	i.Module.mu.Lock()
	defer i.Module.mu.Unlock()

	L := i.Module.state
	if i.Module.closed {
		return NewError(KindLoadFailure, method, i.ID, errors.New("plugin module was unloaded"))
	}

	fn, ok := L.GetField(i.object, method).(*lua.LFunction)
	if !ok {
		return nil
	}

	callArgs := append([]lua.LValue{i.object}, args...)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, callArgs...); err != nil {
		return NewError(KindInternal, method, i.ID, err)
	}
	return nil
}

func hasManifest(root string) bool {
	info, err := os.Stat(filepath.Join(root, ManifestFileName))
	return err == nil && !info.IsDir()
}
