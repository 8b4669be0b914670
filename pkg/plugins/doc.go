// Package plugins loads and validates LED matrix display plugins.
//
// # Overview
//
// A plugin is a directory under the plugins root holding a manifest.json and
// Lua source. A directory is installed exactly when its manifest parses and
// validates; nothing else records installation state.
//
// # Components
//
// Validator: checks required manifest fields and repairs the entry point and
// class name when they can be recovered
// DependencyInstaller: installs requirements.txt entries into the plugin's own
// lua_modules tree, once
// Loader: executes a plugin's entry point in its own Lua VM and instantiates the
// plugin class with the host collaborators
// Watcher: evicts loaded modules whose directory disappears
//
// # Plugin Classes
//
// Entry points define a table extending the host BasePlugin:
//
//	local Clock = BasePlugin:extend()
//
//	function Clock:update()
//	  self.now = os.date("%H:%M")
//	end
//
//	function Clock:display(force_clear)
//	  if force_clear then self.display_manager:clear() end
//	  self.display_manager:draw_text(self.now, 0, 0)
//	  self.display_manager:update_display()
//	end
//
//	return { Clock = Clock }
//
// # Usage Example
//
//	loader := plugins.NewLoader("/opt/ledmatrix/plugins", logger)
//	instance, err := loader.LoadPlugin(ctx, "clock-simple", nil, "", plugins.HostCollaborators{
//		Display: display,
//		Cache:   cache,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	instance.Update()
//	instance.Display(true)
//
// # Related Packages
//
//   - pkg/installer: fetches plugin sources into a directory
//   - pkg/lifecycle: install, update and uninstall built on this package
package plugins
