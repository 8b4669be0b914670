package plugins

import (
	"time"
)

// Color is an RGB triple drawn by plugins
type Color struct {
	R, G, B uint8
}

// Display is the LED matrix a plugin renders to
type Display interface {
	Width() int
	Height() int
	Clear()
	DrawText(text string, x, y int, color Color)
	Update()
}

// Cache is the host cache plugins use for fetched data
type Cache interface {
	Get(key string, maxAge time.Duration) (interface{}, bool)
	Set(key string, value interface{})
}

// PluginDirectory gives plugins a read-only view of their loaded siblings
type PluginDirectory interface {
	PluginIDs() []string
	Manifest(id string) (*Manifest, bool)
}

// ConfigSource supplies each plugin its persisted settings
type ConfigSource interface {
	PluginConfig(id string) map[string]interface{}
}

// FontRegistrar receives the fonts a plugin declares when it loads
type FontRegistrar interface {
	RegisterPluginFonts(pluginID, root string, fonts []FontDeclaration, defaults map[string]interface{}) error
}

// HostCollaborators are the handles injected into every plugin instance.
// Nil members are injected as nil.
type HostCollaborators struct {
	Display Display
	Cache   Cache
	Plugins PluginDirectory
	Config  ConfigSource
	Fonts   FontRegistrar
}
