package plugins

import (
	"path/filepath"
)

const (
	// ManifestFileName is the per-plugin descriptor at the plugin root
	ManifestFileName = "manifest.json"

	// DefaultEntryPoint is used when a manifest omits entry_point
	DefaultEntryPoint = "manager.lua"

	// DefaultRequirementsFile is the conventional dependency manifest name
	DefaultRequirementsFile = "requirements.txt"

	// DirPrefix is the conventional prefix some plugin directories carry (ledmatrix-<id>)
	DirPrefix = "ledmatrix-"

	// BaseClassName is the host base type plugin classes extend
	BaseClassName = "BasePlugin"
)

// Manifest describes an installed plugin. Unknown keys are preserved on rewrite.
type Manifest struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Version          string                 `json:"version"`
	EntryPoint       string                 `json:"entry_point,omitempty"`
	ClassName        string                 `json:"class_name"`
	RequirementsFile string                 `json:"requirements_file,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Author           string                 `json:"author,omitempty"`
	Category         string                 `json:"category,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	DisplayModes     []string               `json:"display_modes,omitempty"`
	Fonts            []FontDeclaration      `json:"fonts,omitempty"`
	FontDefaults     map[string]interface{} `json:"font_defaults,omitempty"`

	extra map[string]interface{}
}

// FontDeclaration names a font file shipped with the plugin
type FontDeclaration struct {
	Family string `json:"family"`
	Source string `json:"source"`
	Size   int    `json:"size,omitempty"`
}

// EntryPointPath returns the absolute entry-point path for a plugin rooted at root
func (m *Manifest) EntryPointPath(root string) string {
	entry := m.EntryPoint
	if entry == "" {
		entry = DefaultEntryPoint
	}
	return filepath.Join(root, filepath.FromSlash(entry))
}

// RequirementsPath returns the dependency manifest path for a plugin rooted at root
func (m *Manifest) RequirementsPath(root string) string {
	name := m.RequirementsFile
	if name == "" {
		name = DefaultRequirementsFile
	}
	return filepath.Join(root, filepath.FromSlash(name))
}

// InstalledPlugin is a plugin present on disk. A plugin is installed iff Root
// exists and holds a valid manifest; nothing else records installation.
type InstalledPlugin struct {
	ID       string    `json:"id"`
	Root     string    `json:"root"`
	Manifest *Manifest `json:"manifest"`
}
