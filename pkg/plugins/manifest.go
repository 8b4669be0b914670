package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// knownManifestKeys are the keys owned by Manifest; everything else round-trips through extra
var knownManifestKeys = map[string]bool{
	"id": true, "name": true, "version": true, "entry_point": true, "class_name": true,
	"requirements_file": true, "description": true, "author": true, "category": true,
	"tags": true, "display_modes": true, "fonts": true, "font_defaults": true,
}

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return ParseManifest(data)
}

// ParseManifest parses manifest JSON
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err == nil {
		for k, v := range raw {
			if knownManifestKeys[k] {
				continue
			}
			if manifest.extra == nil {
				manifest.extra = make(map[string]interface{})
			}
			manifest.extra[k] = v
		}
	}

	return &manifest, nil
}

// LoadManifestFromDir loads a plugin manifest from a directory (looks for manifest.json)
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// SaveManifest writes a manifest, keeping keys it does not model. The write goes
// through a temp file and rename so a crash never leaves a truncated manifest.
func SaveManifest(manifest *Manifest, path string) error {
	known, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	out := make(map[string]interface{}, len(manifest.extra)+8)
	for k, v := range manifest.extra {
		out[k] = v
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(known, &fields); err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	for k, v := range fields {
		out[k] = v
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// isValidSemver checks if a version string follows semantic versioning
func isValidSemver(version string) bool {
	return semverRegex.MatchString(version)
}
