package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// subclassPatterns match a table class built from the host base type
	subclassPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(?:local\s+)?([A-Za-z_]\w*)\s*=\s*` + BaseClassName + `\s*:\s*extend\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:local\s+)?([A-Za-z_]\w*)\s*=\s*setmetatable\s*\(\s*\{\s*\}\s*,\s*\{\s*__index\s*=\s*` + BaseClassName + `\b`),
	}

	// anyClassPattern matches the first table-class definition of any lineage
	anyClassPattern = regexp.MustCompile(`(?m)^\s*(?:local\s+)?([A-Za-z_]\w*)\s*=\s*(?:[A-Za-z_][\w.]*\s*:\s*extend\s*\(|setmetatable\s*\(\s*\{\s*\}|class\s*\()`)

	pluginIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
)

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

// Validator gates installed plugins on their manifest, repairing what it can
type Validator struct {
	logger *logrus.Logger
}

// NewValidator creates a new manifest validator
func NewValidator(logger *logrus.Logger) *Validator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Validator{logger: logger}
}

// Validate loads the manifest at manifestPath, repairs recoverable omissions
// (default entry point, class name recovered from source) and rejects anything
// still structurally invalid. Repairs are persisted only when validation passes.
func (v *Validator) Validate(manifestPath string) (*Manifest, error) {
	root := filepath.Dir(manifestPath)

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, NewError(KindValidationFailure, "validate", "", err)
	}

	log := v.logger.WithField("plugin_id", manifest.ID)
	repaired := false

	if manifest.EntryPoint == "" {
		manifest.EntryPoint = DefaultEntryPoint
		repaired = true
		log.Infof("Manifest has no entry_point, defaulting to %s", DefaultEntryPoint)
	}

	if manifest.ClassName == "" {
		source, err := os.ReadFile(manifest.EntryPointPath(root))
		if err == nil {
			if name, ok := DetectClassName(string(source)); ok {
				manifest.ClassName = name
				repaired = true
				log.Infof("Manifest has no class_name, detected %q from %s", name, manifest.EntryPoint)
			}
		}
	}

	var problems []string
	for _, verr := range v.ValidateManifest(manifest) {
		if verr.Severity == "warning" {
			log.Warnf("Manifest warning on %s: %s", verr.Field, verr.Message)
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: %s", verr.Field, verr.Message))
	}

	if err := checkEntryPoint(root, manifest); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return nil, NewError(KindValidationFailure, "validate", manifest.ID,
			fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; ")))
	}

	if repaired {
		if err := SaveManifest(manifest, manifestPath); err != nil {
			return nil, NewError(KindValidationFailure, "validate", manifest.ID, err)
		}
	}

	return manifest, nil
}

// ValidateDir validates the manifest at the root of dir
func (v *Validator) ValidateDir(dir string) (*Manifest, error) {
	return v.Validate(filepath.Join(dir, ManifestFileName))
}

// ValidateManifest performs field validation on a plugin manifest
func (v *Validator) ValidateManifest(manifest *Manifest) []ValidationError {
	var errors []ValidationError

	if manifest.ID == "" {
		errors = append(errors, ValidationError{
			Field:    "id",
			Message:  "Plugin ID is required",
			Severity: "error",
		})
	} else if !pluginIDRegex.MatchString(manifest.ID) {
		errors = append(errors, ValidationError{
			Field:    "id",
			Message:  "Plugin ID should be lowercase alphanumeric with dashes (e.g., 'clock-simple')",
			Severity: "warning",
		})
	}

	if manifest.Name == "" {
		errors = append(errors, ValidationError{
			Field:    "name",
			Message:  "Plugin name is required",
			Severity: "error",
		})
	}

	if manifest.Version == "" {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  "Version is required",
			Severity: "error",
		})
	} else if !isValidSemver(manifest.Version) {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  fmt.Sprintf("Version must be valid semantic version, got %q", manifest.Version),
			Severity: "error",
		})
	}

	if manifest.ClassName == "" {
		errors = append(errors, ValidationError{
			Field:    "class_name",
			Message:  "Class name is required and could not be detected from the entry point",
			Severity: "error",
		})
	}

	if manifest.EntryPoint != "" && filepath.Ext(manifest.EntryPoint) != ".lua" {
		errors = append(errors, ValidationError{
			Field:    "entry_point",
			Message:  fmt.Sprintf("Entry point must be a .lua file, got %q", manifest.EntryPoint),
			Severity: "error",
		})
	}

	if manifest.Author == "" {
		errors = append(errors, ValidationError{
			Field:    "author",
			Message:  "Author should be specified",
			Severity: "warning",
		})
	}

	return errors
}

// checkEntryPoint verifies the entry point stays inside root and exists
func checkEntryPoint(root string, manifest *Manifest) error {
	path := manifest.EntryPointPath(root)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry_point: %q escapes the plugin directory", manifest.EntryPoint)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("entry_point: %w: %s", ErrEntryPointMissing, manifest.EntryPoint)
	}
	return nil
}

// DetectClassName scans Lua source for the plugin class. A table extending
// BasePlugin wins; otherwise the first table-class definition is used. This is a
// fallback for manifests that omit class_name, never a substitute for it.
func DetectClassName(source string) (string, bool) {
	best := -1
	name := ""
	for _, re := range subclassPatterns {
		if m := re.FindStringSubmatchIndex(source); m != nil && (best < 0 || m[0] < best) {
			best = m[0]
			name = source[m[2]:m[3]]
		}
	}
	if name != "" {
		return name, true
	}

	if m := anyClassPattern.FindStringSubmatch(source); m != nil {
		return m[1], true
	}
	return "", false
}
