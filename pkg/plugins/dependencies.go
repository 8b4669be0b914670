package plugins

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DependencySentinel marks a plugin whose dependencies installed successfully
	DependencySentinel = ".dependencies_installed"

	// DependencyFailureMarker records why the last dependency install failed
	DependencyFailureMarker = ".dependencies_failed"

	// LuaModulesDir is the per-plugin tree dependencies are installed into
	LuaModulesDir = "lua_modules"

	// DefaultDependencyTool is the external installer invoked for each dependency
	DefaultDependencyTool = "luarocks"

	// DefaultDependencyTimeout bounds the whole dependency install
	DefaultDependencyTimeout = 5 * time.Minute
)

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// DependencyInstaller installs the third-party packages a plugin declares
type DependencyInstaller struct {
	tool    string
	timeout time.Duration
	run     CommandRunner
	logger  *logrus.Logger
}

// DependencyOption configures a DependencyInstaller
type DependencyOption func(*DependencyInstaller)

// WithDependencyTool sets the executable used to install dependencies
func WithDependencyTool(tool string) DependencyOption {
	return func(d *DependencyInstaller) {
		if tool != "" {
			d.tool = tool
		}
	}
}

// WithDependencyTimeout bounds a single InstallDependencies call
func WithDependencyTimeout(timeout time.Duration) DependencyOption {
	return func(d *DependencyInstaller) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithCommandRunner replaces the command runner
func WithCommandRunner(run CommandRunner) DependencyOption {
	return func(d *DependencyInstaller) {
		d.run = run
	}
}

// NewDependencyInstaller creates a dependency installer
func NewDependencyInstaller(logger *logrus.Logger, opts ...DependencyOption) *DependencyInstaller {
	if logger == nil {
		logger = logrus.New()
	}
	d := &DependencyInstaller{
		tool:    DefaultDependencyTool,
		timeout: DefaultDependencyTimeout,
		run:     ExecRunner,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InstallDependencies installs the dependencies declared by the plugin at root.
// It returns true when there is nothing to do, when a previous run already
// succeeded, or when every dependency installed. Failures are soft: they are
// logged, recorded in a marker file next to the manifest, and reported as false
// with the cause; the plugin stays installed.
func (d *DependencyInstaller) InstallDependencies(ctx context.Context, root string) (bool, error) {
	reqPath := filepath.Join(root, DefaultRequirementsFile)
	if manifest, err := LoadManifestFromDir(root); err == nil {
		reqPath = manifest.RequirementsPath(root)
	}

	log := d.logger.WithField("plugin_dir", root)

	deps, err := readRequirements(reqPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug("No dependency manifest, skipping dependency install")
		return true, nil
	}
	if err != nil {
		return false, d.fail(root, fmt.Errorf("failed to read %s: %w", filepath.Base(reqPath), err))
	}

	if _, err := os.Stat(filepath.Join(root, DependencySentinel)); err == nil {
		log.Debug("Dependencies already installed")
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	tree := filepath.Join(root, LuaModulesDir)
	for _, dep := range deps {
		log.Infof("Installing dependency %s", dep)
		args := append([]string{"--tree", tree, "install"}, strings.Fields(dep)...)
		output, err := d.run(ctx, d.tool, args...)
		if ctx.Err() == context.DeadlineExceeded {
			return false, d.fail(root, fmt.Errorf("dependency install timed out after %v", d.timeout))
		}
		if err != nil {
			return false, d.fail(root, fmt.Errorf("%s install %s: %w: %s", d.tool, dep, err, strings.TrimSpace(string(output))))
		}
	}

	os.Remove(filepath.Join(root, DependencyFailureMarker))
	if err := os.WriteFile(filepath.Join(root, DependencySentinel), nil, 0644); err != nil {
		log.Warnf("Failed to write dependency sentinel: %v", err)
	}

	log.Infof("Installed %d dependencies", len(deps))
	return true, nil
}

// Reset forgets a previous successful install so the next call re-runs the tool
func (d *DependencyInstaller) Reset(root string) {
	os.Remove(filepath.Join(root, DependencySentinel))
	os.Remove(filepath.Join(root, DependencyFailureMarker))
}

func (d *DependencyInstaller) fail(root string, cause error) error {
	d.logger.WithField("plugin_dir", root).Warnf("Dependency install failed: %v", cause)
	if err := os.WriteFile(filepath.Join(root, DependencyFailureMarker), []byte(cause.Error()+"\n"), 0644); err != nil {
		d.logger.Warnf("Failed to record dependency failure: %v", err)
	}
	return NewError(KindDependencyFailure, "install dependencies", filepath.Base(root), cause)
}

// DependencyFailure returns the recorded dependency failure for the plugin at root, if any
func DependencyFailure(root string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(root, DependencyFailureMarker))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// readRequirements parses one dependency per line, ignoring blanks and # comments
func readRequirements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var deps []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			deps = append(deps, line)
		}
	}
	return deps, scanner.Err()
}
