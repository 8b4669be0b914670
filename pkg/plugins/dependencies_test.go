package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	dep := args[len(args)-1]
	if err, ok := r.fail[dep]; ok {
		return []byte("Error: No results matching query were found for " + dep), err
	}
	return []byte("ok"), nil
}

func newPluginDir(t *testing.T, requirements string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ManifestFileName), `{"id": "weather", "name": "Weather", "version": "1.0.0", "class_name": "Weather"}`)
	if requirements != "" {
		writeFile(t, filepath.Join(dir, DefaultRequirementsFile), requirements)
	}
	return dir
}

func TestInstallDependencies_NoRequirements(t *testing.T) {
	runner := &recordingRunner{}
	installer := NewDependencyInstaller(getTestLogger(), WithCommandRunner(runner.run))

	ok, err := installer.InstallDependencies(context.Background(), newPluginDir(t, ""))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, runner.calls)
}

func TestInstallDependencies_Success(t *testing.T) {
	dir := newPluginDir(t, "# http client\nlua-requests\n\nlunajson 1.2.3-1  # pinned\n")
	runner := &recordingRunner{}
	installer := NewDependencyInstaller(getTestLogger(), WithCommandRunner(runner.run))

	ok, err := installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)

	tree := filepath.Join(dir, LuaModulesDir)
	assert.Equal(t, [][]string{
		{"luarocks", "--tree", tree, "install", "lua-requests"},
		{"luarocks", "--tree", tree, "install", "lunajson", "1.2.3-1"},
	}, runner.calls)
	assert.FileExists(t, filepath.Join(dir, DependencySentinel))

	// A second run is a no-op
	ok, err = installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, runner.calls, 2)
}

func TestInstallDependencies_CustomRequirementsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ManifestFileName), `{"id": "weather", "name": "Weather", "version": "1.0.0", "class_name": "Weather", "requirements_file": "rocks.txt"}`)
	writeFile(t, filepath.Join(dir, "rocks.txt"), "lunajson\n")

	runner := &recordingRunner{}
	installer := NewDependencyInstaller(getTestLogger(), WithCommandRunner(runner.run), WithDependencyTool("/usr/local/bin/luarocks"))

	ok, err := installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/usr/local/bin/luarocks", runner.calls[0][0])
}

func TestInstallDependencies_Failure(t *testing.T) {
	dir := newPluginDir(t, "lunajson\nnot-a-rock\n")
	runner := &recordingRunner{fail: map[string]error{"not-a-rock": errors.New("exit status 1")}}
	installer := NewDependencyInstaller(getTestLogger(), WithCommandRunner(runner.run))

	ok, err := installer.InstallDependencies(context.Background(), dir)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDependencyFailure))
	assert.Contains(t, err.Error(), "not-a-rock")

	assert.NoFileExists(t, filepath.Join(dir, DependencySentinel))
	reason, failed := DependencyFailure(dir)
	assert.True(t, failed)
	assert.Contains(t, reason, "exit status 1")

	// Retrying after the cause is fixed clears the marker
	runner.fail = nil
	ok, err = installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)
	_, failed = DependencyFailure(dir)
	assert.False(t, failed)
}

func TestInstallDependencies_Timeout(t *testing.T) {
	dir := newPluginDir(t, "slow-rock\n")
	blocking := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	installer := NewDependencyInstaller(getTestLogger(),
		WithCommandRunner(blocking),
		WithDependencyTimeout(50*time.Millisecond),
	)

	start := time.Now()
	ok, err := installer.InstallDependencies(context.Background(), dir)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, err.Error(), "timed out")

	reason, failed := DependencyFailure(dir)
	assert.True(t, failed)
	assert.True(t, strings.HasPrefix(reason, "dependency install timed out"))
}

func TestReset(t *testing.T) {
	dir := newPluginDir(t, "lunajson\n")
	runner := &recordingRunner{}
	installer := NewDependencyInstaller(getTestLogger(), WithCommandRunner(runner.run))

	_, err := installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)

	installer.Reset(dir)
	_, err = os.Stat(filepath.Join(dir, DependencySentinel))
	assert.True(t, os.IsNotExist(err))

	_, err = installer.InstallDependencies(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, runner.calls, 2)
}
