package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

const helloManifest = `{"id": "hello-world", "name": "Hello World", "version": "1.0.0", "class_name": "Hello"}`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type archiveServer struct {
	*httptest.Server
	mu       sync.Mutex
	archives map[string][]byte
	status   map[string]int
	requests []string
}

func newArchiveServer(t *testing.T) *archiveServer {
	s := &archiveServer{archives: map[string][]byte{}, status: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, r.URL.Path)
		if code, ok := s.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		data, ok := s.archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) host() *marketplace.RepoHost {
	config := marketplace.HostConfig{APIBase: s.URL + "/api", RawBase: s.URL + "/raw", WebBase: s.URL}
	return marketplace.NewRepoHost(config, testFetcher(), testFetcher(), false, getTestLogger())
}

func testFetcher() *httputil.Fetcher {
	policy := httputil.NewRetryPolicy(httputil.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond})
	return httputil.NewFetcher(nil, policy, 5*time.Second, getTestLogger())
}

func newArchiveInstaller(s *archiveServer) *Installer {
	return New(s.host(), testFetcher(), getTestLogger(), WithCheckouts(false))
}

// assertNoLeftovers checks the plugins root holds nothing but the expected entries
func assertNoLeftovers(t *testing.T, dir string, expected ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, expected, names)
}

func TestInstall_MonoRepo(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/repo/archive/refs/heads/main.zip"] = buildZip(t, map[string]string{
		"repo-main/README.md":                         "# plugins",
		"repo-main/plugins/hello-world/manifest.json": helloManifest,
		"repo-main/plugins/hello-world/manager.lua":   "Hello = BasePlugin:extend()\n",
		"repo-main/plugins/hello-world/assets/a.txt":  "asset",
		"repo-main/plugins/other/manifest.json":       `{"id": "other"}`,
	})

	pluginsDir := t.TempDir()
	dest := filepath.Join(pluginsDir, "hello-world")
	record := &marketplace.PluginRecord{ID: "hello-world", Repo: "https://github.com/ledmatrix/repo", PluginPath: "plugins/hello-world"}

	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{Version: "1.0.0"}, dest)
	require.True(t, result.Success, "install failed: %v", result.Error)
	assert.Equal(t, StrategyMonoRepo, result.Strategy)
	assert.Equal(t, "main", result.Ref)

	assert.FileExists(t, filepath.Join(dest, "manifest.json"))
	assert.FileExists(t, filepath.Join(dest, "manager.lua"))
	assert.FileExists(t, filepath.Join(dest, "assets", "a.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "README.md"))
	assertNoLeftovers(t, pluginsDir, "hello-world")
}

func TestInstall_MonoRepoMissingPath(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/repo/archive/refs/heads/develop.zip"] = buildZip(t, map[string]string{
		"repo-develop/plugins/other/manifest.json": `{"id": "other"}`,
	})

	pluginsDir := t.TempDir()
	dest := filepath.Join(pluginsDir, "hello-world")
	record := &marketplace.PluginRecord{ID: "hello-world", Repo: "ledmatrix/repo", Branch: "develop", PluginPath: "plugins/hello-world"}

	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{Version: "1.0.0"}, dest)
	require.False(t, result.Success)
	assert.True(t, plugins.IsKind(result.Error, plugins.KindNotFound))
	assert.NoDirExists(t, dest)
	assertNoLeftovers(t, pluginsDir)
}

func TestInstall_ArchiveFallsThroughOnNotFound(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/clock/archive/refs/heads/main.zip"] = buildZip(t, map[string]string{
		"clock-main/manifest.json": `{"id": "clock", "name": "Clock", "version": "1.2.0", "class_name": "Clock"}`,
		"clock-main/manager.lua":   "Clock = BasePlugin:extend()\n",
	})

	pluginsDir := t.TempDir()
	dest := filepath.Join(pluginsDir, "clock")
	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}
	entry := marketplace.VersionEntry{Version: "1.2.0", DownloadURL: server.URL + "/downloads/clock-1.2.0.zip"}

	result := newArchiveInstaller(server).Install(context.Background(), record, entry, dest)
	require.True(t, result.Success, "install failed: %v", result.Error)
	assert.Equal(t, StrategyArchive, result.Strategy)
	assert.FileExists(t, filepath.Join(dest, "manager.lua"))

	assert.Equal(t, []string{
		"/downloads/clock-1.2.0.zip",
		"/ledmatrix/clock/archive/refs/tags/v1.2.0.zip",
		"/ledmatrix/clock/archive/refs/heads/main.zip",
	}, server.requests)
}

func TestInstall_ArchiveAlternateBranch(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/clock/archive/refs/heads/master.zip"] = buildTarGz(t, map[string]string{
		"clock-master/manifest.json": `{"id": "clock"}`,
	})

	dest := filepath.Join(t.TempDir(), "clock")
	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}

	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{}, dest)
	require.True(t, result.Success, "install failed: %v", result.Error)
	assert.FileExists(t, filepath.Join(dest, "manifest.json"))
}

func TestInstall_TransientFailureDoesNotFallThrough(t *testing.T) {
	server := newArchiveServer(t)
	server.status["/downloads/clock.zip"] = http.StatusBadGateway
	server.archives["/ledmatrix/clock/archive/refs/heads/main.zip"] = buildZip(t, map[string]string{
		"clock-main/manifest.json": `{"id": "clock"}`,
	})

	pluginsDir := t.TempDir()
	dest := filepath.Join(pluginsDir, "clock")
	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}
	entry := marketplace.VersionEntry{Version: "1.0.0", DownloadURL: server.URL + "/downloads/clock.zip"}

	result := newArchiveInstaller(server).Install(context.Background(), record, entry, dest)
	require.False(t, result.Success)
	assert.True(t, plugins.IsKind(result.Error, plugins.KindTransientNetwork))
	assert.Equal(t, []string{"/downloads/clock.zip", "/downloads/clock.zip", "/downloads/clock.zip"}, server.requests)
	assert.NoDirExists(t, dest)
	assertNoLeftovers(t, pluginsDir)
}

func TestInstall_MissingManifestIsPartial(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/clock/archive/refs/heads/main.zip"] = buildZip(t, map[string]string{
		"clock-main/README.md": "no manifest here",
	})

	pluginsDir := t.TempDir()
	dest := filepath.Join(pluginsDir, "clock")
	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}

	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{}, dest)
	require.False(t, result.Success)
	assert.True(t, plugins.IsKind(result.Error, plugins.KindPartialInstall))
	assert.True(t, errors.Is(result.Error, plugins.ErrManifestNotFound))
	assert.NoDirExists(t, dest)
	assertNoLeftovers(t, pluginsDir)
}

func TestInstall_RejectsZipSlip(t *testing.T) {
	server := newArchiveServer(t)
	server.archives["/ledmatrix/clock/archive/refs/heads/main.zip"] = buildZip(t, map[string]string{
		"clock-main/manifest.json": `{"id": "clock"}`,
		"../../escaped.txt":        "gotcha",
	})

	base := t.TempDir()
	pluginsDir := filepath.Join(base, "plugins")
	dest := filepath.Join(pluginsDir, "clock")
	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}

	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{}, dest)
	require.False(t, result.Success)
	assert.True(t, plugins.IsKind(result.Error, plugins.KindValidationFailure))
	assert.NoFileExists(t, filepath.Join(base, "escaped.txt"))
	assert.NoDirExists(t, dest)
}

func TestInstall_DestinationExists(t *testing.T) {
	server := newArchiveServer(t)
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(dest, "keep.txt"), "mine")

	record := &marketplace.PluginRecord{ID: "clock", Repo: "ledmatrix/clock"}
	result := newArchiveInstaller(server).Install(context.Background(), record, marketplace.VersionEntry{}, dest)
	require.False(t, result.Success)
	assert.FileExists(t, filepath.Join(dest, "keep.txt"))
	assert.Empty(t, server.requests)
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCheckoutRefs(t *testing.T) {
	tests := []struct {
		name    string
		record  *marketplace.PluginRecord
		version string
		want    []string
	}{
		{
			name:    "version and branch",
			record:  &marketplace.PluginRecord{Branch: "develop"},
			version: "v1.0.0",
			want:    []string{"v1.0.0", "1.0.0", "develop", "main", "master", ""},
		},
		{
			name:    "bare version",
			record:  &marketplace.PluginRecord{},
			version: "2.1.0",
			want:    []string{"v2.1.0", "2.1.0", "main", "master", ""},
		},
		{
			name:   "no version",
			record: &marketplace.PluginRecord{Branch: "main"},
			want:   []string{"main", "master", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkoutRefs(tt.record, tt.version))
		})
	}
}
