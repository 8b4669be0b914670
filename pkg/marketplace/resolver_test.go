package marketplace

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockRecord() *PluginRecord {
	return &PluginRecord{
		ID:       "clock-simple",
		Name:     "Simple Clock",
		Version:  "1.0.0",
		Repo:     "https://github.com/ledmatrix/clock-simple",
		Versions: []VersionEntry{{Version: "1.0.0", DownloadURL: "https://example.com/clock-1.0.0.zip"}},
	}
}

func TestResolveLatestVersion_ReleaseBeatsRegistry(t *testing.T) {
	now := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/releases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Release{
			{TagName: "v1.1.0", PublishedAt: now.Add(-48 * time.Hour)},
			{TagName: "v2.0.0-rc.1", Prerelease: true, PublishedAt: now},
			{TagName: "v1.2.0", PublishedAt: now.Add(-time.Hour)},
			{TagName: "v9.9.9", Draft: true},
		})
	})
	server, host := newTestHost(t, mux)

	entry, err := NewResolver(host, getTestLogger()).ResolveLatestVersion(context.Background(), clockRecord())
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", entry.Version)
	assert.True(t, entry.Synthesized)
	assert.Equal(t, server.URL+"/ledmatrix/clock-simple/archive/refs/tags/v1.2.0.zip", entry.DownloadURL)
}

func TestResolveLatestVersion_ReleaseInRegistryKeepsEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/releases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Release{{TagName: "v1.0.0", PublishedAt: time.Now()}})
	})
	_, host := newTestHost(t, mux)

	entry, err := NewResolver(host, getTestLogger()).ResolveLatestVersion(context.Background(), clockRecord())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", entry.Version)
	assert.False(t, entry.Synthesized)
	assert.Equal(t, "https://example.com/clock-1.0.0.zip", entry.DownloadURL)
}

func TestResolveLatestVersion_RateLimitedFallsThroughToTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/releases", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Tag{{Name: "v1.1.0"}, {Name: "v1.3.0"}})
	})
	_, host := newTestHost(t, mux)

	entry, err := NewResolver(host, getTestLogger()).ResolveLatestVersion(context.Background(), clockRecord())
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", entry.Version, "first tag returned is used")
}

func TestResolveLatestVersion_RegistryTiers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/releases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Release{})
	})
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, host := newTestHost(t, mux)
	resolver := NewResolver(host, getTestLogger())

	record := clockRecord()
	record.LatestVersion = "1.0.5"
	entry, err := resolver.ResolveLatestVersion(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "1.0.5", entry.Version)
	assert.True(t, entry.Synthesized)

	record.LatestVersion = ""
	entry, err = resolver.ResolveLatestVersion(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", entry.Version)

	record.Versions = nil
	_, err = resolver.ResolveLatestVersion(context.Background(), record)
	require.Error(t, err)
	assert.True(t, plugins.IsKind(err, plugins.KindNotFound))
}

func TestResolveLatestVersion_NoHost(t *testing.T) {
	entry, err := NewResolver(nil, getTestLogger()).ResolveLatestVersion(context.Background(), clockRecord())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", entry.Version)
}

func TestResolveVersion(t *testing.T) {
	_, host := newTestHost(t, http.NewServeMux())
	resolver := NewResolver(host, getTestLogger())

	entry := resolver.ResolveVersion(clockRecord(), "v1.0.0")
	assert.Equal(t, "https://example.com/clock-1.0.0.zip", entry.DownloadURL)

	entry = resolver.ResolveVersion(clockRecord(), "0.9.0")
	assert.Equal(t, "0.9.0", entry.Version)
	assert.True(t, entry.Synthesized)
	assert.Contains(t, entry.DownloadURL, "/archive/refs/tags/0.9.0.zip")
}

func TestFetchRemoteManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/raw/ledmatrix/plugins/main/plugins/hello-world/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "hello-world", "name": "Hello World", "version": "0.1.0", "class_name": "Hello"}`))
	})
	_, host := newTestHost(t, mux)

	record := &PluginRecord{ID: "hello-world", Repo: "ledmatrix/plugins", PluginPath: "plugins/hello-world"}
	manifest, err := NewResolver(host, getTestLogger()).FetchRemoteManifest(context.Background(), record, "")
	require.NoError(t, err)
	assert.Equal(t, "Hello", manifest.ClassName)

	_, err = NewResolver(host, getTestLogger()).FetchRemoteManifest(context.Background(), record, "v9")
	require.Error(t, err)
	assert.True(t, plugins.IsKind(err, plugins.KindNotFound))
}
