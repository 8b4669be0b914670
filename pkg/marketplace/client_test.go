package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

func testFetcher() *httputil.Fetcher {
	policy := httputil.NewRetryPolicy(httputil.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond})
	return httputil.NewFetcher(nil, policy, 5*time.Second, getTestLogger())
}

// newTestHost serves the API under /api, raw files under /raw and archives at the root
func newTestHost(t *testing.T, mux *http.ServeMux) (*httptest.Server, *RepoHost) {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	host := NewRepoHost(HostConfig{
		APIBase: server.URL + "/api",
		RawBase: server.URL + "/raw",
		WebBase: server.URL,
	}, testFetcher(), testFetcher(), false, getTestLogger())
	return server, host
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func officialIndex() Index {
	return Index{Plugins: []PluginRecord{
		{ID: "clock-simple", Name: "Simple Clock", Description: "Shows the time", Author: "ledmatrix", Version: "1.0.0",
			Repo: "https://github.com/ledmatrix/clock-simple", Category: "time", Tags: []string{"clock", "basic"},
			Versions: []VersionEntry{{Version: "1.0.0", MinimumHostVersion: "2.0.0", Released: "2024-01-10"}}},
		{ID: "weather", Name: "Weather", Description: "Current conditions", Author: "someone", Version: "0.4.0",
			Repo: "https://github.com/someone/weather", Category: "Information", Tags: []string{"weather", "api"}},
	}}
}

func TestFetchRegistry_Caches(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(t, w, officialIndex())
	})
	server, host := newTestHost(t, mux)

	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger())

	index := client.FetchRegistry(context.Background(), false)
	require.Len(t, index.Plugins, 2)
	assert.Equal(t, OfficialSource, index.Plugins[0].Source)
	assert.Equal(t, "ledmatrix", index.Plugins[0].Author)
	assert.Equal(t, "2.0.0", index.Plugins[0].Versions[0].MinimumHostVersion)

	client.FetchRegistry(context.Background(), false)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	client.FetchRegistry(context.Background(), true)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchRegistry_FallsBackToLastGood(t *testing.T) {
	var failing atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, officialIndex())
	})
	server, host := newTestHost(t, mux)

	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger())
	require.Len(t, client.FetchRegistry(context.Background(), false).Plugins, 2)

	failing.Store(true)
	index := client.FetchRegistry(context.Background(), true)
	assert.Len(t, index.Plugins, 2)
}

func TestFetchRegistry_FailureWithoutCacheIsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	server, host := newTestHost(t, mux)

	var reported []bool
	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger())
	client.OnFetch = func(source string, ok bool) { reported = append(reported, ok) }

	index := client.FetchRegistry(context.Background(), false)
	require.NotNil(t, index)
	assert.Empty(t, index.Plugins)
	assert.Equal(t, []bool{false}, reported)
}

func TestFetchRegistryFromURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/raw/me/my-plugins/master/plugins.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Index{Plugins: []PluginRecord{{ID: "stocks", Name: "Stocks"}}})
	})
	mux.HandleFunc("/raw/me/not-a-registry/main/plugins.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"name": "something else"})
	})
	mux.HandleFunc("/custom/index.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Index{Plugins: []PluginRecord{{ID: "direct", Name: "Direct"}}})
	})
	server, host := newTestHost(t, mux)
	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger())

	index, ok := client.FetchRegistryFromURL(context.Background(), "https://github.com/me/my-plugins")
	require.True(t, ok)
	require.Len(t, index.Plugins, 1)
	assert.Equal(t, "stocks", index.Plugins[0].ID)
	assert.Equal(t, "https://github.com/me/my-plugins", index.Plugins[0].Source)

	_, ok = client.FetchRegistryFromURL(context.Background(), "https://github.com/me/not-a-registry")
	assert.False(t, ok)

	index, ok = client.FetchRegistryFromURL(context.Background(), server.URL+"/custom/index.json")
	require.True(t, ok)
	assert.Equal(t, "direct", index.Plugins[0].ID)
}

func TestRecords_KeepsCollisionsWithProvenance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, officialIndex())
	})
	mux.HandleFunc("/raw/me/my-plugins/main/plugins.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Index{Plugins: []PluginRecord{
			{ID: "weather", Name: "Weather (fork)", Repo: "https://github.com/me/weather"},
			{ID: "stocks", Name: "Stocks", Repo: "https://github.com/me/stocks"},
		}})
	})
	server, host := newTestHost(t, mux)

	custom := "https://github.com/me/my-plugins"
	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger(), WithCustomRegistries(custom, " "))

	records := client.Records(context.Background(), false)
	require.Len(t, records, 4)

	var weather []PluginRecord
	for _, r := range records {
		if r.ID == "weather" {
			weather = append(weather, r)
		}
	}
	require.Len(t, weather, 2)
	assert.Equal(t, OfficialSource, weather[0].Source)
	assert.Equal(t, custom, weather[1].Source)

	// Lookups prefer the official registry, then fall back to custom ones
	record, err := client.GetPlugin(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, "Weather", record.Name)

	record, err = client.GetPlugin(context.Background(), "stocks")
	require.NoError(t, err)
	assert.Equal(t, custom, record.Source)

	_, err = client.GetPlugin(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")

	results := client.Search(context.Background(), SearchQuery{Query: "WEATHER"})
	assert.Len(t, results, 2)
}

func TestFilter(t *testing.T) {
	records := officialIndex().Plugins

	tests := []struct {
		name  string
		query SearchQuery
		want  []string
	}{
		{"empty query matches all", SearchQuery{}, []string{"clock-simple", "weather"}},
		{"name substring", SearchQuery{Query: "clock"}, []string{"clock-simple"}},
		{"description case-insensitive", SearchQuery{Query: "CONDITIONS"}, []string{"weather"}},
		{"author", SearchQuery{Query: "someone"}, []string{"weather"}},
		{"id", SearchQuery{Query: "simple"}, []string{"clock-simple"}},
		{"category ignores case", SearchQuery{Category: "information"}, []string{"weather"}},
		{"category must equal", SearchQuery{Category: "info"}, []string{}},
		{"any tag", SearchQuery{Tags: []string{"api", "nope"}}, []string{"weather"}},
		{"query and category", SearchQuery{Query: "clock", Category: "information"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := []string{}
			for _, r := range Filter(records, tt.query) {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestEnrichStars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/ledmatrix/clock-simple", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, RepoInfo{FullName: "ledmatrix/clock-simple", StargazersCount: 42})
	})
	mux.HandleFunc("/api/repos/someone/weather", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server, host := newTestHost(t, mux)
	client := NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger())

	records := officialIndex().Plugins
	records[1].Stars = 7
	client.EnrichStars(context.Background(), records)

	assert.Equal(t, 42, records[0].Stars)
	assert.Equal(t, 7, records[1].Stars)
}

func TestMemoryStore_Expires(t *testing.T) {
	store := NewMemoryStore(4, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "official", &Index{Plugins: []PluginRecord{{ID: "clock"}}}))
	index, ok := store.Get(ctx, "official")
	require.True(t, ok)
	assert.Equal(t, "clock", index.Plugins[0].ID)

	assert.Eventually(t, func() bool {
		_, ok := store.Get(ctx, "official")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, ok := store.Get(ctx, "official")
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "official", &Index{Plugins: []PluginRecord{{ID: "clock", Source: OfficialSource}}}))
	index, ok := store.Get(ctx, "official")
	require.True(t, ok)
	assert.Equal(t, "clock", index.Plugins[0].ID)
	assert.Empty(t, index.Plugins[0].Source, "provenance is not stored")

	mr.FastForward(2 * time.Minute)
	_, ok = store.Get(ctx, "official")
	assert.False(t, ok)

	mr.Set("ledmatrix:registry:corrupt", "{")
	_, ok = store.Get(ctx, "corrupt")
	assert.False(t, ok)
	assert.False(t, mr.Exists("ledmatrix:registry:corrupt"))

	require.NoError(t, store.Set(ctx, "official", &Index{}))
	require.NoError(t, store.Invalidate(ctx, "official"))
	_, ok = store.Get(ctx, "official")
	assert.False(t, ok)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Minute)
	assert.Error(t, err)
}

func TestClientWithRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(t, w, officialIndex())
	})
	server, host := newTestHost(t, mux)

	newClient := func() *Client {
		store, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return NewClient(server.URL+"/index.json", testFetcher(), host, getTestLogger(), WithIndexStore(store))
	}

	// A second process sharing the store does not refetch
	first := newClient().FetchRegistry(context.Background(), false)
	second := newClient().FetchRegistry(context.Background(), false)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, first.Plugins[0].ID, second.Plugins[0].ID)
	assert.Equal(t, OfficialSource, second.Plugins[0].Source)
}
