package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultRegistryURL is the official registry index
const DefaultRegistryURL = "https://raw.githubusercontent.com/ChuckBuilds/ledmatrix-plugins/main/plugins.json"

// registryIndexFile is the index file name probed at a repository root
const registryIndexFile = "plugins.json"

// starConcurrency bounds concurrent repository metadata requests
const starConcurrency = 4

// Client reads the official registry index and any custom registries
type Client struct {
	registryURL string
	custom      []string
	store       IndexStore
	fetcher     *httputil.Fetcher
	host        *RepoHost
	log         *logrus.Logger

	mu       sync.Mutex
	lastGood map[string]*Index

	// OnFetch is called after every registry fetch attempt
	OnFetch func(source string, ok bool)
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCustomRegistries adds repository URLs (or direct .json index URLs) of custom registries
func WithCustomRegistries(urls ...string) ClientOption {
	return func(c *Client) {
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				c.custom = append(c.custom, u)
			}
		}
	}
}

// WithIndexStore replaces the index store
func WithIndexStore(store IndexStore) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// NewClient creates a registry client. An empty registryURL uses the official index.
func NewClient(registryURL string, fetcher *httputil.Fetcher, host *RepoHost, log *logrus.Logger, opts ...ClientOption) *Client {
	if registryURL == "" {
		registryURL = DefaultRegistryURL
	}
	if log == nil {
		log = logrus.New()
	}

	c := &Client{
		registryURL: registryURL,
		store:       NewMemoryStore(16, DefaultIndexTTL),
		fetcher:     fetcher,
		host:        host,
		log:         log,
		lastGood:    make(map[string]*Index),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the repository host client
func (c *Client) Host() *RepoHost {
	return c.host
}

// FetchRegistry returns the official index, from cache unless forceRefresh is
// set or the cached copy expired. On failure the last good index is returned,
// or an empty one; it never fails.
func (c *Client) FetchRegistry(ctx context.Context, forceRefresh bool) *Index {
	return c.cachedIndex(ctx, c.registryURL, OfficialSource, forceRefresh, func(ctx context.Context) (*Index, bool) {
		data, err := c.fetcher.Get(ctx, c.registryURL)
		if err != nil {
			c.log.WithError(err).Warn("Failed to fetch plugin registry")
			return nil, false
		}
		return parseIndex(data)
	})
}

// FetchRegistryFromURL reads a custom registry. repoURL may name a .json index
// directly; otherwise plugins.json is probed at the repository root on main,
// then master. The first body that parses with a plugins array wins.
func (c *Client) FetchRegistryFromURL(ctx context.Context, repoURL string) (*Index, bool) {
	for _, candidate := range c.registryCandidates(repoURL) {
		data, err := c.fetcher.Get(ctx, candidate)
		if err != nil {
			c.log.WithField("url", candidate).Debugf("Registry candidate unavailable: %v", err)
			continue
		}
		if index, ok := parseIndex(data); ok {
			return tagSource(index, repoURL), true
		}
		c.log.WithField("url", candidate).Debug("Registry candidate is not a plugin index")
	}
	return nil, false
}

func (c *Client) registryCandidates(repoURL string) []string {
	var candidates []string
	if strings.HasSuffix(strings.ToLower(repoURL), ".json") {
		candidates = append(candidates, repoURL)
	}
	if c.host == nil {
		return candidates
	}
	for _, branch := range []string{"main", "master"} {
		if raw, err := c.host.RawURL(repoURL, branch, registryIndexFile); err == nil {
			candidates = append(candidates, raw)
		}
	}
	return candidates
}

// customIndex returns a custom registry's index through the same cache as the official one
func (c *Client) customIndex(ctx context.Context, repoURL string, forceRefresh bool) *Index {
	return c.cachedIndex(ctx, repoURL, repoURL, forceRefresh, func(ctx context.Context) (*Index, bool) {
		return c.FetchRegistryFromURL(ctx, repoURL)
	})
}

func (c *Client) cachedIndex(ctx context.Context, key, source string, forceRefresh bool, fetch func(context.Context) (*Index, bool)) *Index {
	if !forceRefresh {
		if index, ok := c.store.Get(ctx, key); ok {
			return tagSource(index, source)
		}
	}

	index, ok := fetch(ctx)
	if c.OnFetch != nil {
		c.OnFetch(source, ok)
	}

	if ok {
		index = tagSource(index, source)
		if err := c.store.Set(ctx, key, index); err != nil {
			c.log.WithError(err).Warn("Failed to cache registry index")
		}
		c.mu.Lock()
		c.lastGood[key] = index
		c.mu.Unlock()
		return index
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastGood[key]; ok {
		c.log.WithField("source", source).Info("Using last fetched registry index")
		return last
	}
	return &Index{}
}

// Records returns the records of the official registry followed by every custom
// registry. Colliding identifiers are all kept, each tagged with its source.
func (c *Client) Records(ctx context.Context, forceRefresh bool) []PluginRecord {
	records := append([]PluginRecord(nil), c.FetchRegistry(ctx, forceRefresh).Plugins...)
	for _, repoURL := range c.custom {
		records = append(records, c.customIndex(ctx, repoURL, forceRefresh).Plugins...)
	}
	return records
}

// GetPlugin returns the record for id, preferring the official registry
func (c *Client) GetPlugin(ctx context.Context, id string) (*PluginRecord, error) {
	for _, record := range c.FetchRegistry(ctx, false).Plugins {
		if record.ID == id {
			found := record
			return &found, nil
		}
	}

	for _, repoURL := range c.custom {
		for _, record := range c.customIndex(ctx, repoURL, false).Plugins {
			if record.ID == id {
				found := record
				return &found, nil
			}
		}
	}

	return nil, plugins.NewError(plugins.KindNotFound, "get plugin", id,
		fmt.Errorf("%w in any registry", plugins.ErrPluginNotFound))
}

// EnrichStars fills in repository star counts. Stars are advisory: lookup
// failures leave the record unchanged.
func (c *Client) EnrichStars(ctx context.Context, records []PluginRecord) {
	if c.host == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(starConcurrency)

	for i := range records {
		i := i
		if records[i].Repo == "" {
			continue
		}
		g.Go(func() error {
			info, err := c.host.RepoInfo(gctx, records[i].Repo)
			if err != nil {
				c.log.WithField("plugin_id", records[i].ID).Debugf("Star lookup failed: %v", err)
				return nil
			}
			records[i].Stars = info.StargazersCount
			return nil
		})
	}

	g.Wait()
}

// parseIndex accepts a body only when it has a plugins array
func parseIndex(data []byte) (*Index, bool) {
	var probe struct {
		Plugins json.RawMessage `json:"plugins"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	if !bytes.HasPrefix(bytes.TrimSpace(probe.Plugins), []byte("[")) {
		return nil, false
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, false
	}
	return &index, true
}

// tagSource returns a copy of index with every record's provenance set
func tagSource(index *Index, source string) *Index {
	tagged := &Index{LastUpdated: index.LastUpdated, Plugins: make([]PluginRecord, len(index.Plugins))}
	for i, record := range index.Plugins {
		record.Source = source
		tagged.Plugins[i] = record
	}
	return tagged
}
