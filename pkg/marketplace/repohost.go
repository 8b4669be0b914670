package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Default repository host endpoints
const (
	DefaultAPIBase = "https://api.github.com"
	DefaultRawBase = "https://raw.githubusercontent.com"
	DefaultWebBase = "https://github.com"
)

// HostConfig locates the repository host
type HostConfig struct {
	APIBase string
	RawBase string
	WebBase string
}

// DefaultHostConfig returns the public GitHub endpoints
func DefaultHostConfig() HostConfig {
	return HostConfig{APIBase: DefaultAPIBase, RawBase: DefaultRawBase, WebBase: DefaultWebBase}
}

// RepoHost talks to a GitHub-style repository host
type RepoHost struct {
	config   HostConfig
	api      *httputil.Fetcher
	raw      *httputil.Fetcher
	hasToken bool
	log      *logrus.Logger
}

// NewRepoHost creates a host client. api should carry the bearer token when one
// is configured; raw is used for file and index downloads.
func NewRepoHost(config HostConfig, api, raw *httputil.Fetcher, hasToken bool, log *logrus.Logger) *RepoHost {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}
	if config.RawBase == "" {
		config.RawBase = DefaultRawBase
	}
	if config.WebBase == "" {
		config.WebBase = DefaultWebBase
	}
	if log == nil {
		log = logrus.New()
	}
	api.SetHeader("Accept", "application/vnd.github+json")

	return &RepoHost{
		config:   HostConfig{APIBase: trimSlash(config.APIBase), RawBase: trimSlash(config.RawBase), WebBase: trimSlash(config.WebBase)},
		api:      api,
		raw:      raw,
		hasToken: hasToken,
		log:      log,
	}
}

// ParseRepo returns owner/name for a repository URL or an owner/name slug
func ParseRepo(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	repo = strings.TrimSuffix(repo, "/")
	repo = strings.TrimSuffix(repo, ".git")

	path := repo
	if strings.Contains(repo, "://") {
		u, err := url.Parse(repo)
		if err != nil {
			return "", fmt.Errorf("invalid repository URL %q: %w", repo, err)
		}
		path = u.Path
	} else if i := strings.Index(repo, ":"); i >= 0 && strings.HasPrefix(repo, "git@") {
		path = repo[i+1:]
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1], nil
}

// Releases lists the repository's releases as returned by the host
func (h *RepoHost) Releases(ctx context.Context, repo string) ([]Release, error) {
	var releases []Release
	if err := h.getJSON(ctx, repo, "releases", &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// Tags lists the repository's tags in host order
func (h *RepoHost) Tags(ctx context.Context, repo string) ([]Tag, error) {
	var tags []Tag
	if err := h.getJSON(ctx, repo, "tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// RepoInfo fetches repository metadata
func (h *RepoHost) RepoInfo(ctx context.Context, repo string) (*RepoInfo, error) {
	var info RepoInfo
	if err := h.getJSON(ctx, repo, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetRaw fetches a file from the raw host at ref
func (h *RepoHost) GetRaw(ctx context.Context, repo, ref, path string) ([]byte, error) {
	rawURL, err := h.RawURL(repo, ref, path)
	if err != nil {
		return nil, err
	}
	return h.raw.Get(ctx, rawURL)
}

// RawURL builds the raw file URL for path at ref
func (h *RepoHost) RawURL(repo, ref, path string) (string, error) {
	slug, err := ParseRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/%s", h.config.RawBase, slug, ref, strings.TrimPrefix(path, "/")), nil
}

// TagArchiveURL builds the zip archive URL of a tag
func (h *RepoHost) TagArchiveURL(repo, tag string) (string, error) {
	slug, err := ParseRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/archive/refs/tags/%s.zip", h.config.WebBase, slug, tag), nil
}

// BranchArchiveURL builds the zip archive URL of a branch head
func (h *RepoHost) BranchArchiveURL(repo, branch string) (string, error) {
	slug, err := ParseRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/archive/refs/heads/%s.zip", h.config.WebBase, slug, branch), nil
}

// CloneURL returns the URL to clone repo from. Full URLs are kept as given.
func (h *RepoHost) CloneURL(repo string) (string, error) {
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@") {
		return repo, nil
	}
	slug, err := ParseRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s.git", h.config.WebBase, slug), nil
}

func (h *RepoHost) getJSON(ctx context.Context, repo, resource string, out interface{}) error {
	slug, err := ParseRepo(repo)
	if err != nil {
		return plugins.NewError(plugins.KindInternal, "repo host", "", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s", h.config.APIBase, slug)
	if resource != "" {
		endpoint += "/" + resource
	}

	data, err := h.api.Get(ctx, endpoint)
	if err != nil {
		if plugins.IsKind(err, plugins.KindRateLimited) {
			h.logRateLimit(endpoint)
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return plugins.NewError(plugins.KindInternal, "repo host", "", fmt.Errorf("failed to parse %s: %w", endpoint, err))
	}
	return nil
}

func (h *RepoHost) logRateLimit(endpoint string) {
	entry := h.log.WithField("endpoint", endpoint)
	if h.hasToken {
		entry.Warn("Repository host rate limit exceeded; wait for the limit to reset")
		return
	}
	entry.Warn("Repository host rate limit exceeded; configure a github token to raise the limit")
}

func trimSlash(s string) string {
	return strings.TrimSuffix(s, "/")
}
