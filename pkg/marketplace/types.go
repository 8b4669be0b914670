package marketplace

import (
	"time"
)

// OfficialSource is the provenance of records from the official registry
const OfficialSource = "official"

// PluginRecord represents a plugin listed in a registry index
type PluginRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Author        string         `json:"author,omitempty"`
	Version       string         `json:"version,omitempty"`
	LatestVersion string         `json:"latest_version,omitempty"`
	Versions      []VersionEntry `json:"versions,omitempty"`
	Repo          string         `json:"repo"`
	Branch        string         `json:"branch,omitempty"`
	PluginPath    string         `json:"plugin_path,omitempty"`
	Category      string         `json:"category,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Stars         int            `json:"stars,omitempty"`

	// Source is the registry the record came from: OfficialSource or a custom registry URL
	Source string `json:"-"`
}

// VersionEntry is one published version of a plugin
type VersionEntry struct {
	Version            string `json:"version"`
	MinimumHostVersion string `json:"ledmatrix_min,omitempty"`
	Released           string `json:"released,omitempty"`
	DownloadURL        string `json:"download_url,omitempty"`

	// Synthesized marks an entry built from a repository tag or release that the
	// registry does not list
	Synthesized bool `json:"-"`
}

// Index is a registry index document
type Index struct {
	Plugins     []PluginRecord `json:"plugins"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// SearchQuery filters registry records. Empty fields match everything.
type SearchQuery struct {
	Query    string   `json:"query,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Release is a published release on the repository host
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Tag is a repository tag
type Tag struct {
	Name string `json:"name"`
}

// RepoInfo is repository metadata
type RepoInfo struct {
	FullName        string `json:"full_name"`
	DefaultBranch   string `json:"default_branch"`
	StargazersCount int    `json:"stargazers_count"`
}

// VersionEntryFor returns the registry entry for version, matching with or without a v prefix
func (r *PluginRecord) VersionEntryFor(version string) (VersionEntry, bool) {
	for _, entry := range r.Versions {
		if SameVersion(entry.Version, version) {
			return entry, true
		}
	}
	return VersionEntry{}, false
}

// DefaultBranch returns the declared branch or main
func (r *PluginRecord) DefaultBranch() string {
	if r.Branch != "" {
		return r.Branch
	}
	return "main"
}
