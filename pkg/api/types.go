package api

import (
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
)

// InstallRequest is the body of POST /api/v1/plugins/install
type InstallRequest struct {
	PluginID string `json:"plugin_id"`
	Version  string `json:"version,omitempty"`
}

// InstallFromURLRequest is the body of POST /api/v1/plugins/install-from-url
type InstallFromURLRequest struct {
	RepoURL    string `json:"repo_url"`
	Branch     string `json:"branch,omitempty"`
	PluginPath string `json:"plugin_path,omitempty"`
}

// StoreResponse lists registry records
type StoreResponse struct {
	Plugins []marketplace.PluginRecord `json:"plugins"`
	Count   int                        `json:"count"`
}

// PluginInfo is a registry record with its resolved latest version
type PluginInfo struct {
	marketplace.PluginRecord
	Source        string                    `json:"source"`
	Latest        *marketplace.VersionEntry `json:"latest,omitempty"`
	LatestError   string                    `json:"latest_error,omitempty"`
	InstallStatus lifecycle.Status          `json:"install_status"`
	Manifest      *plugins.Manifest         `json:"manifest,omitempty"`
}

// InstalledPluginResponse is one plugin on disk
type InstalledPluginResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Author      string          `json:"author,omitempty"`
	Description string          `json:"description,omitempty"`
	Path        string          `json:"path"`
	State       lifecycle.State `json:"state"`
	Loaded      bool            `json:"loaded"`
}

// UpdateRunResponse reports the last scheduled or requested update pass
type UpdateRunResponse struct {
	Running  bool                     `json:"running"`
	Finished time.Time                `json:"finished,omitempty"`
	Results  []lifecycle.UpdateResult `json:"results"`
}
