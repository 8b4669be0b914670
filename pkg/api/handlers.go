package api

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/async"
	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
)

// listStore handles GET /api/v1/plugins/store
func (s *Server) listStore(w http.ResponseWriter, r *http.Request) {
	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	stars, err := httputil.ParseQueryBool(r, "stars", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	query := marketplace.SearchQuery{
		Query:    httputil.ParseQueryString(r, "q", ""),
		Category: httputil.ParseQueryString(r, "category", ""),
		Tags:     httputil.ParseQueryList(r, "tag"),
	}

	records := marketplace.Filter(s.registry.Records(r.Context(), refresh), query)
	if stars {
		s.registry.EnrichStars(r.Context(), records)
	}

	httputil.WriteJSON(w, http.StatusOK, StoreResponse{Plugins: records, Count: len(records)})
}

// getStorePlugin handles GET /api/v1/plugins/store/{id}
func (s *Server) getStorePlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	record, err := s.registry.GetPlugin(r.Context(), id)
	if err != nil {
		httputil.WritePluginError(w, err)
		return
	}

	info := PluginInfo{
		PluginRecord:  *record,
		Source:        record.Source,
		InstallStatus: s.orchestrator.Status(id),
	}
	if latest, err := s.resolver.ResolveLatestVersion(r.Context(), record); err == nil {
		info.Latest = &latest
	} else {
		info.LatestError = err.Error()
	}

	withManifest, err := httputil.ParseQueryBool(r, "manifest", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if withManifest {
		ref := httputil.ParseQueryString(r, "ref", "")
		manifest, err := s.resolver.FetchRemoteManifest(r.Context(), record, ref)
		if err != nil {
			httputil.WritePluginError(w, err)
			return
		}
		info.Manifest = manifest
	}

	httputil.WriteJSON(w, http.StatusOK, info)
}

// listInstalled handles GET /api/v1/plugins/installed
func (s *Server) listInstalled(w http.ResponseWriter, r *http.Request) {
	installed, err := s.orchestrator.ListInstalled()
	if err != nil {
		httputil.WritePluginError(w, err)
		return
	}

	response := make([]InstalledPluginResponse, 0, len(installed))
	for _, p := range installed {
		_, loaded := s.orchestrator.Loader().Module(p.ID)
		response = append(response, InstalledPluginResponse{
			ID:          p.ID,
			Name:        p.Manifest.Name,
			Version:     p.Manifest.Version,
			Author:      p.Manifest.Author,
			Description: p.Manifest.Description,
			Path:        p.Root,
			State:       s.orchestrator.Status(p.ID).State,
			Loaded:      loaded,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// installPlugin handles POST /api/v1/plugins/install
func (s *Server) installPlugin(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PluginID, "plugin_id") {
		return
	}

	writeInstallResult(w, r, s.orchestrator.Install(r.Context(), req.PluginID, req.Version))
}

// installFromURL handles POST /api/v1/plugins/install-from-url
func (s *Server) installFromURL(w http.ResponseWriter, r *http.Request) {
	var req InstallFromURLRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RepoURL, "repo_url") {
		return
	}

	writeInstallResult(w, r, s.orchestrator.InstallFromURL(r.Context(), req.RepoURL, req.Branch, req.PluginPath))
}

func writeInstallResult(w http.ResponseWriter, r *http.Request, result lifecycle.InstallResult) {
	status := http.StatusOK
	if !result.Success {
		status = httputil.StatusForKind(plugins.KindOf(result.Error))
		observability.FromContext(r.Context()).WithError(result.Error).Warnf("Install of %s failed", result.PluginID)
	}
	httputil.WriteJSON(w, status, result)
}

// updatePlugin handles POST /api/v1/plugins/{id}/update
func (s *Server) updatePlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	result := s.orchestrator.Update(r.Context(), id)
	status := http.StatusOK
	if result.Outcome == lifecycle.OutcomeFailed {
		status = httputil.StatusForKind(plugins.KindOf(result.Error))
		observability.FromContext(r.Context()).WithError(result.Error).Warnf("Update of %s failed", id)
	}
	httputil.WriteJSON(w, status, result)
}

// uninstallPlugin handles DELETE /api/v1/plugins/{id}
func (s *Server) uninstallPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.orchestrator.Uninstall(r.Context(), id); err != nil {
		httputil.WritePluginError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listStatuses handles GET /api/v1/plugins/statuses
func (s *Server) listStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := s.orchestrator.Statuses()
	if statuses == nil {
		statuses = []lifecycle.Status{}
	}
	httputil.WriteJSON(w, http.StatusOK, statuses)
}

// pluginStatus handles GET /api/v1/plugins/{id}/status
func (s *Server) pluginStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.orchestrator.Status(id))
}

// updateAll handles POST /api/v1/plugins/update-all. The pass runs in the
// background; GET on the same path reports it.
func (s *Server) updateAll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.updating {
		s.mu.Unlock()
		httputil.WriteErrorMessage(w, http.StatusConflict, "an update pass is already running")
		return
	}
	s.updating = true
	s.mu.Unlock()

	// the pass outlives the request
	async.SafeGo(context.Background(), s.updateAllTimeout, "update all plugins", func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			s.updating = false
			s.mu.Unlock()
		}()

		var results []lifecycle.UpdateResult
		if s.scheduler != nil {
			results = s.scheduler.RunNow(ctx)
		} else {
			var err error
			if results, err = s.orchestrator.UpdateAll(ctx); err != nil {
				return err
			}
		}

		s.mu.Lock()
		s.lastUpdate = time.Now()
		s.lastResults = results
		s.mu.Unlock()
		return nil
	})

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// lastUpdateRun handles GET /api/v1/plugins/update-all
func (s *Server) lastUpdateRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	response := UpdateRunResponse{
		Running:  s.updating,
		Finished: s.lastUpdate,
		Results:  s.lastResults,
	}
	s.mu.Unlock()

	if response.Finished.IsZero() && s.scheduler != nil {
		response.Finished, response.Results = s.scheduler.LastRun()
	}
	if response.Results == nil {
		response.Results = []lifecycle.UpdateResult{}
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}
