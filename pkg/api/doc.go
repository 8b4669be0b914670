// Package api serves the plugin management HTTP API.
//
// Routes:
//
//	GET    /api/v1/plugins/store             search registries (q, category, tag, refresh, stars)
//	GET    /api/v1/plugins/store/{id}        registry record with its latest version (manifest, ref)
//	GET    /api/v1/plugins/installed         plugins on disk
//	GET    /api/v1/plugins/statuses          every recorded lifecycle state
//	POST   /api/v1/plugins/install           {"plugin_id": "clock", "version": "1.2.0"}
//	POST   /api/v1/plugins/install-from-url  {"repo_url": "...", "branch": "...", "plugin_path": "..."}
//	POST   /api/v1/plugins/{id}/update
//	DELETE /api/v1/plugins/{id}
//	GET    /api/v1/plugins/{id}/status
//	POST   /api/v1/plugins/update-all        starts a background pass (202)
//	GET    /api/v1/plugins/update-all        last pass results
//	GET    /health/live, /health/ready, /metrics
//
// Failed operations answer with the status of their failure kind (404 for
// not found, 422 for validation failures, 429 when rate limited, 502 for
// transient network errors) and carry the typed error in the body.
package api
