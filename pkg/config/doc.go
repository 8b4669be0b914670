// Package config loads runtime configuration from the environment.
//
// Every setting has an LEDMATRIX_ environment variable and a default. A dotenv
// file (LEDMATRIX_ENV_FILE, default .env) is applied first and never overrides
// variables that are already set. Credentials for the repository host live in
// a YAML secrets file named by LEDMATRIX_SECRETS_FILE:
//
//	github_token: ghp_...
//
// LEDMATRIX_GITHUB_TOKEN or GITHUB_TOKEN override the file.
//
// Commonly used variables:
//
//	LEDMATRIX_PLUGINS_DIR         plugins root (plugins)
//	LEDMATRIX_REGISTRY_URL        official registry index
//	LEDMATRIX_CUSTOM_REGISTRIES   comma-separated custom registry URLs
//	LEDMATRIX_REDIS_URL           shared registry cache (in-memory when empty)
//	LEDMATRIX_USE_GIT             prefer git checkouts (true)
//	LEDMATRIX_DEPENDENCY_TIMEOUT  per-plugin dependency install limit (5m)
//	LEDMATRIX_AUTO_UPDATE         run scheduled updates in serve mode (false)
//	LEDMATRIX_UPDATE_SCHEDULE     cron schedule (0 4 * * *)
//	LEDMATRIX_LOG_LEVEL           debug, info, warn, error (info)
//	LEDMATRIX_OTEL_ENABLED        export traces and metrics over OTLP (false)
package config
