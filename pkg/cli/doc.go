// Package cli implements the ledmatrix-plugins command.
//
// Every command loads configuration from the environment (see package
// config), applies the --plugins-dir, --registry and --log-level overrides
// and builds an App: the registry client, version resolver, installer,
// dependency installer, loader and lifecycle orchestrator.
//
//	ledmatrix-plugins search clock
//	ledmatrix-plugins install clock-simple
//	ledmatrix-plugins update-all
//	ledmatrix-plugins serve --addr :5050
package cli
