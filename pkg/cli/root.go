package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/ledmatrix/pkg/config"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the build version, set with -ldflags
var Version = "dev"

// AppFactory builds the components a command runs against
type AppFactory func(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error)

type rootOptions struct {
	pluginsDir  string
	registryURL string
	logLevel    string
	jsonOutput  bool

	newApp AppFactory
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	return newRootCommand(NewApp)
}

func newRootCommand(newApp AppFactory) *cobra.Command {
	opts := &rootOptions{newApp: newApp}

	root := &cobra.Command{
		Use:   "ledmatrix-plugins",
		Short: "Manage LED matrix display plugins",
		Long: `Install, update, remove and load LED matrix display plugins.

Plugins are discovered through the official registry and any custom
registries, downloaded from their repositories and installed under the
plugins directory.

Environment Variables:
  LEDMATRIX_PLUGINS_DIR     Plugins directory (default: plugins)
  LEDMATRIX_REGISTRY_URL    Official registry index URL
  LEDMATRIX_GITHUB_TOKEN    Repository host token, raises API rate limits
  LEDMATRIX_LOG_LEVEL       Log level (default: info)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.PersistentFlags().StringVar(&opts.pluginsDir, "plugins-dir", "", "Plugins directory (overrides LEDMATRIX_PLUGINS_DIR)")
	root.PersistentFlags().StringVar(&opts.registryURL, "registry", "", "Registry index URL (overrides LEDMATRIX_REGISTRY_URL)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LEDMATRIX_LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newSearchCommand(opts),
		newInfoCommand(opts),
		newInstallCommand(opts),
		newInstallURLCommand(opts),
		newUpdateCommand(opts),
		newUpdateAllCommand(opts),
		newUninstallCommand(opts),
		newListCommand(opts),
		newStatusCommand(opts),
		newLoadCommand(opts),
		newServeCommand(opts),
	)

	return root
}

// loadConfig reads the environment and applies flag overrides
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.pluginsDir != "" {
		cfg.Plugins.Dir = o.pluginsDir
	}
	if o.registryURL != "" {
		cfg.Registry.URL = o.registryURL
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if cfg.Observability.OTelServiceVersion == "" {
		cfg.Observability.OTelServiceVersion = Version
	}
	return cfg, nil
}

// app builds the components for one command run
func (o *rootOptions) app(cmd *cobra.Command) (*App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, cmd.ErrOrStderr())
	return o.newApp(cmd.Context(), cfg, log)
}

// runWithApp builds the app, runs fn against it and releases it
func (o *rootOptions) runWithApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := o.app(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command, printing any error to stderr
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
