package cli

import (
	"fmt"
	"io"

	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/spf13/cobra"
)

func newInstallCommand(opts *rootOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "install <plugin-id>",
		Short: "Install a plugin from the registries",
		Long: `Install a plugin from the registries, at its latest version unless
--version is given. An existing installation is replaced only once the new
files have validated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				result := app.Orchestrator.Install(cmd.Context(), args[0], version)
				return reportInstall(cmd.OutOrStdout(), opts.jsonOutput, result)
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to install (default: latest)")
	return cmd
}

func newInstallURLCommand(opts *rootOptions) *cobra.Command {
	var (
		branch     string
		pluginPath string
	)

	cmd := &cobra.Command{
		Use:   "install-url <repo-url>",
		Short: "Install a plugin straight from a repository",
		Long: `Install a plugin from a repository that is not listed in any registry.
Use --path to pick one plugin out of a repository holding several.

Examples:
  ledmatrix-plugins install-url https://github.com/me/ledmatrix-weather
  ledmatrix-plugins install-url https://github.com/me/plugins --path plugins/clock`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				result := app.Orchestrator.InstallFromURL(cmd.Context(), args[0], branch, pluginPath)
				return reportInstall(cmd.OutOrStdout(), opts.jsonOutput, result)
			})
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to install (default: main)")
	cmd.Flags().StringVar(&pluginPath, "path", "", "Plugin directory inside the repository")
	return cmd
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <plugin-id>",
		Short: "Update an installed plugin to its latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				result := app.Orchestrator.Update(cmd.Context(), args[0])
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if err := printJSON(out, result); err != nil {
						return err
					}
				} else {
					printUpdate(out, result)
				}
				if result.Outcome == lifecycle.OutcomeFailed {
					return result.Error
				}
				return nil
			})
		},
	}
}

func newUpdateAllCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update-all",
		Short: "Update every installed plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				results, err := app.Orchestrator.UpdateAll(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, results)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "No plugins installed")
					return nil
				}

				failed := 0
				for _, r := range results {
					printUpdate(out, r)
					if r.Outcome == lifecycle.OutcomeFailed {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d plugins failed to update", failed, len(results))
				}
				return nil
			})
		},
	}
}

func newUninstallCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <plugin-id>",
		Aliases: []string{"remove"},
		Short:   "Remove an installed plugin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				if err := app.Orchestrator.Uninstall(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

// reportInstall prints result and returns its error when it failed
func reportInstall(out io.Writer, jsonOutput bool, result lifecycle.InstallResult) error {
	if jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else if result.Success {
		fmt.Fprintf(out, "Installed %s %s (%s) at %s\n", result.PluginID, result.Version, result.Strategy, result.Path)
		if !result.DependenciesInstalled {
			fmt.Fprintf(out, "Warning: dependencies failed to install: %s\n", result.DependencyError)
		}
	}

	if !result.Success {
		return result.Error
	}
	return nil
}

func printUpdate(out io.Writer, r lifecycle.UpdateResult) {
	switch r.Outcome {
	case lifecycle.OutcomeUpToDate:
		fmt.Fprintf(out, "%s is up to date (%s)\n", r.PluginID, r.Version)
	case lifecycle.OutcomeUpdated:
		fmt.Fprintf(out, "%s updated %s -> %s (%s)\n", r.PluginID, r.PreviousVersion, r.Version, r.Method)
	default:
		fmt.Fprintf(out, "%s failed: %v\n", r.PluginID, r.Error)
	}
}
