package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed plugins",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				installed, err := app.Orchestrator.ListInstalled()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if installed == nil {
						installed = []plugins.InstalledPlugin{}
					}
					return printJSON(out, installed)
				}
				if len(installed) == 0 {
					fmt.Fprintln(out, "No plugins installed")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tVERSION\tPATH")
				for _, p := range installed {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Manifest.Name, p.Manifest.Version, p.Root)
				}
				return tw.Flush()
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <plugin-id>",
		Short: "Show whether a plugin is installed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				status := app.Orchestrator.Status(args[0])
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status.PluginID, status.State)
				return nil
			})
		},
	}
}

func newLoadCommand(opts *rootOptions) *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "load [plugin-id...]",
		Short: "Load installed plugins and check they start",
		Long: `Load installed plugins the way the display host does: read the manifest,
run the entry point and create the plugin instance. With no arguments every
installed plugin is loaded. --update also runs each instance's update method
once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				ids := args
				if len(ids) == 0 {
					installed, err := app.Orchestrator.ListInstalled()
					if err != nil {
						return err
					}
					for _, p := range installed {
						ids = append(ids, p.ID)
					}
				}

				loader := app.Orchestrator.Loader()
				host := plugins.HostCollaborators{Plugins: loader}
				running := plugins.NewRegistry()
				out := cmd.OutOrStdout()

				failed := 0
				for _, id := range ids {
					instance, err := app.Orchestrator.Load(cmd.Context(), id, host)
					if err == nil && update {
						err = instance.Update()
					}
					if err == nil {
						err = running.Register(instance)
					}
					if err != nil {
						failed++
						fmt.Fprintf(out, "%s: failed (%s): %v\n", id, plugins.KindOf(err), err)
						continue
					}
					fmt.Fprintf(out, "%s: loaded\n", id)
				}

				fmt.Fprintf(out, "%d of %d plugins loaded\n", running.Count(), len(ids))
				if failed > 0 {
					return fmt.Errorf("%d plugins failed to load", failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&update, "update", false, "Run each plugin's update method once")
	return cmd
}
