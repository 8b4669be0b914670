package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/spf13/cobra"
)

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var (
		category string
		tags     []string
		refresh  bool
		stars    bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the plugin registries",
		Long: `Search the official registry and any custom registries.

The query matches plugin ids, names, descriptions and authors. Records
from different registries that share an id are all listed.

Examples:
  ledmatrix-plugins search clock
  ledmatrix-plugins search --category sports --tag nfl --tag nhl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := marketplace.SearchQuery{Category: category, Tags: tags}
			if len(args) == 1 {
				query.Query = args[0]
			}

			return opts.runWithApp(cmd, func(app *App) error {
				records := marketplace.Filter(app.Registry.Records(cmd.Context(), refresh), query)
				if stars {
					app.Registry.EnrichStars(cmd.Context(), records)
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No plugins found")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tVERSION\tCATEGORY\tSOURCE")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, listedVersion(r), r.Category, r.Source)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only plugins in this category")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only plugins with any of these tags")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the registry cache")
	cmd.Flags().BoolVar(&stars, "stars", false, "Fetch repository star counts")

	return cmd
}

func newInfoCommand(opts *rootOptions) *cobra.Command {
	var (
		showManifest bool
		ref          string
	)

	cmd := &cobra.Command{
		Use:   "info <plugin-id>",
		Short: "Show a registry plugin and its latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				record, err := app.Registry.GetPlugin(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				latest, latestErr := app.Resolver.ResolveLatestVersion(cmd.Context(), record)
				status := app.Orchestrator.Status(record.ID)

				var manifest *plugins.Manifest
				if showManifest {
					if manifest, err = app.Resolver.FetchRemoteManifest(cmd.Context(), record, ref); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					info := map[string]interface{}{
						"plugin": record,
						"source": record.Source,
						"status": status,
					}
					if latestErr == nil {
						info["latest"] = latest
					}
					if manifest != nil {
						info["manifest"] = manifest
					}
					return printJSON(out, info)
				}

				fmt.Fprintf(out, "ID:          %s\n", record.ID)
				fmt.Fprintf(out, "Name:        %s\n", record.Name)
				if record.Description != "" {
					fmt.Fprintf(out, "Description: %s\n", record.Description)
				}
				if record.Author != "" {
					fmt.Fprintf(out, "Author:      %s\n", record.Author)
				}
				fmt.Fprintf(out, "Repository:  %s\n", record.Repo)
				fmt.Fprintf(out, "Source:      %s\n", record.Source)
				if len(record.Tags) > 0 {
					fmt.Fprintf(out, "Tags:        %s\n", strings.Join(record.Tags, ", "))
				}
				if latestErr != nil {
					fmt.Fprintf(out, "Latest:      unknown (%v)\n", latestErr)
				} else {
					fmt.Fprintf(out, "Latest:      %s\n", latest.Version)
				}
				fmt.Fprintf(out, "Installed:   %s\n", status.State)
				if manifest != nil {
					fmt.Fprintf(out, "Manifest:    %s %s (class %s)\n", manifest.Name, manifest.Version, manifest.ClassName)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showManifest, "manifest", false, "Fetch the manifest from the repository")
	cmd.Flags().StringVar(&ref, "ref", "", "Branch or tag to read the manifest from (default: the registry branch)")
	return cmd
}

// listedVersion is the newest version the registry itself names
func listedVersion(r marketplace.PluginRecord) string {
	switch {
	case r.LatestVersion != "":
		return r.LatestVersion
	case len(r.Versions) > 0:
		return r.Versions[0].Version
	default:
		return r.Version
	}
}
