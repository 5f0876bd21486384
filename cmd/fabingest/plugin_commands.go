package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fabingest/internal/ipc"
	"fabingest/internal/plugin"
)

func newPluginsCommand(ctx *commandContext) *cobra.Command {
	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and reload ingest plugins",
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins (or manifest entries when the daemon is offline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ipc.Dial(ctx.socketPath())
			if err != nil {
				if !daemonUnavailable(err) {
					return wrapDialError(err, ctx.socketPath())
				}
				return listManifestEntries(cmd, ctx, listJSON)
			}
			defer client.Close()
			resp, err := client.PluginList()
			if err != nil {
				return err
			}
			if listJSON {
				return writeJSON(cmd, resp.Plugins)
			}
			out := cmd.OutOrStdout()
			if len(resp.Plugins) == 0 {
				fmt.Fprintln(out, "No plugins loaded")
				return nil
			}
			rows := make([][]string, 0, len(resp.Plugins))
			for _, p := range resp.Plugins {
				rows = append(rows, []string{p.Name, p.Kind, p.Version, yesNo(p.Started), formatTime(p.LoadedAt), p.Source})
			}
			fmt.Fprintln(out, renderTable([]string{"Name", "Kind", "Version", "Started", "Loaded", "Manifest"}, rows, nil))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output plugins as JSON")

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Reload every manifest in the plugin folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PluginReload()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Loaded %d plugin(s)", len(resp.Loaded))
				if len(resp.Disabled) > 0 {
					fmt.Fprintf(out, ", %d disabled", len(resp.Disabled))
				}
				fmt.Fprintln(out)
				for _, f := range resp.Failed {
					fmt.Fprintf(out, "  failed: %s (%s): %s\n", f.Name, f.Source, f.Error)
				}
				if len(resp.Failed) > 0 {
					return fmt.Errorf("%d plugin(s) failed to load", len(resp.Failed))
				}
				return nil
			})
		},
	}

	pluginsCmd.AddCommand(listCmd, reloadCmd)
	return pluginsCmd
}

func listManifestEntries(cmd *cobra.Command, ctx *commandContext, asJSON bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	paths, err := plugin.Discover(cfg.Paths.PluginDir)
	if err != nil {
		return fmt.Errorf("discover manifests: %w", err)
	}
	var specs []plugin.Spec
	for _, path := range paths {
		entries, err := plugin.ReadManifest(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warn: %s: %v\n", path, err)
			continue
		}
		specs = append(specs, entries...)
	}
	if asJSON {
		return writeJSON(cmd, specs)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Daemon not running; showing manifest entries")
	if len(specs) == 0 {
		fmt.Fprintf(out, "No manifests in %s\n", cfg.Paths.PluginDir)
		return nil
	}
	rows := make([][]string, 0, len(specs))
	for _, spec := range specs {
		rows = append(rows, []string{spec.Name, spec.Kind, spec.Version, yesNo(spec.IsEnabled()), spec.Source})
	}
	fmt.Fprintln(out, renderTable([]string{"Name", "Kind", "Version", "Enabled", "Manifest"}, rows, nil))
	return nil
}
