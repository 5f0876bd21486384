package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fabingest/internal/services"
	"fabingest/internal/store"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and edit the settings store shared with plugins",
	}

	getCmd := &cobra.Command{
		Use:   "get <section> <key>",
		Short: "Print one setting value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				value, err := st.GetValueContext(cmd.Context(), args[0], args[1])
				if errors.Is(err, services.ErrNotFound) {
					return fmt.Errorf("[%s] %s is not set", args[0], args[1])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Create or replace one setting value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.SetValueContext(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s = %s\n", args[0], args[1], args[2])
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <section> <key>",
		Short: "Remove one setting value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.DeleteValue(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed [%s] %s\n", args[0], args[1])
				return nil
			})
		},
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list [section]",
		Short: "List settings, optionally limited to one section",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			return ctx.withStore(func(st *store.Store) error {
				values, err := st.ListValues(cmd.Context(), section)
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, values)
				}
				out := cmd.OutOrStdout()
				if len(values) == 0 {
					fmt.Fprintln(out, "No settings stored")
					return nil
				}
				rows := make([][]string, 0, len(values))
				for _, v := range values {
					rows = append(rows, []string{v.Section, v.Key, v.Value, formatTime(v.UpdatedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"Section", "Key", "Value", "Updated"}, rows, nil))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output settings as JSON")

	settingsCmd.AddCommand(getCmd, setCmd, deleteCmd, listCmd)
	return settingsCmd
}
