// Command fabingestd runs the fabingest daemon in the foreground, for service
// managers that supervise the process themselves.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fabingest/internal/config"
	"fabingest/internal/daemonrun"
)

func newCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		diagnostic bool
	)
	cmd := &cobra.Command{
		Use:           "fabingestd",
		Short:         "Run the fabingest daemon in the foreground",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				Diagnostic: diagnostic,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	return cmd
}
