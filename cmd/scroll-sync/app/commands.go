// Package app provides the command line interface of the scroll sync server.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/scroll-sync-server/internal/versions"
)

// NewRootCmd creates the root command. reconfigureLogging is called with the
// value of --debug before any subcommand runs; it may be nil.
func NewRootCmd(reconfigureLogging func(debug bool)) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "scroll-sync",
		DisableAutoGenTag: true,
		Short:             "Scroll sync server",
		Long: `Scroll sync server keeps the scroll position of every open window of a user in step.
One window per user is the main window; its position is pushed to the others over
Server-Sent Events or WebSocket.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if reconfigureLogging != nil && viper.GetBool("debug") {
				reconfigureLogging(true)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			switch format {
			case "json":
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			case "":
				slog.Info("scroll-sync version",
					"version", info.Version,
					"commit", info.Commit,
					"built", info.BuildDate,
					"go", info.GoVersion,
					"platform", info.Platform)
				return nil
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
