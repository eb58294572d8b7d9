package cli

import (
	"os"
	"strconv"

	"workshop/internal/constants"

	"github.com/spf13/cobra"
)

// ServerEnv overrides the default control plane address
const ServerEnv = "WORKSHOP_SERVER"

func defaultServer() string {
	if v := os.Getenv(ServerEnv); v != "" {
		return v
	}
	return "http://127.0.0.1:" + strconv.Itoa(constants.DefaultServerPort)
}

// createRootCommand creates the root command with global flags
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workshop",
		Short: "Self-healing orchestrator for the local service workshop",
		Long: `workshop runs and watches the services of a single-host workshop. It
checks every service on an interval, records a heartbeat history, and walks
failing services through restart, deep restart and cascade restart before
escalating to a human.

Run 'workshop serve' to start the control plane. Every other command talks
to a running control plane over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to showing help if no subcommand
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("server", defaultServer(), "Control plane URL (env "+ServerEnv+")")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config.toml")
	rootCmd.PersistentFlags().Bool("json", false, "Print JSON instead of tables")

	return rootCmd
}
