package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// HealthCommands creates on-demand health commands
func HealthCommands(api APIFactory) []*cobra.Command {
	commands := []*cobra.Command{}

	// workshop health check <id>
	checkCmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Run one health check now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			res, err := c.CheckHealth(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}

			line := fmt.Sprintf("%s: %s (%.1fms)", res.ServiceID, res.Status, res.LatencyMS)
			if res.Detail != "" {
				line += " " + res.Detail
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
	commands = append(commands, checkCmd)

	// workshop health refresh
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a health sweep of every active service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			resp, err := c.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			t := newTable("SERVICE", "STATUS", "LATENCY", "DETAIL")
			for _, r := range resp.Results {
				t.Row(r.ServiceID, r.Status, fmt.Sprintf("%.1fms", r.LatencyMS), orDash(r.Detail))
			}
			renderTable(cmd.OutOrStdout(), t)
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d services in %dms, %d failing\n", resp.Checked, resp.DurationMS, resp.Failing)
			return nil
		},
	}
	commands = append(commands, refreshCmd)

	return commands
}

// HeartbeatCommand shows a service's uptime sparkline
func HeartbeatCommand(api APIFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat <id>",
		Short: "Show a service's heartbeat sparkline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			window, _ := cmd.Flags().GetDuration("window")
			points, _ := cmd.Flags().GetInt("points")

			hb, err := c.GetHeartbeat(cmd.Context(), args[0], window, points)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), hb)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hb.ServiceID, sparkline(hb.Points))
			fmt.Fprintf(cmd.OutOrStdout(), "window %s, %d/%d samples, %.1f%% up\n",
				hb.Window, hb.Samples, hb.Capacity, hb.Uptime*100)
			return nil
		},
	}
	cmd.Flags().Duration("window", time.Duration(0), "History window such as 1h (default: full history)")
	cmd.Flags().Int("points", 0, "Number of sparkline points (default: server setting)")
	return cmd
}
