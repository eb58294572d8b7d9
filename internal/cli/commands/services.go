package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"workshop/internal/operations"

	"github.com/spf13/cobra"
)

// ServicesCommands creates service management commands
func ServicesCommands(api APIFactory) []*cobra.Command {
	commands := []*cobra.Command{}

	// workshop services list
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List every registered service",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			group, _ := cmd.Flags().GetString("group")
			return listServices(cmd.Context(), cmd, c, group)
		},
	}
	listCmd.Flags().StringP("group", "g", "", "Only show members of this group")
	commands = append(commands, listCmd)

	// workshop services status <id>
	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the live status of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			info, err := c.GetService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), info)
			}
			printServiceDetail(cmd.OutOrStdout(), info)
			return nil
		},
	}
	commands = append(commands, statusCmd)

	for _, op := range []struct {
		use, short string
		run        func(API, context.Context, string, bool) (*operations.ServiceInfo, error)
	}{
		{"start", "Start a service after its dependencies", API.StartService},
		{"stop", "Stop a service", API.StopService},
		{"restart", "Restart a service", API.RestartService},
	} {
		opCmd := &cobra.Command{
			Use:   op.use + " <id>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := api()
				if err != nil {
					return err
				}
				ghosts, _ := cmd.Flags().GetBool("ghosts")
				info, err := op.run(c, cmd.Context(), args[0], ghosts)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), info)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", info.ID, statusText(info.State.Status, false))
				return nil
			},
		}
		opCmd.Flags().Bool("ghosts", false, "Allow operating on a ghost service")
		commands = append(commands, opCmd)
	}

	return commands
}

func listServices(ctx context.Context, cmd *cobra.Command, c API, group string) error {
	services, err := c.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	if group != "" {
		var filtered []*operations.ServiceInfo
		for _, svc := range services {
			if strings.EqualFold(svc.Group, group) {
				filtered = append(filtered, svc)
			}
		}
		services = filtered
	}

	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), services)
	}

	if len(services) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No services registered")
		return nil
	}

	t := newTable("ID", "GROUP", "STATUS", "TIER", "PORT", "UPTIME")
	for _, svc := range services {
		port := "-"
		if svc.Port > 0 {
			port = strconv.Itoa(svc.Port)
		}
		t.Row(svc.ID, svc.Group, statusText(svc.State.Status, svc.Ghost), tierText(svc.Tier), port, orDash(svc.Uptime))
	}
	renderTable(cmd.OutOrStdout(), t)
	return nil
}

func printServiceDetail(w io.Writer, info *operations.ServiceInfo) {
	fmt.Fprintf(w, "%s (%s)\n", info.Name, info.ID)
	fmt.Fprintf(w, "  Group:      %s\n", info.Group)
	fmt.Fprintf(w, "  Status:     %s\n", statusText(info.State.Status, info.Ghost))
	if info.Ghost && info.GhostETA != "" {
		fmt.Fprintf(w, "  ETA:        %s\n", info.GhostETA)
	}
	fmt.Fprintf(w, "  Tier:       %s\n", tierText(info.Tier))
	if info.State.PID > 0 {
		fmt.Fprintf(w, "  PID:        %d\n", info.State.PID)
	}
	if info.Uptime != "" {
		fmt.Fprintf(w, "  Uptime:     %s\n", info.Uptime)
	}
	fmt.Fprintf(w, "  Restarts:   %d\n", info.State.RestartCount)
	if info.HealthCheckURL != "" {
		fmt.Fprintf(w, "  Health URL: %s\n", info.HealthCheckURL)
	}
	if len(info.Dependencies) > 0 {
		fmt.Fprintf(w, "  Depends on: %s\n", strings.Join(info.Dependencies, ", "))
	}
	if len(info.Dependents) > 0 {
		fmt.Fprintf(w, "  Needed by:  %s\n", strings.Join(info.Dependents, ", "))
	}
	if info.State.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", info.State.LastError)
	}
	if info.State.NeedsIntervention {
		fmt.Fprintf(w, "  %s\n", styleDown.Render("Needs manual intervention"))
	}
}

// GroupCommands creates group start and stop commands
func GroupCommands(api APIFactory) []*cobra.Command {
	commands := []*cobra.Command{}

	for _, op := range []struct {
		use, short string
		start      bool
	}{
		{"start", "Start every member of a group in dependency order", true},
		{"stop", "Stop every member of a group, dependents first", false},
	} {
		opCmd := &cobra.Command{
			Use:   op.use + " <group>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := api()
				if err != nil {
					return err
				}
				ghosts, _ := cmd.Flags().GetBool("ghosts")
				run := c.StopGroup
				if op.start {
					run = c.StartGroup
				}
				resp, err := run(cmd.Context(), args[0], ghosts)
				if err != nil {
					return err
				}

				if jsonOutput(cmd) {
					if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
						return err
					}
				} else {
					t := newTable("SERVICE", "RESULT", "ERROR")
					for _, r := range resp.Results {
						t.Row(r.ServiceID, r.Result, orDash(r.Error))
					}
					renderTable(cmd.OutOrStdout(), t)
				}

				if resp.Error != "" {
					return fmt.Errorf("group %s: %s", resp.Group, resp.Error)
				}
				return nil
			},
		}
		opCmd.Flags().Bool("ghosts", false, "Include ghost services")
		commands = append(commands, opCmd)
	}

	return commands
}
