package commands

import (
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"
	"time"

	"workshop/internal/incident"

	"github.com/spf13/cobra"
)

// IncidentCommands creates incident log commands
func IncidentCommands(api APIFactory) []*cobra.Command {
	commands := []*cobra.Command{}

	// workshop incidents list
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List incidents, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			var filter incident.Filter
			filter.Status, _ = cmd.Flags().GetString("status")
			filter.ServiceID, _ = cmd.Flags().GetString("service")
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			list, err := c.ListIncidents(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No incidents")
				return nil
			}

			t := newTable("ID", "SERVICE", "TIER", "OPENED", "RESOLVED", "NOTES")
			for _, inc := range list {
				resolved := styleDown.Render("open")
				if inc.ResolvedAt != nil {
					resolved = inc.ResolvedAt.Local().Format(time.DateTime)
				}
				t.Row(inc.ID, inc.ServiceID, strconv.Itoa(inc.Tier), inc.OpenedAt.Local().Format(time.DateTime), resolved, strconv.Itoa(len(inc.Annotations)))
			}
			renderTable(cmd.OutOrStdout(), t)
			return nil
		},
	}
	listCmd.Flags().String("status", "", "open, closed or all")
	listCmd.Flags().String("service", "", "Only incidents for this service")
	listCmd.Flags().Int("limit", 0, "Maximum number of incidents (default: server setting)")
	commands = append(commands, listCmd)

	// workshop incidents show <id>
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an incident and its annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			inc, err := c.GetIncident(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), inc)
			}
			printIncident(cmd.OutOrStdout(), inc)
			return nil
		},
	}
	commands = append(commands, showCmd)

	// workshop incidents annotate <id> <text...>
	annotateCmd := &cobra.Command{
		Use:   "annotate <id> <text...>",
		Short: "Add a note to an incident",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			author, _ := cmd.Flags().GetString("author")
			if author == "" {
				author = currentUser()
			}

			inc, err := c.AnnotateIncident(cmd.Context(), args[0], author, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), inc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Annotated %s (%d notes)\n", inc.ID, len(inc.Annotations))
			return nil
		},
	}
	annotateCmd.Flags().String("author", "", "Annotation author (default: current user)")
	commands = append(commands, annotateCmd)

	// workshop incidents resolve <id>
	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Close an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			inc, err := c.ResolveIncident(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), inc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", inc.ID)
			return nil
		},
	}
	commands = append(commands, resolveCmd)

	return commands
}

func printIncident(w io.Writer, inc *incident.Incident) {
	state := styleDown.Render("open")
	if inc.ResolvedAt != nil {
		state = styleHealthy.Render("resolved " + inc.ResolvedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "%s  %s  tier %d  %s\n", inc.ID, inc.ServiceID, inc.Tier, state)
	fmt.Fprintf(w, "opened %s\n", inc.OpenedAt.Local().Format(time.DateTime))
	for _, a := range inc.Annotations {
		fmt.Fprintf(w, "  %s  %-12s %s\n", a.CreatedAt.Local().Format(time.TimeOnly), a.Author, a.Text)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
