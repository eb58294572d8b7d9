package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"workshop/internal/constellation"
	"workshop/internal/events"

	"github.com/spf13/cobra"
)

// ConstellationCommand prints the dependency graph with live status
func ConstellationCommand(api APIFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "constellation",
		Short: "Show the service dependency graph with live status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			g, err := c.GetConstellation(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), g)
			}
			printConstellation(cmd, g)
			return nil
		},
	}
}

func printConstellation(cmd *cobra.Command, g *constellation.Graph) {
	deps := make(map[string][]string)
	for _, e := range g.Edges {
		deps[e.Target] = append(deps[e.Target], e.Source)
	}

	groups := make(map[string][]constellation.Node)
	var names []string
	for _, n := range g.Nodes {
		if _, ok := groups[n.Group]; !ok {
			names = append(names, n.Group)
		}
		groups[n.Group] = append(groups[n.Group], n)
	}
	sort.Strings(names)

	w := cmd.OutOrStdout()
	for _, group := range names {
		fmt.Fprintln(w, styleHeader.UnsetPadding().Render(group))
		for _, n := range groups[group] {
			line := fmt.Sprintf("  %-16s %s", n.ID, statusText(n.Status, n.Ghost))
			if d := deps[n.ID]; len(d) > 0 {
				line += styleMuted.Render("  <- " + strings.Join(d, ", "))
			}
			if n.NeedsIntervention {
				line += "  " + styleDown.Render("needs intervention")
			}
			fmt.Fprintln(w, line)
		}
	}

	var counts []string
	for _, status := range []string{"healthy", "degraded", "down", "starting", "stopped", "unknown"} {
		for s, n := range g.Stats.ByStatus {
			if string(s) == status && n > 0 {
				counts = append(counts, fmt.Sprintf("%d %s", n, status))
			}
		}
	}
	fmt.Fprintf(w, "\n%d services, %d ghosts", g.Stats.Total, g.Stats.Ghosts)
	if len(counts) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(counts, ", "))
	}
	fmt.Fprintln(w)
}

// EventsCommand follows the live event stream
func EventsCommand(api APIFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow status, tier and incident events as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api()
			if err != nil {
				return err
			}
			replay, _ := cmd.Flags().GetInt("replay")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			asJSON := jsonOutput(cmd)
			err = c.StreamEvents(ctx, replay, func(ev events.Event) bool {
				if asJSON {
					return printJSON(cmd.OutOrStdout(), ev) == nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-16s %s\n",
					ev.At.Local().Format(time.TimeOnly), ev.Type, orDash(ev.ServiceID), summarize(ev))
				return true
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int("replay", 0, "Replay this many recent events first")
	return cmd
}

// summarize picks the interesting fields out of an event payload
func summarize(ev events.Event) string {
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	switch ev.Type {
	case events.TypeStatus:
		return fmt.Sprintf("%v -> %v", data["from"], data["to"])
	case events.TypeHealth:
		return fmt.Sprintf("%v", data["status"])
	case events.TypeTier:
		return fmt.Sprintf("%v -> %v (%v)", data["from"], data["to"], data["action"])
	case events.TypeIncident:
		if inc, ok := data["incident"].(map[string]interface{}); ok {
			return fmt.Sprintf("%v %v", data["kind"], inc["id"])
		}
		return fmt.Sprintf("%v", data["kind"])
	case events.TypeEscalation:
		return fmt.Sprintf("%v", data["message"])
	}
	return ""
}
