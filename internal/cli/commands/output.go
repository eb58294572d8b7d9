package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"workshop/internal/healer"
	"workshop/internal/heartbeat"
	"workshop/internal/service"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	styleHealthy = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDown    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// jsonOutput reports whether --json was passed anywhere up the command tree
func jsonOutput(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderHeader(false).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
}

func renderTable(w io.Writer, t *table.Table) {
	fmt.Fprintln(w, t.String())
}

func statusText(status service.Status, ghost bool) string {
	if ghost {
		return styleMuted.Render("ghost")
	}
	s := string(status)
	switch status {
	case service.StatusHealthy:
		return styleHealthy.Render(s)
	case service.StatusDegraded, service.StatusStarting:
		return styleWarn.Render(s)
	case service.StatusDown:
		return styleDown.Render(s)
	default:
		return styleMuted.Render(s)
	}
}

func tierText(t healer.Tier) string {
	switch t {
	case healer.Normal:
		return styleMuted.Render(t.String())
	case healer.Exhausted:
		return styleDown.Render(t.String())
	default:
		return styleWarn.Render(t.String())
	}
}

// sparkline renders one block per point; empty buckets are spaces
func sparkline(points []heartbeat.Point) string {
	var b strings.Builder
	for _, p := range points {
		if p.Samples == 0 {
			b.WriteRune(' ')
			continue
		}
		idx := int(p.Uptime * float64(len(sparkBlocks)-1))
		block := string(sparkBlocks[idx])
		switch p.Status {
		case heartbeat.PointHealthy:
			b.WriteString(styleHealthy.Render(block))
		case heartbeat.PointDegraded:
			b.WriteString(styleWarn.Render(block))
		default:
			b.WriteString(styleDown.Render(block))
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
