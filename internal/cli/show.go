package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zsprackett/tokengauge/internal/usage"
)

func newShowCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached usage without fetching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			rt, err := flags.open(cfg, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			entry, err := rt.store.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if entry == nil {
				fmt.Fprintln(out, "No usage data yet. Run `tokengauge refresh`.")
				return nil
			}
			if asJSON {
				return printJSON(out, entry)
			}
			order := cfg.Order()
			if len(order) == 0 {
				order = entry.Order
			}
			printTable(out, entry, order, cfg.Policy(), time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the raw cache entry as JSON")
	return cmd
}

func printJSON(w io.Writer, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

func printTable(w io.Writer, e *usage.Entry, order []usage.ProviderID, policy usage.StalePolicy, now time.Time) {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			return cellStyle
		}).
		Headers("PROVIDER", "DAILY", "WEEKLY", "STATUS")

	daily := usage.Render(e, order, usage.RenderOptions{Window: usage.Daily, Policy: policy, Now: now})
	weekly := usage.Render(e, order, usage.RenderOptions{Window: usage.Weekly, Policy: policy, Now: now})
	for i, row := range daily {
		t.Row(row.Label, formatCell(row), formatCell(weekly[i]), formatStatus(row))
	}

	fmt.Fprintln(w, t)
	fmt.Fprintf(w, "Updated %s\n", humanize.RelTime(e.FetchedAt, now, "ago", "from now"))
}

func formatCell(r usage.Row) string {
	if !r.HasQuota {
		return "—"
	}
	var s string
	if r.HasPercent {
		s = fmt.Sprintf("%s %3.0f%%", progressBar(r.Percent), r.Percent)
	} else {
		s = humanize.CommafWithDigits(r.Quota.Used, 2) + " used"
	}
	if r.Countdown != "" && r.Countdown != "—" {
		s += " · " + r.Countdown
	}
	return s
}

func formatStatus(r usage.Row) string {
	switch {
	case !r.Present:
		return "no data"
	case r.Snapshot.FetchStatus.Degraded():
		return string(r.Snapshot.FetchStatus) + " (stale)"
	default:
		return string(r.Severity)
	}
}

func progressBar(percent float64) string {
	width := 10
	if percent < 0 || percent != percent {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int((percent / 100) * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
