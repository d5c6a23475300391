package dashboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"

	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/usage"
)

const barWidth = 20

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Title is the frame title, with a spinner while work is in flight.
func (m *Model) Title() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Loading:
		return fmt.Sprintf(" %s Loading ", spinnerFrames[m.spin%len(spinnerFrames)])
	case Refreshing:
		return fmt.Sprintf(" %s Refreshing ", spinnerFrames[m.spin%len(spinnerFrames)])
	default:
		return " TokenGauge Usage "
	}
}

// View renders the body as tview color-tagged text.
func (m *Model) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\n")

	if m.state == Loading {
		sb.WriteString("  [yellow]Loading usage…[-]\n")
		return sb.String()
	}

	order := m.cfg.Order
	if len(order) == 0 && m.entry != nil {
		order = m.entry.Order
	}
	if m.entry == nil {
		sb.WriteString("  [yellow]No usage data yet.[-]\n\n")
	}

	opts := usage.RenderOptions{Policy: m.cfg.Policy, Now: m.now}
	opts.Window = usage.Daily
	daily := usage.Render(m.entry, order, opts)
	opts.Window = usage.Weekly
	weekly := usage.Render(m.entry, order, opts)

	for i, row := range daily {
		m.writeProvider(&sb, row, weekly[i])
	}
	if len(order) == 0 {
		sb.WriteString("  [gray]No providers enabled.[-]\n\n")
	}

	if m.entry != nil {
		ts := m.entry.FetchedAt.In(m.cfg.Location)
		sb.WriteString(fmt.Sprintf("  [gray]Last updated: %s (%s)[-]\n",
			ts.Format("Jan 2 15:04:05"), humanize.RelTime(m.entry.FetchedAt, m.now, "ago", "from now")))
	}
	if m.lastErr != nil {
		sb.WriteString(fmt.Sprintf("  [red]%s[-]\n", tview.Escape(errorText(m.lastErr))))
	}
	if m.notice != "" {
		sb.WriteString(fmt.Sprintf("  [yellow]%s[-]\n", m.notice))
	}
	if m.state == Refreshing {
		sb.WriteString("  [yellow]Refreshing...[-]\n")
	}
	sb.WriteString("\n  [green]R[-] refresh  [green]Q/Esc[-] quit")
	return sb.String()
}

func (m *Model) writeProvider(sb *strings.Builder, daily, weekly usage.Row) {
	snap := daily.Snapshot
	header := fmt.Sprintf("  [::b]%s[::-]", daily.Label)
	var meta []string
	if snap.Source != "" {
		meta = append(meta, snap.Source)
	}
	if snap.Version != "" {
		meta = append(meta, "v"+snap.Version)
	}
	if len(meta) > 0 {
		header += "  [gray]" + strings.Join(meta, " · ") + "[-]"
	}
	sb.WriteString(header + "\n")

	windows := []struct {
		window usage.Window
		row    usage.Row
	}{{usage.Daily, daily}, {usage.Weekly, weekly}}
	for _, w := range windows {
		row := w.row
		marker := " "
		if w.window == m.cfg.Window {
			marker = "›"
		}
		title := w.window.Title()
		if !row.HasQuota {
			sb.WriteString(fmt.Sprintf("  %s %-7s [gray]—[-]\n", marker, title))
			continue
		}
		if !row.HasPercent {
			sb.WriteString(fmt.Sprintf("  %s %-7s %s  %s used  [gray]no limit[-]\n",
				marker, title, progressBar(0, usage.SeverityNA, barWidth), humanize.CommafWithDigits(row.Quota.Used, 2)))
			continue
		}
		line := fmt.Sprintf("  %s %-7s %s  %s", marker, title,
			progressBar(row.Percent, row.Severity, barWidth), formatUtil(row.Percent, row.Severity))
		if row.Countdown != "" && row.Countdown != "—" {
			line += "  Resets " + m.resetText(row)
		}
		sb.WriteString(line + "\n")
	}

	if snap.Credits != nil {
		sb.WriteString(fmt.Sprintf("    Credits %s\n", humanize.CommafWithDigits(*snap.Credits, 2)))
	}
	switch {
	case !daily.Present:
		sb.WriteString("    [red]⚠ no data[-]\n")
	case snap.FetchStatus.Degraded():
		line := "    [red]⚠ " + string(snap.FetchStatus)
		if snap.Error != "" {
			line += ": " + tview.Escape(snap.Error)
		}
		line += "[-]"
		if !snap.StaleSince.IsZero() && snap.HasData() {
			line += fmt.Sprintf(" [gray](data from %s)[-]", humanize.RelTime(snap.StaleSince, m.now, "ago", "from now"))
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func (m *Model) resetText(row usage.Row) string {
	if row.Quota.ResetAt.IsZero() {
		return row.Countdown
	}
	return fmt.Sprintf("%s (%s)", row.Quota.ResetAt.In(m.cfg.Location).Format("Mon 15:04"), row.Countdown)
}

func severityColor(s usage.Severity) string {
	switch s {
	case usage.SeverityCritical:
		return "red"
	case usage.SeverityWarning:
		return "yellow"
	case usage.SeverityNormal:
		return "green"
	default:
		return "gray"
	}
}

// formatUtil formats a 0-100 percentage in its severity color.
func formatUtil(pct float64, sev usage.Severity) string {
	return fmt.Sprintf("[%s]%5.1f%%[-]", severityColor(sev), pct)
}

// progressBar renders a text progress bar for a percentage in [0,100].
func progressBar(pct float64, sev usage.Severity, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	empty := width - filled
	return fmt.Sprintf("[%s]%s[-][gray]%s[-]", severityColor(sev), strings.Repeat("█", filled), strings.Repeat("░", empty))
}

func errorText(err error) string {
	var werr *cache.WriteError
	switch {
	case errors.As(err, &werr):
		return "Warning: " + err.Error()
	case errors.Is(err, cache.ErrRefreshInProgress):
		return "Another process is refreshing; showing last known data"
	default:
		return "Error: " + err.Error()
	}
}

// Severity is the worst severity among providers in the preferred window.
func (m *Model) Severity() usage.Severity {
	m.mu.Lock()
	defer m.mu.Unlock()
	worst := usage.SeverityNA
	if m.entry == nil {
		return worst
	}
	order := m.cfg.Order
	if len(order) == 0 {
		order = m.entry.Order
	}
	for _, r := range usage.Render(m.entry, order, usage.RenderOptions{Window: m.cfg.Window, Policy: m.cfg.Policy, Now: m.now}) {
		worst = usage.Worse(worst, r.Severity)
	}
	return worst
}
