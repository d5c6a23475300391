// Package status renders a cache entry as the one-shot status-bar payload.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/tokengauge/internal/usage"
)

// Class tokens consumed by the status bar for styling.
const (
	ClassNormal   = string(usage.SeverityNormal)
	ClassWarning  = string(usage.SeverityWarning)
	ClassCritical = string(usage.SeverityCritical)
	ClassNA       = string(usage.SeverityNA)
	ClassEmpty    = "empty"
	ClassError    = "error"
)

// Payload is the waybar custom-module JSON object.
type Payload struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
}

type Options struct {
	Window usage.Window
	// Order lists the providers to show. Empty means the entry's own order.
	Order    []usage.ProviderID
	Policy   usage.StalePolicy
	Glyphs   map[usage.ProviderID]string
	Now      time.Time
	Location *time.Location
}

// Format builds the payload for e. It never touches the cache.
func Format(e *usage.Entry, opts Options) Payload {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Window == "" {
		opts.Window = usage.Daily
	}

	order := opts.Order
	if len(order) == 0 && e != nil {
		order = e.Order
		if len(order) == 0 {
			for id := range e.Providers {
				order = append(order, id)
			}
			slices.Sort(order)
		}
	}
	if len(order) == 0 {
		return Payload{Text: "—", Tooltip: "No providers enabled", Class: ClassEmpty}
	}

	rows := usage.Render(e, order, usage.RenderOptions{Window: opts.Window, Policy: opts.Policy, Now: opts.Now})

	var (
		parts   []string
		lines   []string
		worst   = usage.SeverityNA
		percent = -1.0
	)
	for _, r := range rows {
		parts = append(parts, compact(r, opts.Glyphs))
		lines = append(lines, tooltipLines(r, opts)...)
		worst = usage.Worse(worst, r.Severity)
		if r.HasPercent {
			percent = math.Max(percent, r.Percent)
		}
	}

	if e == nil {
		lines = append([]string{"No usage data yet"}, lines...)
	} else {
		lines = append(lines, "Updated "+humanize.RelTime(e.FetchedAt, opts.Now, "ago", "from now"))
	}

	p := Payload{
		Text:    strings.Join(parts, "  "),
		Tooltip: strings.Join(lines, "\n"),
		Class:   string(worst),
	}
	if percent >= 0 {
		p.Percentage = int(math.Round(percent))
	}
	return p
}

// Degraded is the payload emitted when no entry could be produced at all.
func Degraded(err error) Payload {
	return Payload{
		Text:    "⟂",
		Tooltip: "tokengauge: " + err.Error(),
		Class:   ClassError,
	}
}

// Write emits p as a single JSON line.
func (p Payload) Write(w io.Writer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func compact(r usage.Row, glyphs map[usage.ProviderID]string) string {
	name := r.Label
	if g := glyphs[r.Provider]; g != "" {
		name = g
	}
	var s string
	switch {
	case r.HasPercent:
		s = fmt.Sprintf("%s %.0f%%", name, r.Percent)
	case r.HasQuota:
		s = name + " N/A"
	default:
		s = name + " —"
	}
	if r.Degraded {
		s += "!"
	}
	return s
}

func tooltipLines(r usage.Row, opts Options) []string {
	var head string
	switch {
	case !r.HasQuota:
		head = fmt.Sprintf("%s: no data", r.Label)
	default:
		pct := "N/A"
		if r.HasPercent {
			pct = fmt.Sprintf("%.0f%%", r.Percent)
		}
		head = fmt.Sprintf("%s: %s/%s (%s) %s", r.Label, amount(r.Quota.Used), limit(r.Quota), pct, r.Quota.Window)
		if reset := resetText(r.Quota, opts); reset != "" {
			head += " · resets " + reset
		}
	}
	lines := []string{head}

	snap := r.Snapshot
	switch {
	case !r.Present:
		lines = append(lines, "  ⚠ not fetched yet")
	case snap.FetchStatus.Degraded():
		warn := "  ⚠ " + string(snap.FetchStatus)
		if snap.Error != "" {
			warn += ": " + snap.Error
		}
		if r.HasQuota && !snap.StaleSince.IsZero() {
			warn += fmt.Sprintf(" (data from %s)", humanize.RelTime(snap.StaleSince, opts.Now, "ago", "from now"))
		}
		lines = append(lines, warn)
	}
	if snap.Credits != nil && r.HasQuota {
		lines = append(lines, "  credits "+humanize.CommafWithDigits(*snap.Credits, 2))
	}
	return lines
}

func resetText(q usage.Quota, opts Options) string {
	if q.ResetAt.IsZero() {
		return q.ResetDescription
	}
	return fmt.Sprintf("%s (%s)", q.ResetAt.In(opts.Location).Format("Mon 15:04"), usage.UntilReset(q, opts.Now))
}

func amount(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}

func limit(q usage.Quota) string {
	if q.Limit == nil {
		return "∞"
	}
	return amount(*q.Limit)
}
