package usage

import (
	"fmt"
	"math"
	"time"
)

// Severity tier thresholds, in percent used.
const (
	WarningPercent  = 60.0
	CriticalPercent = 90.0
)

type Severity string

const (
	SeverityNA       Severity = "na"
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityNormal:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Worse returns the more severe of a and b. SeverityNA ranks lowest.
func Worse(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Percent returns used/limit as a percentage clamped to [0,100]. ok is false
// when the limit is unbounded or zero and no percentage can be computed.
func Percent(q Quota) (float64, bool) {
	if q.Limit == nil || *q.Limit <= 0 || math.IsInf(*q.Limit, 0) || math.IsNaN(*q.Limit) {
		return 0, false
	}
	p := q.Used / *q.Limit * 100
	if math.IsNaN(p) {
		return 0, false
	}
	return math.Max(0, math.Min(100, p)), true
}

func Classify(pct float64, ok bool) Severity {
	switch {
	case !ok:
		return SeverityNA
	case pct >= CriticalPercent:
		return SeverityCritical
	case pct >= WarningPercent:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// StalePolicy decides how a provider whose latest fetch failed is displayed.
type StalePolicy string

const (
	// StaleKeep displays carried-forward figures, flagged as degraded.
	StaleKeep StalePolicy = "keep"
	// StaleUnknown hides carried-forward figures and shows no data.
	StaleUnknown StalePolicy = "unknown"
)

func ParseStalePolicy(s string) (StalePolicy, error) {
	switch StalePolicy(s) {
	case StaleKeep, "":
		return StaleKeep, nil
	case StaleUnknown:
		return StaleUnknown, nil
	default:
		return "", fmt.Errorf("unknown stale policy %q (want keep or unknown)", s)
	}
}

// Row is the derived, never persisted, presentation of one provider.
type Row struct {
	Provider   ProviderID
	Label      string
	Snapshot   Snapshot
	Present    bool
	Quota      Quota
	HasQuota   bool
	Percent    float64
	HasPercent bool
	Severity   Severity
	Degraded   bool
	Countdown  string
}

type RenderOptions struct {
	Window Window
	Policy StalePolicy
	Now    time.Time
}

// Render derives one Row per provider in order. Providers missing from the
// entry (or a nil entry) yield degraded rows without data.
func Render(e *Entry, order []ProviderID, opts RenderOptions) []Row {
	rows := make([]Row, 0, len(order))
	for _, id := range order {
		snap, present := e.Snapshot(id)
		row := Row{
			Provider: id,
			Label:    Label(id),
			Snapshot: snap,
			Present:  present,
			Degraded: !present || snap.FetchStatus.Degraded(),
			Severity: SeverityNA,
		}
		hide := snap.FetchStatus.Degraded() && opts.Policy == StaleUnknown
		if q, ok := snap.Quota(opts.Window); ok && !hide {
			row.Quota = q
			row.HasQuota = true
			row.Percent, row.HasPercent = Percent(q)
			row.Severity = Classify(row.Percent, row.HasPercent)
			row.Countdown = UntilReset(q, opts.Now)
		}
		rows = append(rows, row)
	}
	return rows
}

// UntilReset renders the time left until q resets, e.g. "in 3h05m".
func UntilReset(q Quota, now time.Time) string {
	if q.ResetAt.IsZero() {
		if q.ResetDescription != "" {
			return q.ResetDescription
		}
		return "—"
	}
	d := q.ResetAt.Sub(now)
	switch {
	case d <= 0:
		return "now"
	case d < time.Minute:
		return "in <1m"
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("in %dd", days)
	}
	return fmt.Sprintf("in %dd%dh", days, hours)
}

func (w Window) Title() string {
	switch w {
	case Daily:
		return "Daily"
	case Weekly:
		return "Weekly"
	default:
		return string(w)
	}
}
