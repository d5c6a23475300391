package metrics

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsprackett/tokengauge/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEntry() *usage.Entry {
	e := usage.NewEntry(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	e.Providers["codex"] = usage.Snapshot{
		FetchStatus: usage.StatusOK,
		Windows: map[usage.Window]usage.Quota{
			usage.Daily: {Window: usage.Daily, Used: 8000, Limit: usage.Ptr(10000.0), ResetAt: time.Unix(1772470800, 0)},
		},
	}
	e.Providers["claude"] = usage.Snapshot{
		FetchStatus: usage.StatusAuthError,
		Windows: map[usage.Window]usage.Quota{
			usage.Weekly: {Window: usage.Weekly, Used: 12},
		},
	}
	return e
}

func TestObserve(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "tokengauge.prom"), discardLogger())
	r.Observe(sampleEntry(), 1500*time.Millisecond, nil)

	if got := testutil.ToFloat64(r.percent.WithLabelValues("codex", "daily")); got != 80 {
		t.Errorf("percent: got %v want 80", got)
	}
	if got := testutil.ToFloat64(r.used.WithLabelValues("claude", "weekly")); got != 12 {
		t.Errorf("used: got %v want 12", got)
	}
	if got := testutil.ToFloat64(r.fetchStatus.WithLabelValues("claude", "auth_error")); got != 1 {
		t.Errorf("claude auth_error: got %v want 1", got)
	}
	if got := testutil.ToFloat64(r.fetchStatus.WithLabelValues("claude", "ok")); got != 0 {
		t.Errorf("claude ok: got %v want 0", got)
	}
	if got := testutil.ToFloat64(r.refreshDuration); got != 1.5 {
		t.Errorf("duration: got %v want 1.5", got)
	}
	if got := testutil.ToFloat64(r.writeOK); got != 1 {
		t.Errorf("write ok: got %v want 1", got)
	}
	// Unbounded limits export no limit or percent series.
	if n := testutil.CollectAndCount(r.limit); n != 1 {
		t.Errorf("limit series: got %d want 1", n)
	}
	if n := testutil.CollectAndCount(r.percent); n != 1 {
		t.Errorf("percent series: got %d want 1", n)
	}
}

func TestObserveReplacesPreviousValues(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "tokengauge.prom"), discardLogger())
	r.Observe(sampleEntry(), time.Second, nil)

	e := usage.NewEntry(time.Now())
	e.Providers["codex"] = usage.Snapshot{FetchStatus: usage.StatusOK}
	r.Observe(e, time.Second, errors.New("disk full"))

	if n := testutil.CollectAndCount(r.used); n != 0 {
		t.Errorf("stale used series survived: %d", n)
	}
	if got := testutil.ToFloat64(r.writeOK); got != 0 {
		t.Errorf("write ok: got %v want 0", got)
	}
}

func TestOnRefreshWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokengauge.prom")
	r := New(path, discardLogger())
	r.OnRefresh(sampleEntry(), time.Second, nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`tokengauge_quota_used_percent{provider="codex",window="daily"} 80`,
		`tokengauge_last_refresh_timestamp_seconds 1.7724528e+09`,
		`# TYPE tokengauge_provider_fetch_status gauge`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
