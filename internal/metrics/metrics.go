// Package metrics exports the latest usage figures as a Prometheus textfile
// for node_exporter's textfile collector.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsprackett/tokengauge/internal/usage"
)

var fetchStatuses = []usage.FetchStatus{
	usage.StatusOK,
	usage.StatusAuthError,
	usage.StatusNetworkError,
	usage.StatusParseError,
	usage.StatusNotConfigured,
}

// Recorder holds one registry per process. Every refresh replaces all
// values, so the file always mirrors the latest cache entry.
type Recorder struct {
	path   string
	reg    *prometheus.Registry
	logger *slog.Logger

	used            *prometheus.GaugeVec
	limit           *prometheus.GaugeVec
	percent         *prometheus.GaugeVec
	resetSeconds    *prometheus.GaugeVec
	fetchStatus     *prometheus.GaugeVec
	refreshDuration prometheus.Gauge
	lastRefresh     prometheus.Gauge
	writeOK         prometheus.Gauge
}

func New(path string, logger *slog.Logger) *Recorder {
	r := &Recorder{
		path:   path,
		reg:    prometheus.NewRegistry(),
		logger: logger,
		used: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "quota_used",
			Help:      "Quota consumed in the current window",
		}, []string{"provider", "window"}),
		limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "quota_limit",
			Help:      "Quota limit of the current window; absent when unbounded",
		}, []string{"provider", "window"}),
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "quota_used_percent",
			Help:      "Quota used as a percentage clamped to 0-100",
		}, []string{"provider", "window"}),
		resetSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "quota_reset_timestamp_seconds",
			Help:      "Unix time the window resets",
		}, []string{"provider", "window"}),
		fetchStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "provider_fetch_status",
			Help:      "1 for the provider's latest fetch status, 0 otherwise",
		}, []string{"provider", "status"}),
		refreshDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of the latest refresh",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the latest refresh",
		}),
		writeOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokengauge",
			Name:      "cache_write_ok",
			Help:      "1 if the latest refresh was persisted",
		}),
	}
	r.reg.MustRegister(r.used, r.limit, r.percent, r.resetSeconds, r.fetchStatus,
		r.refreshDuration, r.lastRefresh, r.writeOK)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe replaces every gauge with the figures in e.
func (r *Recorder) Observe(e *usage.Entry, took time.Duration, writeErr error) {
	r.used.Reset()
	r.limit.Reset()
	r.percent.Reset()
	r.resetSeconds.Reset()
	r.fetchStatus.Reset()

	r.refreshDuration.Set(took.Seconds())
	if writeErr == nil {
		r.writeOK.Set(1)
	} else {
		r.writeOK.Set(0)
	}
	if e == nil {
		return
	}
	r.lastRefresh.Set(float64(e.FetchedAt.Unix()))

	for id, snap := range e.Providers {
		p := string(id)
		for _, st := range fetchStatuses {
			v := 0.0
			if snap.FetchStatus == st {
				v = 1
			}
			r.fetchStatus.WithLabelValues(p, string(st)).Set(v)
		}
		for w, q := range snap.Windows {
			r.used.WithLabelValues(p, string(w)).Set(q.Used)
			if q.Limit != nil {
				r.limit.WithLabelValues(p, string(w)).Set(*q.Limit)
			}
			if pct, ok := usage.Percent(q); ok {
				r.percent.WithLabelValues(p, string(w)).Set(pct)
			}
			if !q.ResetAt.IsZero() {
				r.resetSeconds.WithLabelValues(p, string(w)).Set(float64(q.ResetAt.Unix()))
			}
		}
	}
}

// Flush writes the registry to the textfile atomically.
func (r *Recorder) Flush() error {
	return prometheus.WriteToTextfile(r.path, r.reg)
}

// OnRefresh matches cache.Options.OnRefresh.
func (r *Recorder) OnRefresh(e *usage.Entry, took time.Duration, writeErr error) {
	r.Observe(e, took, writeErr)
	if err := r.Flush(); err != nil {
		r.logger.Warn("metrics textfile write failed", "path", r.path, "err", err)
	}
}
