// Package metrics exposes the monitor's Prometheus metrics and the optional
// debug listeners that serve them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"netmon/internal/storage"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netmon_build_info",
		Help: "Build information of the network monitor",
	}, []string{"version", "commit", "date"})

	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_checks_total",
		Help: "Total number of measurement checks by status",
	}, []string{"status"})

	DownloadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netmon_download_mbps",
		Help: "Download speed of the most recent successful check",
	})

	UploadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netmon_upload_mbps",
		Help: "Upload speed of the most recent successful check",
	})

	LatencyMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netmon_latency_ms",
		Help: "Latency of the most recent successful check",
	})

	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netmon_probe_duration_seconds",
		Help:    "Wall-clock duration of measurement runs",
		Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180},
	})

	IPChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netmon_ip_changes_total",
		Help: "Total number of public IP address changes observed",
	})

	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_reports_total",
		Help: "Total number of window reports by kind and outcome",
	}, []string{"kind", "status"})

	PersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netmon_persist_errors_total",
		Help: "Total number of dropped writes to storage",
	})
)

// ObserveSample records one finished check.
func ObserveSample(s storage.Sample, dur time.Duration) {
	ChecksTotal.WithLabelValues(s.Status).Inc()
	if dur > 0 {
		ProbeDuration.Observe(dur.Seconds())
	}
	if !s.OK() {
		return
	}
	DownloadMbps.Set(s.DownloadMbps)
	UploadMbps.Set(s.UploadMbps)
	LatencyMs.Set(s.LatencyMs)
}

// ObserveReport records one report attempt. skipped windows (no data) are
// counted under their own status.
func ObserveReport(kind string, status string) {
	ReportsTotal.WithLabelValues(kind, status).Inc()
}

// Report statuses.
const (
	ReportSent    = "sent"
	ReportFailed  = "failed"
	ReportSkipped = "skipped"
)

// SetBuildInfo publishes the binary's version triple.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
