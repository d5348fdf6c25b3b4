// Package report aggregates stored samples over a window and renders the
// artifacts attached to report mail.
package report

import (
	"fmt"
	"math"
	"time"

	"netmon/internal/storage"
)

// Kind tags the report cadence. Ad-hoc reports come from the CLI and cover a
// caller-chosen trailing range instead of a scheduled window.
type Kind string

const (
	KindSixHour Kind = "six_hour"
	KindDaily   Kind = "daily"
	KindAdHoc   Kind = "ad_hoc"
)

// Window is the half-open range [Start, End) a report covers. Windows of the
// same kind are contiguous: one window's End is the next window's Start.
type Window struct {
	Start time.Time
	End   time.Time
	Kind  Kind
}

// Hours is the window length rounded to whole hours, used in artifact names.
func (w Window) Hours() int {
	h := int(math.Round(w.End.Sub(w.Start).Hours()))
	if h < 1 {
		h = 1
	}
	return h
}

// Thresholds mark a successful sample as a slow incident.
type Thresholds struct {
	DownloadMbps float64
	UploadMbps   float64
}

// Incident is one successful sample that breached a threshold.
type Incident struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
	SlowDownload bool
	SlowUpload   bool
}

// Aggregate holds the window statistics. Averages cover successful samples
// only; failed samples are counted separately and excluded from incidents.
type Aggregate struct {
	NoData bool

	TotalSamples  int
	FailedSamples int

	AvgDownloadMbps float64
	AvgUploadMbps   float64
	AvgLatencyMs    float64

	SlowDownloads int
	SlowUploads   int
	Incidents     []Incident

	// IPChanges are the address observations recorded in-window. The first
	// observation after a cold start lands here too.
	IPChanges []storage.IPObservation
}

// Report bundles a window's aggregate with the raw rows the artifacts render.
type Report struct {
	Window    Window
	Aggregate Aggregate
	Samples   []storage.Sample
}

// Build computes the window aggregate. Samples are expected in ascending
// timestamp order as returned by storage queries. Building the same window
// twice from the same rows yields identical output.
func Build(window Window, samples []storage.Sample, observations []storage.IPObservation, th Thresholds) *Report {
	agg := Aggregate{
		TotalSamples: len(samples),
		IPChanges:    observations,
	}
	if len(samples) == 0 {
		agg.NoData = true
		return &Report{Window: window, Aggregate: agg}
	}

	var dl, ul, lat float64
	succeeded := 0
	for _, s := range samples {
		if !s.OK() {
			agg.FailedSamples++
			continue
		}
		succeeded++
		dl += s.DownloadMbps
		ul += s.UploadMbps
		lat += s.LatencyMs

		slowDL := s.DownloadMbps < th.DownloadMbps
		slowUL := s.UploadMbps < th.UploadMbps
		if slowDL {
			agg.SlowDownloads++
		}
		if slowUL {
			agg.SlowUploads++
		}
		if slowDL || slowUL {
			agg.Incidents = append(agg.Incidents, Incident{
				Timestamp:    s.Timestamp,
				DownloadMbps: s.DownloadMbps,
				UploadMbps:   s.UploadMbps,
				SlowDownload: slowDL,
				SlowUpload:   slowUL,
			})
		}
	}
	if succeeded > 0 {
		agg.AvgDownloadMbps = dl / float64(succeeded)
		agg.AvgUploadMbps = ul / float64(succeeded)
		agg.AvgLatencyMs = lat / float64(succeeded)
	}

	return &Report{Window: window, Aggregate: agg, Samples: samples}
}

// periodLayout matches the report header format, e.g. "08/21/2026, 11:59:00 PM".
const periodLayout = "01/02/2006, 03:04:05 PM"

// rowLayout formats sample timestamps in tables and CSV rows.
const rowLayout = "2006-01-02 15:04:05"

// PeriodString renders the "start - end" line used in mail bodies and the PDF.
func (r *Report) PeriodString() string {
	return fmt.Sprintf("%s - %s", r.Window.Start.Format(periodLayout), r.Window.End.Format(periodLayout))
}

// SummaryLines renders the ordered "key: value" summary entries.
func (r *Report) SummaryLines() []string {
	a := r.Aggregate
	return []string{
		fmt.Sprintf("Average Download Speed: %.2f Mbps", a.AvgDownloadMbps),
		fmt.Sprintf("Average Upload Speed: %.2f Mbps", a.AvgUploadMbps),
		fmt.Sprintf("Average Latency: %.2f ms", a.AvgLatencyMs),
		fmt.Sprintf("IP Changes: %s", yesNo(len(a.IPChanges) > 0)),
		fmt.Sprintf("Slow Download Incidents: %d", a.SlowDownloads),
		fmt.Sprintf("Slow Upload Incidents: %d", a.SlowUploads),
		fmt.Sprintf("Failed Checks: %d", a.FailedSamples),
	}
}

// PDFName is the attachment filename for the PDF artifact.
func (r *Report) PDFName() string {
	return fmt.Sprintf("network_report_%dh.pdf", r.Window.Hours())
}

// CSVName is the attachment filename for the CSV artifact.
func (r *Report) CSVName() string {
	return fmt.Sprintf("network_data_%dh.csv", r.Window.Hours())
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
