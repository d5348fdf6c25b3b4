package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// csvHeader mirrors the sample columns. The status column keeps failed probes
// visible as gaps in the exported data.
var csvHeader = []string{"Timestamp", "Download Speed (Mbps)", "Upload Speed (Mbps)", "Latency (ms)", "Status"}

// CSV renders the window's raw samples in ascending timestamp order.
func (r *Report) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, s := range r.Samples {
		rec := []string{
			s.Timestamp.Format(rowLayout),
			fixed2(s.DownloadMbps),
			fixed2(s.UploadMbps),
			fixed2(s.LatencyMs),
			s.Status,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fixed2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
