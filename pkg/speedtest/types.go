package speedtest

import "time"

// Result is a single probe measurement taken against one speedtest.net server.
type Result struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
	LatencyMs    float64

	ISP           string
	ServerName    string
	ServerCountry string
	ServerHost    string

	// Run metadata, useful for logging.
	Duration   time.Duration
	Candidates int
}
