package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Sample statuses. Failed probes are persisted as sentinel rows so reports
// can show gaps instead of silently losing them.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Sample is one speed measurement. Immutable once created.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	LatencyMs    float64   `json:"latency_ms"`
	Status       string    `json:"status"`
}

func (s Sample) OK() bool { return s.Status == StatusOK }

// IPObservation records the public address seen at a point in time. One row
// is written on first run and then whenever the address changes.
type IPObservation struct {
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
}

// Config configures storage.
//
// Driver values:
//   - "postgres": PostgreSQL via pgx (default deployment target)
//   - "sqlite": SQLite database file (optional build tag)
//   - "file": dependency-free file backend (jsonl)
type Config struct {
	Driver string

	// postgres
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// sqlite/file
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
