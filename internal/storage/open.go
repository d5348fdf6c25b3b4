package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "netmon/pkg/logx"
)

// Store is the persistence gateway used by the monitor and the report
// builder. All range queries are half-open [start, end), ordered by
// timestamp ascending.
type Store interface {
	InsertSample(ctx context.Context, s Sample) error
	InsertIPObservation(ctx context.Context, o IPObservation) error
	QuerySamples(ctx context.Context, start, end time.Time) ([]Sample, error)
	QueryIPObservations(ctx context.Context, start, end time.Time) ([]IPObservation, error)

	// Prune deletes samples and observations older than the cutoff and
	// reports how many rows went away.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store. The context bounds the initial
// connection (postgres retries with backoff before giving up).
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
