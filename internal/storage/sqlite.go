//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "netmon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as unix milliseconds (UTC) so range comparisons
// stay plain integer comparisons.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertSample(ctx context.Context, smp Sample) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples(timestamp, download, upload, latency, status) VALUES(?,?,?,?,?)`,
		smp.Timestamp.UnixMilli(), smp.DownloadMbps, smp.UploadMbps, smp.LatencyMs, smp.Status,
	)
	return err
}

func (s *sqliteStore) InsertIPObservation(ctx context.Context, o IPObservation) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ip_observations(timestamp, address) VALUES(?,?)`,
		o.Timestamp.UnixMilli(), o.Address,
	)
	return err
}

func (s *sqliteStore) QuerySamples(ctx context.Context, start, end time.Time) ([]Sample, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, download, upload, latency, status FROM samples
		 WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp`,
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			smp Sample
			ms  int64
		)
		if err := rows.Scan(&ms, &smp.DownloadMbps, &smp.UploadMbps, &smp.LatencyMs, &smp.Status); err != nil {
			return nil, err
		}
		smp.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, smp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) QueryIPObservations(ctx context.Context, start, end time.Time) ([]IPObservation, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, address FROM ip_observations
		 WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp`,
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IPObservation
	for rows.Next() {
		var (
			o  IPObservation
			ms int64
		)
		if err := rows.Scan(&ms, &o.Address); err != nil {
			return nil, err
		}
		o.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	cutoff := olderThan.UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM ip_observations WHERE timestamp < ?`, cutoff)
	if err != nil {
		return removed, err
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}
