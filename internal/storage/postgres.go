package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "netmon/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func (c Config) connString(dbname string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, dbname, c.SSLMode)
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if err := ensureDatabase(ctx, cfg, log); err != nil {
		return nil, fmt.Errorf("ensure database %q: %w", cfg.Name, err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.connString(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	// One writer loop plus occasional report/prune queries; a small pool is
	// plenty.
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	var pool *pgxpool.Pool
	connect := func() error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(cctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(cctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 10 * time.Second
	exp.MaxElapsedTime = time.Minute
	if err := backoff.Retry(connect, backoff.WithContext(exp, ctx)); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("postgres store ready",
		logx.String("host", cfg.Host),
		logx.String("database", cfg.Name),
	)
	return st, nil
}

// ensureDatabase connects to the maintenance database and creates the
// target database when it does not exist yet.
func ensureDatabase(ctx context.Context, cfg Config, log logx.Logger) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(cctx, cfg.connString("postgres"))
	if err != nil {
		return fmt.Errorf("connect maintenance database: %w", err)
	}
	defer conn.Close(cctx)

	var one int
	err = conn.QueryRow(cctx, `SELECT 1 FROM pg_database WHERE datname = $1`, cfg.Name).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	log.Info("creating database", logx.String("name", cfg.Name))
	_, err = conn.Exec(cctx, "CREATE DATABASE "+pgx.Identifier{cfg.Name}.Sanitize())
	return err
}

func (s *postgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS samples (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			download DOUBLE PRECISION NOT NULL DEFAULT 0,
			upload DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ok'
		)
	`)
	if err != nil {
		return fmt.Errorf("create samples table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON samples (timestamp)
	`)
	if err != nil {
		return fmt.Errorf("create samples index: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ip_observations (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			address TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create ip_observations table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_ip_observations_timestamp ON ip_observations (timestamp)
	`)
	if err != nil {
		return fmt.Errorf("create ip_observations index: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) InsertSample(ctx context.Context, smp Sample) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO samples(timestamp, download, upload, latency, status) VALUES($1,$2,$3,$4,$5)`,
		smp.Timestamp, smp.DownloadMbps, smp.UploadMbps, smp.LatencyMs, smp.Status,
	)
	return err
}

func (s *postgresStore) InsertIPObservation(ctx context.Context, o IPObservation) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ip_observations(timestamp, address) VALUES($1,$2)`,
		o.Timestamp, o.Address,
	)
	return err
}

func (s *postgresStore) QuerySamples(ctx context.Context, start, end time.Time) ([]Sample, error) {
	if s == nil || s.pool == nil {
		return nil, ErrClosed
	}
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, download, upload, latency, status FROM samples
		 WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		if err := rows.Scan(&smp.Timestamp, &smp.DownloadMbps, &smp.UploadMbps, &smp.LatencyMs, &smp.Status); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

func (s *postgresStore) QueryIPObservations(ctx context.Context, start, end time.Time) ([]IPObservation, error) {
	if s == nil || s.pool == nil {
		return nil, ErrClosed
	}
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, address FROM ip_observations
		 WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IPObservation
	for rows.Next() {
		var o IPObservation
		if err := rows.Scan(&o.Timestamp, &o.Address); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *postgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrClosed
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM samples WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	removed := ct.RowsAffected()
	ct, err = s.pool.Exec(ctx, `DELETE FROM ip_observations WHERE timestamp < $1`, olderThan)
	if err != nil {
		return removed, err
	}
	return removed + ct.RowsAffected(), nil
}
