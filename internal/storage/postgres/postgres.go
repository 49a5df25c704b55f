// Package postgres is the PostgreSQL result store, for deployments that
// outgrow a single SQLite file.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config configures the connection pool.
type Config struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
}

// Store implements the same operations as storage.DB on a pgx pool.
type Store struct {
	Pool         *pgxpool.Pool
	QueryTimeout time.Duration
}

// New connects to the database and pings it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(hctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Store{Pool: pool, QueryTimeout: cfg.QueryTimeout}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.Pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.QueryTimeout)
}

const (
	qMonitorInsert = `
INSERT INTO monitors (id, name, url, interval_minutes, active, user_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	qMonitorUpdate = `
UPDATE monitors
SET name = $2, url = $3, interval_minutes = $4, updated_at = $5
WHERE id = $1
RETURNING active;
`
	qMonitorDeactivate = `
UPDATE monitors SET active = FALSE, updated_at = $2 WHERE id = $1;
`
	qMonitorGet = `
SELECT id, name, url, interval_minutes, active, user_id, created_at, updated_at
FROM monitors
WHERE id = $1;
`
	qMonitorsActive = `
SELECT id, name, url, interval_minutes, active, user_id, created_at, updated_at
FROM monitors
WHERE active
ORDER BY created_at, id;
`
	qResultInsert = `
INSERT INTO probe_results (monitor_id, is_up, response_ms, status_code, reason, checked_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	qResultLatest = `
SELECT monitor_id, is_up, response_ms, status_code, reason, checked_at
FROM probe_results
WHERE monitor_id = $1
ORDER BY checked_at DESC, id DESC
LIMIT 1;
`
	qResultLatestAll = `
SELECT DISTINCT ON (monitor_id) monitor_id, is_up, response_ms, status_code, reason, checked_at
FROM probe_results
ORDER BY monitor_id, checked_at DESC, id DESC;
`
	qResultsSince = `
SELECT monitor_id, is_up, response_ms, status_code, reason, checked_at
FROM probe_results
WHERE monitor_id = $1 AND checked_at >= $2
ORDER BY checked_at DESC, id DESC;
`
	qResultsCount = `
SELECT COUNT(*) FROM probe_results WHERE monitor_id = $1;
`
	qResultsPage = `
SELECT monitor_id, is_up, response_ms, status_code, reason, checked_at
FROM probe_results
WHERE monitor_id = $1
ORDER BY checked_at DESC, id DESC
LIMIT $2 OFFSET $3;
`
)

func (s *Store) CreateMonitor(ctx context.Context, m monitor.Monitor) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, qMonitorInsert,
		m.ID, m.Name, m.URL, m.IntervalMinutes, m.Active, m.UserID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

func (s *Store) UpdateMonitor(ctx context.Context, m monitor.Monitor) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var active bool
	err := s.Pool.QueryRow(ctx, qMonitorUpdate,
		m.ID, m.Name, m.URL, m.IntervalMinutes, m.UpdatedAt,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("update monitor: %w", err)
	}
	return active, nil
}

func (s *Store) DeactivateMonitor(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, qMonitorDeactivate, id, at)
	if err != nil {
		return fmt.Errorf("deactivate monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m, err := scanMonitor(s.Pool.QueryRow(ctx, qMonitorGet, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return m, nil
}

func (s *Store) ListActive(ctx context.Context) ([]monitor.Monitor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, qMonitorsActive)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	defer rows.Close()

	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, r monitor.ProbeResult) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, qResultInsert,
		r.MonitorID, r.IsUp, r.ResponseTime, r.StatusCode, string(r.Reason), r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, monitorID string) (*monitor.ProbeResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	r, err := scanResult(s.Pool.QueryRow(ctx, qResultLatest, monitorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest result: %w", err)
	}
	return r, nil
}

func (s *Store) LatestAll(ctx context.Context) ([]monitor.ProbeResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, qResultLatestAll)
	if err != nil {
		return nil, fmt.Errorf("query latest results: %w", err)
	}
	return collectResults(rows)
}

func (s *Store) QuerySince(ctx context.Context, monitorID string, since time.Time) ([]monitor.ProbeResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, qResultsSince, monitorID, since)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	return collectResults(rows)
}

func (s *Store) History(ctx context.Context, monitorID string, limit, offset int) ([]monitor.ProbeResult, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.Pool.QueryRow(ctx, qResultsCount, monitorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}
	rows, err := s.Pool.Query(ctx, qResultsPage, monitorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func scanMonitor(row pgx.Row) (*monitor.Monitor, error) {
	var m monitor.Monitor
	if err := row.Scan(&m.ID, &m.Name, &m.URL, &m.IntervalMinutes, &m.Active, &m.UserID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func scanResult(row pgx.Row) (*monitor.ProbeResult, error) {
	var (
		r      monitor.ProbeResult
		reason string
	)
	if err := row.Scan(&r.MonitorID, &r.IsUp, &r.ResponseTime, &r.StatusCode, &reason, &r.Timestamp); err != nil {
		return nil, err
	}
	r.Reason = monitor.Reason(reason)
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

func collectResults(rows pgx.Rows) ([]monitor.ProbeResult, error) {
	defer rows.Close()
	var out []monitor.ProbeResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
