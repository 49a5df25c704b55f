package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazz-dev/upwatch/internal/monitor"
)

// ErrNotFound is returned when a monitor does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS monitors (
    id               TEXT    PRIMARY KEY,
    name             TEXT    NOT NULL,
    url              TEXT    NOT NULL,
    interval_minutes INTEGER NOT NULL CHECK(interval_minutes >= 1),
    active           INTEGER NOT NULL DEFAULT 1,
    user_id          TEXT    NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitors_active ON monitors(active);

CREATE TABLE IF NOT EXISTS probe_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    monitor_id  TEXT    NOT NULL,
    is_up       INTEGER NOT NULL,
    response_ms INTEGER NOT NULL CHECK(response_ms >= 0),
    status_code INTEGER NOT NULL DEFAULT 0,
    reason      TEXT    NOT NULL DEFAULT '',
    checked_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_monitor_checked ON probe_results(monitor_id, checked_at DESC);
`

const (
	monitorColumns = `id, name, url, interval_minutes, active, user_id, created_at, updated_at`
	resultColumns  = `monitor_id, is_up, response_ms, status_code, reason, checked_at`
)

// DB wraps a SQLite database holding monitors and their probe results.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// SQLite has a single writer; one connection serializes appends and
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// --- Monitors ---

// CreateMonitor inserts a new monitor.
func (d *DB) CreateMonitor(ctx context.Context, m monitor.Monitor) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO monitors (`+monitorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.URL, m.IntervalMinutes, boolInt(m.Active), m.UserID,
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting monitor %q: %w", m.ID, err)
	}
	return nil
}

// UpdateMonitor overwrites the editable fields of an existing monitor and
// reports whether it is still active. The active flag itself is never
// written here; only DeactivateMonitor changes it.
func (d *DB) UpdateMonitor(ctx context.Context, m monitor.Monitor) (bool, error) {
	var active int
	err := d.db.QueryRowContext(ctx,
		`UPDATE monitors SET name = ?, url = ?, interval_minutes = ?, updated_at = ? WHERE id = ? RETURNING active`,
		m.Name, m.URL, m.IntervalMinutes, m.UpdatedAt.UnixNano(), m.ID,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("updating monitor %q: %w", m.ID, err)
	}
	return active != 0, nil
}

// DeactivateMonitor soft-deletes a monitor. Its results are kept.
func (d *DB) DeactivateMonitor(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE monitors SET active = 0, updated_at = ? WHERE id = ?`,
		at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivating monitor %q: %w", id, err)
	}
	return expectOne(res, id)
}

// GetMonitor returns the monitor with the given id, active or not.
func (d *DB) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id,
	)
	m, err := scanMonitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying monitor %q: %w", id, err)
	}
	return m, nil
}

// ListActive returns every active monitor ordered by creation time.
func (d *DB) ListActive(ctx context.Context) ([]monitor.Monitor, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE active = 1 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing monitors: %w", err)
	}
	defer rows.Close()

	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning monitor row: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating monitor rows: %w", err)
	}
	return out, nil
}

// --- Probe results ---

// Append persists a probe result.
func (d *DB) Append(ctx context.Context, r monitor.ProbeResult) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO probe_results (`+resultColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.MonitorID, boolInt(r.IsUp), r.ResponseTime, r.StatusCode, string(r.Reason),
		r.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting result for %q: %w", r.MonitorID, err)
	}
	return nil
}

// Latest returns the most recent result for a monitor, or nil if none.
func (d *DB) Latest(ctx context.Context, monitorID string) (*monitor.ProbeResult, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM probe_results WHERE monitor_id = ? ORDER BY checked_at DESC, id DESC LIMIT 1`,
		monitorID,
	)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest result for %q: %w", monitorID, err)
	}
	return r, nil
}

// LatestAll returns the most recent result of every monitor that has one.
func (d *DB) LatestAll(ctx context.Context) ([]monitor.ProbeResult, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM probe_results
		WHERE id IN (
			SELECT MAX(id) FROM probe_results GROUP BY monitor_id
		)
		ORDER BY monitor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// QuerySince returns the results for a monitor checked at or after since,
// newest first.
func (d *DB) QuerySince(ctx context.Context, monitorID string, since time.Time) ([]monitor.ProbeResult, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM probe_results WHERE monitor_id = ? AND checked_at >= ? ORDER BY checked_at DESC, id DESC`,
		monitorID, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying results for %q: %w", monitorID, err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// History returns paginated results for a monitor plus the total count.
func (d *DB) History(ctx context.Context, monitorID string, limit, offset int) ([]monitor.ProbeResult, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM probe_results WHERE monitor_id = ?`, monitorID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting results for %q: %w", monitorID, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM probe_results WHERE monitor_id = ? ORDER BY checked_at DESC, id DESC LIMIT ? OFFSET ?`,
		monitorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", monitorID, err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row scanner) (*monitor.Monitor, error) {
	var (
		m                    monitor.Monitor
		active               int
		createdAt, updatedAt int64
	)
	err := row.Scan(&m.ID, &m.Name, &m.URL, &m.IntervalMinutes, &active, &m.UserID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Active = active != 0
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &m, nil
}

func scanResult(row scanner) (*monitor.ProbeResult, error) {
	var (
		r         monitor.ProbeResult
		isUp      int
		reason    string
		checkedAt int64
	)
	err := row.Scan(&r.MonitorID, &isUp, &r.ResponseTime, &r.StatusCode, &reason, &checkedAt)
	if err != nil {
		return nil, err
	}
	r.IsUp = isUp != 0
	r.Reason = monitor.Reason(reason)
	r.Timestamp = time.Unix(0, checkedAt).UTC()
	return &r, nil
}

func scanResults(rows *sql.Rows) ([]monitor.ProbeResult, error) {
	var results []monitor.ProbeResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		results = append(results, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
