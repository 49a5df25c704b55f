// Package catalog is the write path for monitor definitions. Every change is
// persisted first and then applied to the registry.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/registry"
)

// Store persists monitor definitions.
type Store interface {
	CreateMonitor(ctx context.Context, m monitor.Monitor) error
	// UpdateMonitor reports whether the monitor is still active after the
	// write.
	UpdateMonitor(ctx context.Context, m monitor.Monitor) (bool, error)
	DeactivateMonitor(ctx context.Context, id string, at time.Time) error
	GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error)
	ListActive(ctx context.Context) ([]monitor.Monitor, error)
	LatestAll(ctx context.Context) ([]monitor.ProbeResult, error)
}

// Manager keeps the store and the registry in step.
type Manager struct {
	// mu orders the store write and the registry change of concurrent
	// updates and deactivations.
	mu       sync.Mutex
	store    Store
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Manager. Pass nil logger or now for defaults.
func New(store Store, reg *registry.Registry, logger *slog.Logger, now func() time.Time) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, registry: reg, logger: logger, now: now}
}

// Create validates and stores a new active monitor, which becomes due
// immediately. ID, timestamps and Active are assigned here.
func (m *Manager) Create(ctx context.Context, in monitor.Monitor) (monitor.Monitor, error) {
	now := m.now().UTC()
	in.ID = uuid.NewString()
	in.Active = true
	in.CreatedAt = now
	in.UpdatedAt = now
	if err := in.Validate(); err != nil {
		return monitor.Monitor{}, err
	}
	if err := m.store.CreateMonitor(ctx, in); err != nil {
		return monitor.Monitor{}, err
	}
	m.registry.Upsert(in)
	m.logger.Info("monitor created", "monitor", in.ID, "name", in.Name, "interval", in.IntervalMinutes)
	return in, nil
}

// Update applies a new name, URL and interval to an existing monitor.
// Returns storage.ErrNotFound for unknown ids.
func (m *Manager) Update(ctx context.Context, id string, in monitor.Monitor) (monitor.Monitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.store.GetMonitor(ctx, id)
	if err != nil {
		return monitor.Monitor{}, err
	}
	cur.Name = in.Name
	cur.URL = in.URL
	cur.IntervalMinutes = in.IntervalMinutes
	cur.UpdatedAt = m.now().UTC()
	if err := cur.Validate(); err != nil {
		return monitor.Monitor{}, err
	}
	active, err := m.store.UpdateMonitor(ctx, *cur)
	if err != nil {
		return monitor.Monitor{}, err
	}
	// The row may have been deactivated since it was read.
	cur.Active = active
	if active {
		m.registry.Upsert(*cur)
	} else {
		m.registry.Deactivate(id)
	}
	m.logger.Info("monitor updated", "monitor", id, "interval", cur.IntervalMinutes)
	return *cur, nil
}

// Deactivate soft-deletes a monitor and stops scheduling it. History is
// kept.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeactivateMonitor(ctx, id, m.now().UTC()); err != nil {
		return err
	}
	m.registry.Deactivate(id)
	m.logger.Info("monitor deactivated", "monitor", id)
	return nil
}

// Get returns a monitor by id, active or not.
func (m *Manager) Get(ctx context.Context, id string) (*monitor.Monitor, error) {
	return m.store.GetMonitor(ctx, id)
}

// List returns the active monitors.
func (m *Manager) List(ctx context.Context) ([]monitor.Monitor, error) {
	return m.store.ListActive(ctx)
}

// Restore rebuilds the registry from the stored monitors and each one's most
// recent result. It returns the number of monitors scheduled.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	monitors, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading monitors: %w", err)
	}
	latest, err := m.store.LatestAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading latest results: %w", err)
	}
	lastChecked := make(map[string]time.Time, len(latest))
	for _, r := range latest {
		lastChecked[r.MonitorID] = r.Timestamp
	}
	m.registry.Restore(monitors, lastChecked)
	m.logger.Info("registry restored", "monitors", len(monitors), "previously_checked", len(lastChecked))
	return len(monitors), nil
}

// Seed makes sure every monitor in the config file exists. Monitors are
// matched by name: missing ones are created and changed ones updated.
func (m *Manager) Seed(ctx context.Context, seeds []config.Monitor) error {
	if len(seeds) == 0 {
		return nil
	}
	existing, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading monitors: %w", err)
	}
	byName := make(map[string]monitor.Monitor, len(existing))
	for _, e := range existing {
		byName[e.Name] = e
	}

	for _, s := range seeds {
		want := monitor.Monitor{Name: s.Name, URL: s.URL, IntervalMinutes: s.Interval, UserID: s.UserID}
		cur, ok := byName[s.Name]
		switch {
		case !ok:
			if _, err := m.Create(ctx, want); err != nil {
				return fmt.Errorf("seeding monitor %q: %w", s.Name, err)
			}
		case cur.URL != want.URL || cur.IntervalMinutes != want.IntervalMinutes:
			if _, err := m.Update(ctx, cur.ID, want); err != nil {
				return fmt.Errorf("seeding monitor %q: %w", s.Name, err)
			}
		}
	}
	return nil
}
