package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/storage"
	"github.com/hazz-dev/upwatch/internal/storage/postgres"
)

// store is everything the commands need from a storage backend.
type store interface {
	CreateMonitor(ctx context.Context, m monitor.Monitor) error
	UpdateMonitor(ctx context.Context, m monitor.Monitor) (bool, error)
	DeactivateMonitor(ctx context.Context, id string, at time.Time) error
	GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error)
	ListActive(ctx context.Context) ([]monitor.Monitor, error)

	Append(ctx context.Context, r monitor.ProbeResult) error
	Latest(ctx context.Context, monitorID string) (*monitor.ProbeResult, error)
	LatestAll(ctx context.Context) ([]monitor.ProbeResult, error)
	QuerySince(ctx context.Context, monitorID string, since time.Time) ([]monitor.ProbeResult, error)
	History(ctx context.Context, monitorID string, limit, offset int) ([]monitor.ProbeResult, int, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ store = (*storage.DB)(nil)
	_ store = (*postgres.Store)(nil)
)

// openStore opens the configured backend with its schema applied.
func openStore(ctx context.Context, cfg config.StorageConfig) (store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			URL:          cfg.DSN,
			MaxConns:     cfg.MaxConns,
			QueryTimeout: cfg.QueryTimeout.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite", "":
		db, err := storage.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
