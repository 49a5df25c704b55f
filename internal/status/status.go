// Package status derives read-only views of a monitor's health from the
// result store and the registry.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/registry"
)

// Store is the read side of the result store.
type Store interface {
	Latest(ctx context.Context, monitorID string) (*monitor.ProbeResult, error)
	QuerySince(ctx context.Context, monitorID string, since time.Time) ([]monitor.ProbeResult, error)
}

// Scheduler exposes schedule state. *registry.Registry satisfies it.
type Scheduler interface {
	Schedule(id string) (registry.Schedule, bool)
}

// Summary is the dashboard view of one monitor.
type Summary struct {
	MonitorID string               `json:"monitor_id"`
	Latest    *monitor.ProbeResult `json:"latest"`
	// Uptime is nil when the window holds no results.
	Uptime   *float64           `json:"uptime"`
	Window   string             `json:"window"`
	Checks   int                `json:"checks"`
	Schedule *registry.Schedule `json:"schedule,omitempty"`
}

// Aggregator computes status views. It holds no state of its own.
type Aggregator struct {
	store Store
	sched Scheduler
	now   func() time.Time
}

// New creates an Aggregator. sched may be nil when schedule state is not
// available (for example from the CLI). Pass nil now to use time.Now.
func New(store Store, sched Scheduler, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, sched: sched, now: now}
}

// Latest returns the most recent result for id, or nil if it was never
// checked.
func (a *Aggregator) Latest(ctx context.Context, id string) (*monitor.ProbeResult, error) {
	r, err := a.store.Latest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("latest result for %q: %w", id, err)
	}
	return r, nil
}

// UptimeRatio returns the fraction of results in the trailing window that
// were up. ok is false when the window holds no results; that is reported
// as unknown rather than as 0 or 1.
func (a *Aggregator) UptimeRatio(ctx context.Context, id string, window time.Duration) (ratio float64, ok bool, err error) {
	ratio, n, err := a.uptime(ctx, id, window)
	return ratio, n > 0, err
}

func (a *Aggregator) uptime(ctx context.Context, id string, window time.Duration) (float64, int, error) {
	results, err := a.store.QuerySince(ctx, id, a.now().Add(-window))
	if err != nil {
		return 0, 0, fmt.Errorf("results for %q: %w", id, err)
	}
	if len(results) == 0 {
		return 0, 0, nil
	}
	up := 0
	for _, r := range results {
		if r.IsUp {
			up++
		}
	}
	return float64(up) / float64(len(results)), len(results), nil
}

// Summary combines the latest result, the uptime over window and, when
// known, the monitor's schedule.
func (a *Aggregator) Summary(ctx context.Context, id string, window time.Duration) (Summary, error) {
	latest, err := a.Latest(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	ratio, n, err := a.uptime(ctx, id, window)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		MonitorID: id,
		Latest:    latest,
		Window:    window.String(),
		Checks:    n,
	}
	if n > 0 {
		s.Uptime = &ratio
	}
	if a.sched != nil {
		if sched, ok := a.sched.Schedule(id); ok {
			s.Schedule = &sched
		}
	}
	return s, nil
}
