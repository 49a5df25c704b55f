// Package registry is the in-memory authority on which monitors are active
// and when each one is next due. It owns the admission gate that keeps a
// monitor to at most one outstanding probe.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/hazz-dev/upwatch/internal/monitor"
)

type entry struct {
	monitor     monitor.Monitor
	lastChecked time.Time
	nextDue     time.Time
	inFlight    bool
	// active is false for a monitor deactivated while a probe was
	// outstanding; the entry is dropped once that probe completes.
	active bool
}

// Schedule is a point-in-time copy of a monitor's schedule state.
type Schedule struct {
	MonitorID   string     `json:"monitor_id"`
	LastChecked *time.Time `json:"last_checked"`
	NextDue     time.Time  `json:"next_due"`
	InFlight    bool       `json:"in_flight"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty Registry. Pass nil to use time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: make(map[string]*entry),
		now:     now,
	}
}

// Upsert adds a monitor or applies an edit to it. A never-checked monitor is
// due immediately. An inactive monitor is deactivated instead.
func (r *Registry) Upsert(m monitor.Monitor) {
	if !m.Active {
		r.Deactivate(m.ID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[m.ID]
	if !ok {
		r.entries[m.ID] = &entry{monitor: m, nextDue: now, active: true}
		return
	}
	e.monitor = m
	e.active = true
	if !e.inFlight && !e.lastChecked.IsZero() {
		e.nextDue = later(e.lastChecked.Add(m.Interval()), now)
	}
}

// Deactivate stops scheduling id. It reports whether id was tracked.
func (r *Registry) Deactivate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || !e.active {
		return false
	}
	if e.inFlight {
		e.active = false
		return true
	}
	delete(r.entries, id)
	return true
}

// Tracks reports whether id is an active monitor.
func (r *Registry) Tracks(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.active
}

// Get returns the active monitor with the given id.
func (r *Registry) Get(id string) (monitor.Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.active {
		return monitor.Monitor{}, false
	}
	return e.monitor, true
}

// Len returns the number of active monitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.active {
			n++
		}
	}
	return n
}

// ListDue returns active, idle monitors whose next-due time is at or before
// now, oldest-due first.
func (r *Registry) ListDue(now time.Time) []monitor.Monitor {
	r.mu.Lock()
	type due struct {
		m  monitor.Monitor
		at time.Time
	}
	var list []due
	for _, e := range r.entries {
		if !e.active || e.inFlight || e.nextDue.After(now) {
			continue
		}
		list = append(list, due{m: e.monitor, at: e.nextDue})
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].at.Equal(list[j].at) {
			return list[i].m.ID < list[j].m.ID
		}
		return list[i].at.Before(list[j].at)
	})
	out := make([]monitor.Monitor, len(list))
	for i, d := range list {
		out[i] = d.m
	}
	return out
}

// MarkInFlight is the admission gate. It succeeds only for an active monitor
// with no outstanding probe, and marks it in flight in the same step.
func (r *Registry) MarkInFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.active || e.inFlight {
		return false
	}
	e.inFlight = true
	return true
}

// MarkComplete clears the in-flight flag and schedules the next probe at
// checkedAt plus the monitor's interval.
func (r *Registry) MarkComplete(id string, checkedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.inFlight = false
	if !e.active {
		delete(r.entries, id)
		return
	}
	e.lastChecked = checkedAt
	e.nextDue = checkedAt.Add(e.monitor.Interval())
}

// Release clears the in-flight flag without recording a check, leaving the
// monitor due at its previous next-due time.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.inFlight = false
	if !e.active {
		delete(r.entries, id)
	}
}

// Schedule returns a copy of the schedule state for an active monitor.
func (r *Registry) Schedule(id string) (Schedule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.active {
		return Schedule{}, false
	}
	s := Schedule{MonitorID: id, NextDue: e.nextDue, InFlight: e.inFlight}
	if !e.lastChecked.IsZero() {
		t := e.lastChecked
		s.LastChecked = &t
	}
	return s, true
}

// Restore replaces the registry contents after a restart. lastChecked holds
// the timestamp of each monitor's most recent result; monitors missing from
// it are due immediately. In-flight state is never restored.
func (r *Registry) Restore(monitors []monitor.Monitor, lastChecked map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.entries = make(map[string]*entry, len(monitors))
	for _, m := range monitors {
		if !m.Active {
			continue
		}
		e := &entry{monitor: m, nextDue: now, active: true}
		if t, ok := lastChecked[m.ID]; ok && !t.IsZero() {
			e.lastChecked = t
			e.nextDue = later(t.Add(m.Interval()), now)
		}
		r.entries[m.ID] = e
	}
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
