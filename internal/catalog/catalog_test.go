package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/upwatch/internal/catalog"
	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/registry"
	"github.com/hazz-dev/upwatch/internal/storage"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func now() time.Time { return t0 }

func setup(t *testing.T) (*catalog.Manager, *storage.DB, *registry.Registry) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	reg := registry.New(now)
	return catalog.New(db, reg, nil, now), db, reg
}

func TestCreate_PersistsAndSchedules(t *testing.T) {
	mgr, db, reg := setup(t)
	ctx := context.Background()

	m, err := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 5, UserID: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.ID == "" || !m.Active || !m.CreatedAt.Equal(t0) {
		t.Errorf("unexpected monitor: %+v", m)
	}
	if _, err := db.GetMonitor(ctx, m.ID); err != nil {
		t.Errorf("expected monitor persisted: %v", err)
	}
	due := reg.ListDue(t0)
	if len(due) != 1 || due[0].ID != m.ID {
		t.Errorf("expected new monitor due immediately, got %+v", due)
	}
}

func TestCreate_RejectsInvalid(t *testing.T) {
	mgr, db, reg := setup(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 0})
	if !errors.Is(err, monitor.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if reg.Len() != 0 {
		t.Error("invalid monitor must not be scheduled")
	}
	if all, _ := db.ListActive(ctx); len(all) != 0 {
		t.Error("invalid monitor must not be stored")
	}
}

func TestUpdate(t *testing.T) {
	mgr, _, reg := setup(t)
	ctx := context.Background()

	m, _ := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 5})
	got, err := mgr.Update(ctx, m.ID, monitor.Monitor{Name: "api v2", URL: "https://v2.example.com", IntervalMinutes: 10})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "api v2" || got.IntervalMinutes != 10 || got.ID != m.ID {
		t.Errorf("unexpected update result: %+v", got)
	}
	rm, ok := reg.Get(m.ID)
	if !ok || rm.URL != "https://v2.example.com" {
		t.Errorf("registry not updated: %+v", rm)
	}

	if _, err := mgr.Update(ctx, "missing", got); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := mgr.Update(ctx, m.ID, monitor.Monitor{Name: "x", URL: "ftp://x"}); !errors.Is(err, monitor.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	mgr, db, reg := setup(t)
	ctx := context.Background()

	m, _ := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 5})
	if err := mgr.Deactivate(ctx, m.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if reg.Tracks(m.ID) {
		t.Error("expected monitor untracked")
	}
	stored, err := db.GetMonitor(ctx, m.ID)
	if err != nil || stored.Active {
		t.Errorf("expected soft-deleted row, got %+v, %v", stored, err)
	}
	if err := mgr.Deactivate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// deactivatingStore soft-deletes the monitor right after it is read, as a
// DELETE landing between Update's read and write would.
type deactivatingStore struct {
	*storage.DB
}

func (s deactivatingStore) GetMonitor(ctx context.Context, id string) (*monitor.Monitor, error) {
	m, err := s.DB.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.DeactivateMonitor(ctx, id, t0); err != nil {
		return nil, err
	}
	return m, nil
}

func TestUpdate_DoesNotResurrectDeactivated(t *testing.T) {
	_, db, reg := setup(t)
	ctx := context.Background()

	mgr := catalog.New(deactivatingStore{db}, reg, nil, now)
	m, err := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 5})
	if err != nil {
		t.Fatal(err)
	}

	got, err := mgr.Update(ctx, m.ID, monitor.Monitor{Name: "api", URL: "https://v2.example.com", IntervalMinutes: 5})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Active {
		t.Error("expected update result to report the monitor inactive")
	}
	stored, _ := db.GetMonitor(ctx, m.ID)
	if stored.Active {
		t.Error("deactivated monitor was reactivated by a concurrent edit")
	}
	if reg.Tracks(m.ID) {
		t.Error("deactivated monitor is still scheduled")
	}
}

func TestUpdateAndDeactivate_Concurrent(t *testing.T) {
	mgr, db, reg := setup(t)
	ctx := context.Background()

	m, _ := mgr.Create(ctx, monitor.Monitor{Name: "api", URL: "https://api.example.com", IntervalMinutes: 5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Update(ctx, m.ID, monitor.Monitor{Name: "api", URL: "https://v2.example.com", IntervalMinutes: 10})
		}()
	}
	if err := mgr.Deactivate(ctx, m.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	wg.Wait()

	stored, _ := db.GetMonitor(ctx, m.ID)
	if stored.Active || reg.Tracks(m.ID) {
		t.Errorf("expected monitor to stay deactivated: stored active=%v tracked=%v", stored.Active, reg.Tracks(m.ID))
	}
}

func TestRestore_UsesLatestResults(t *testing.T) {
	mgr, db, reg := setup(t)
	ctx := context.Background()

	checked, _ := mgr.Create(ctx, monitor.Monitor{Name: "checked", URL: "https://a.example.com", IntervalMinutes: 5})
	fresh, _ := mgr.Create(ctx, monitor.Monitor{Name: "fresh", URL: "https://b.example.com", IntervalMinutes: 5})
	off, _ := mgr.Create(ctx, monitor.Monitor{Name: "off", URL: "https://c.example.com", IntervalMinutes: 5})
	_ = mgr.Deactivate(ctx, off.ID)

	last := t0.Add(-2 * time.Minute)
	if err := db.Append(ctx, monitor.ProbeResult{MonitorID: checked.ID, IsUp: true, Timestamp: last}); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart with an empty registry.
	reg.Restore(nil, nil)
	n, err := mgr.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 monitors restored, got %d", n)
	}

	s, _ := reg.Schedule(checked.ID)
	if want := last.Add(5 * time.Minute); !s.NextDue.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, s.NextDue)
	}
	s, _ = reg.Schedule(fresh.ID)
	if !s.NextDue.Equal(t0) || s.LastChecked != nil {
		t.Errorf("expected never-checked monitor due now: %+v", s)
	}
	if reg.Tracks(off.ID) {
		t.Error("inactive monitor must not be restored")
	}
}

func TestSeed_CreatesAndUpdatesByName(t *testing.T) {
	mgr, db, _ := setup(t)
	ctx := context.Background()

	seeds := []config.Monitor{
		{Name: "api", URL: "https://api.example.com", Interval: 5},
		{Name: "web", URL: "https://web.example.com", Interval: 1},
	}
	if err := mgr.Seed(ctx, seeds); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	// Seeding again is a no-op apart from changed fields.
	seeds[1].Interval = 2
	if err := mgr.Seed(ctx, seeds); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	all, err := db.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(all))
	}
	for _, m := range all {
		if m.Name == "web" && m.IntervalMinutes != 2 {
			t.Errorf("expected web interval updated to 2, got %d", m.IntervalMinutes)
		}
	}
}

func TestSeed_InvalidMonitor(t *testing.T) {
	mgr, _, _ := setup(t)
	err := mgr.Seed(context.Background(), []config.Monitor{{Name: "bad", URL: "not a url", Interval: 5}})
	if !errors.Is(err, monitor.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
