package registry_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/registry"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mon(id string, interval int) monitor.Monitor {
	return monitor.Monitor{ID: id, Name: id, URL: "https://" + id + ".example.com", IntervalMinutes: interval, Active: true}
}

func ids(ms []monitor.Monitor) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestUpsert_NeverCheckedIsDueNow(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	r.Upsert(mon("a", 5))

	due := r.ListDue(t0)
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("expected a to be due immediately, got %v", ids(due))
	}
	s, ok := r.Schedule("a")
	if !ok {
		t.Fatal("expected schedule for a")
	}
	if s.LastChecked != nil {
		t.Error("expected never-checked monitor to have nil LastChecked")
	}
	if !s.NextDue.Equal(t0) {
		t.Errorf("expected next due %v, got %v", t0, s.NextDue)
	}
}

func TestListDue_OrderedOldestFirst(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	r.Upsert(mon("a", 1))
	r.Upsert(mon("b", 1))
	r.Upsert(mon("c", 1))

	// Stagger next-due: c oldest, then a, then b.
	for _, id := range []string{"a", "b", "c"} {
		if !r.MarkInFlight(id) {
			t.Fatalf("gate rejected %s", id)
		}
	}
	r.MarkComplete("c", t0.Add(-3*time.Minute))
	r.MarkComplete("a", t0.Add(-2*time.Minute))
	r.MarkComplete("b", t0.Add(-90*time.Second))

	got := ids(r.ListDue(t0))
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestListDue_SkipsInFlightAndNotYetDue(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	r.Upsert(mon("a", 5))
	r.Upsert(mon("b", 5))

	r.MarkInFlight("a")
	if got := ids(r.ListDue(t0)); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b, got %v", got)
	}

	r.MarkComplete("a", t0)
	if got := ids(r.ListDue(t0.Add(4 * time.Minute))); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected a not yet due, got %v", got)
	}
	if got := ids(r.ListDue(t0.Add(5 * time.Minute))); len(got) != 2 {
		t.Fatalf("expected both due at +5m, got %v", got)
	}
}

func TestMarkInFlight_ExactlyOneWinner(t *testing.T) {
	r := registry.New(nil)
	r.Upsert(mon("a", 1))

	const n = 64
	var (
		wins  int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.MarkInFlight("a") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful MarkInFlight, got %d", wins)
	}
}

func TestMarkInFlight_UnknownMonitor(t *testing.T) {
	r := registry.New(nil)
	if r.MarkInFlight("missing") {
		t.Error("expected gate to reject unknown monitor")
	}
}

func TestMarkComplete_RecomputesNextDue(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	r.Upsert(mon("m", 5))

	r.MarkInFlight("m")
	checked := t0.Add(120 * time.Millisecond)
	r.MarkComplete("m", checked)

	s, _ := r.Schedule("m")
	if s.InFlight {
		t.Error("expected in-flight cleared")
	}
	if s.LastChecked == nil || !s.LastChecked.Equal(checked) {
		t.Errorf("expected last checked %v, got %v", checked, s.LastChecked)
	}
	if want := checked.Add(5 * time.Minute); !s.NextDue.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, s.NextDue)
	}
}

func TestRelease_KeepsNextDue(t *testing.T) {
	r := registry.New(func() time.Time { return t0 })
	r.Upsert(mon("m", 5))
	r.MarkInFlight("m")
	r.Release("m")

	s, _ := r.Schedule("m")
	if s.InFlight || !s.NextDue.Equal(t0) || s.LastChecked != nil {
		t.Errorf("unexpected schedule after release: %+v", s)
	}
	if !r.MarkInFlight("m") {
		t.Error("expected gate to admit after release")
	}
}

func TestUpsert_IntervalChangeReschedules(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	m := mon("m", 30)
	r.Upsert(m)
	r.MarkInFlight("m")
	r.MarkComplete("m", t0)

	clk.Advance(time.Minute)
	m.IntervalMinutes = 5
	r.Upsert(m)
	s, _ := r.Schedule("m")
	if want := t0.Add(5 * time.Minute); !s.NextDue.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, s.NextDue)
	}

	// Shrinking below elapsed time clamps to now rather than the past.
	clk.Advance(10 * time.Minute)
	m.IntervalMinutes = 1
	r.Upsert(m)
	s, _ = r.Schedule("m")
	if !s.NextDue.Equal(clk.Now()) {
		t.Errorf("expected next due clamped to now %v, got %v", clk.Now(), s.NextDue)
	}
}

func TestUpsert_InactiveDeactivates(t *testing.T) {
	r := registry.New(nil)
	m := mon("m", 5)
	r.Upsert(m)
	m.Active = false
	r.Upsert(m)
	if r.Tracks("m") {
		t.Error("expected inactive monitor to be untracked")
	}
}

func TestDeactivate_Idle(t *testing.T) {
	r := registry.New(nil)
	r.Upsert(mon("m", 5))
	if !r.Deactivate("m") {
		t.Fatal("expected Deactivate to report tracked monitor")
	}
	if r.Tracks("m") || r.Len() != 0 {
		t.Error("expected monitor removed")
	}
	if r.Deactivate("m") {
		t.Error("second Deactivate should report false")
	}
}

func TestDeactivate_InFlightHoldsGateUntilComplete(t *testing.T) {
	r := registry.New(func() time.Time { return t0 })
	m := mon("m", 5)
	r.Upsert(m)
	r.MarkInFlight("m")
	r.Deactivate("m")

	if r.Tracks("m") {
		t.Error("deactivated monitor must not be tracked")
	}
	if len(r.ListDue(t0.Add(time.Hour))) != 0 {
		t.Error("deactivated monitor must not be due")
	}

	// Reactivating while the old probe is outstanding must not open the gate.
	r.Upsert(m)
	if r.MarkInFlight("m") {
		t.Fatal("gate admitted a second probe while one was outstanding")
	}
	r.MarkComplete("m", t0)
	if !r.MarkInFlight("m") {
		t.Error("expected gate to admit after completion")
	}
}

func TestMarkComplete_DropsDeactivated(t *testing.T) {
	r := registry.New(nil)
	r.Upsert(mon("m", 5))
	r.MarkInFlight("m")
	r.Deactivate("m")
	r.MarkComplete("m", t0)
	if _, ok := r.Schedule("m"); ok {
		t.Error("expected entry dropped once outstanding probe completed")
	}
	r.Upsert(mon("m", 5))
	if !r.MarkInFlight("m") {
		t.Error("expected fresh entry after re-upsert")
	}
}

func TestRestore(t *testing.T) {
	clk := &fakeClock{now: t0}
	r := registry.New(clk.Now)
	r.Upsert(mon("stale", 1))
	r.MarkInFlight("stale")

	inactive := mon("off", 5)
	inactive.Active = false
	r.Restore(
		[]monitor.Monitor{mon("never", 5), mon("recent", 5), mon("overdue", 5), inactive},
		map[string]time.Time{
			"recent":  t0.Add(-time.Minute),
			"overdue": t0.Add(-time.Hour),
		},
	)

	if r.Tracks("stale") || r.Tracks("off") {
		t.Error("restore should replace contents and skip inactive monitors")
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 monitors, got %d", r.Len())
	}

	s, _ := r.Schedule("never")
	if !s.NextDue.Equal(t0) || s.LastChecked != nil {
		t.Errorf("never-checked monitor should be due now: %+v", s)
	}
	s, _ = r.Schedule("recent")
	if want := t0.Add(4 * time.Minute); !s.NextDue.Equal(want) {
		t.Errorf("expected recent due at %v, got %v", want, s.NextDue)
	}
	s, _ = r.Schedule("overdue")
	if !s.NextDue.Equal(t0) {
		t.Errorf("expected overdue clamped to now, got %v", s.NextDue)
	}
	if s.InFlight {
		t.Error("in-flight must not survive restore")
	}
}

func TestGet(t *testing.T) {
	r := registry.New(nil)
	r.Upsert(mon("m", 5))
	m, ok := r.Get("m")
	if !ok || m.IntervalMinutes != 5 {
		t.Errorf("unexpected Get result: %+v %v", m, ok)
	}
	if _, ok := r.Get("x"); ok {
		t.Error("expected missing monitor")
	}
}
