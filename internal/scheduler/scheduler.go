package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hazz-dev/upwatch/internal/metrics"
	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/registry"
)

var (
	// ErrInFlight is returned by Trigger when the monitor already has a
	// probe outstanding.
	ErrInFlight = errors.New("probe already in flight")
	// ErrUnknownMonitor is returned by Trigger for ids that are not active.
	ErrUnknownMonitor = errors.New("unknown monitor")
)

var tracer = otel.Tracer("github.com/hazz-dev/upwatch/internal/scheduler")

// Executor performs a single probe.
type Executor interface {
	Probe(ctx context.Context, target string) monitor.ProbeResult
}

// Recorder persists a result and completes the monitor's cycle.
type Recorder interface {
	Record(ctx context.Context, r monitor.ProbeResult) error
}

// Options tunes the tick loop and the pool.
type Options struct {
	Tick    time.Duration
	Workers int
	// Now is the clock used by Run. Nil means time.Now.
	Now func() time.Time
}

// Scheduler dispatches due monitors onto a bounded pool of probe workers.
type Scheduler struct {
	registry *registry.Registry
	exec     Executor
	recorder Recorder
	sem      *semaphore.Weighted
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a Scheduler. Pass nil metrics or logger for defaults.
func New(reg *registry.Registry, exec Executor, rec Recorder, opts Options, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: reg,
		exec:     exec,
		recorder: rec,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
}

// Run ticks until ctx is canceled. The first tick happens immediately.
// Run does not wait for outstanding probes; call Wait for that.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx, s.opts.Now())

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.opts.Now())
		}
	}
}

// Tick selects the monitors due at now and dispatches as many as the pool
// has room for, oldest-due first. The rest stay due for the next tick.
// It never blocks on probe I/O and returns the number dispatched.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	due := s.registry.ListDue(now)
	s.metrics.Ticks.Inc()
	s.metrics.Due.Add(float64(len(due)))

	dispatched := 0
	for i, m := range due {
		if !s.sem.TryAcquire(1) {
			deferred := len(due) - i
			s.metrics.Deferred.Add(float64(deferred))
			s.logger.Debug("pool full; deferring", "deferred", deferred)
			break
		}
		if !s.registry.MarkInFlight(m.ID) {
			s.sem.Release(1)
			s.metrics.Contention.Inc()
			continue
		}
		s.metrics.InFlight.Inc()
		s.metrics.Dispatched.Inc()
		s.wg.Add(1)
		go s.work(ctx, m)
		dispatched++
	}

	span.SetAttributes(
		attribute.Int("due", len(due)),
		attribute.Int("dispatched", dispatched),
	)
	s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	return dispatched
}

// work runs one admitted probe. The pool slot is held for the probe only.
func (s *Scheduler) work(ctx context.Context, m monitor.Monitor) {
	defer s.wg.Done()

	r := s.probe(ctx, m)

	if ctx.Err() != nil {
		// Shutting down: an interrupted probe is not a real outcome.
		s.registry.Release(m.ID)
		s.logger.Debug("probe interrupted", "monitor", m.ID)
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Debug("result not recorded", "monitor", m.ID, "error", err)
	}
}

// Trigger runs an immediate probe for id outside the schedule. It goes
// through the same admission gate, so it returns ErrInFlight instead of
// racing a scheduled probe. It blocks until the result is recorded.
func (s *Scheduler) Trigger(ctx context.Context, id string) (monitor.ProbeResult, error) {
	m, ok := s.registry.Get(id)
	if !ok {
		return monitor.ProbeResult{}, ErrUnknownMonitor
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return monitor.ProbeResult{}, err
	}
	if !s.registry.MarkInFlight(id) {
		s.sem.Release(1)
		return monitor.ProbeResult{}, ErrInFlight
	}
	s.metrics.InFlight.Inc()

	s.wg.Add(1)
	defer s.wg.Done()

	r := s.probe(ctx, m)
	if err := ctx.Err(); err != nil {
		s.registry.Release(id)
		return r, err
	}
	s.logger.Info("manual check", "monitor", id, "up", r.IsUp, "reason", r.Reason)
	return r, s.recorder.Record(context.WithoutCancel(ctx), r)
}

// Wait blocks until every dispatched probe has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// probe calls the executor and frees the pool slot the caller acquired.
func (s *Scheduler) probe(ctx context.Context, m monitor.Monitor) monitor.ProbeResult {
	ctx, span := tracer.Start(ctx, "scheduler.probe", trace.WithAttributes(
		attribute.String("monitor.id", m.ID),
	))
	defer span.End()

	r := s.exec.Probe(ctx, m.URL)
	r.MonitorID = m.ID

	s.sem.Release(1)
	s.metrics.InFlight.Dec()
	s.metrics.ObserveProbe(r)

	s.logger.Debug("probe result",
		"monitor", m.ID,
		"up", r.IsUp,
		"status_code", r.StatusCode,
		"reason", r.Reason,
		"response_ms", r.ResponseTime,
		"detail", r.Detail,
	)
	return r
}
