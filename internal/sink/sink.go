// Package sink records completed probe results durably and then releases the
// monitor's admission gate.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazz-dev/upwatch/internal/metrics"
	"github.com/hazz-dev/upwatch/internal/monitor"
)

var (
	// ErrDiscarded is returned for results of monitors that are no longer
	// tracked. Nothing is written.
	ErrDiscarded = errors.New("result discarded: monitor not tracked")
	// ErrDropped is returned when every append attempt failed.
	ErrDropped = errors.New("result dropped: append attempts exhausted")
)

var tracer = otel.Tracer("github.com/hazz-dev/upwatch/internal/sink")

// Store is the append side of the result store.
type Store interface {
	Append(ctx context.Context, r monitor.ProbeResult) error
}

// Registry is the subset of the monitor registry the sink updates.
type Registry interface {
	Tracks(id string) bool
	MarkComplete(id string, checkedAt time.Time)
}

// Options tunes the retry policy.
type Options struct {
	Attempts int
	Backoff  time.Duration
}

// Sink is safe for concurrent use.
type Sink struct {
	store    Store
	registry Registry
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Sink. Pass nil metrics or logger for defaults.
func New(store Store, reg Registry, opts Options, m *metrics.Metrics, logger *slog.Logger) *Sink {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, registry: reg, opts: opts, metrics: m, logger: logger}
}

// Record appends r and, whatever the outcome, marks the monitor complete so
// its gate reopens and its next due time is set from r.Timestamp.
//
// A result for an untracked monitor returns ErrDiscarded. A result that
// could not be written after all attempts returns an error wrapping
// ErrDropped.
func (s *Sink) Record(ctx context.Context, r monitor.ProbeResult) error {
	defer s.registry.MarkComplete(r.MonitorID, r.Timestamp)

	if !s.registry.Tracks(r.MonitorID) {
		s.metrics.SinkDiscarded.Inc()
		s.logger.Debug("discarding result", "monitor", r.MonitorID)
		return ErrDiscarded
	}

	if err := s.append(ctx, r); err != nil {
		s.metrics.SinkDropped.Inc()
		s.logger.Error("dropping result",
			"monitor", r.MonitorID,
			"attempts", s.opts.Attempts,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}
	return nil
}

func (s *Sink) append(ctx context.Context, r monitor.ProbeResult) error {
	ctx, span := tracer.Start(ctx, "sink.append", trace.WithAttributes(
		attribute.String("monitor.id", r.MonitorID),
	))
	defer span.End()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.Backoff
	exp.MaxInterval = 16 * s.opts.Backoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, s.store.Append(ctx, r)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(s.opts.Attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.metrics.SinkRetries.Inc()
			s.logger.Warn("append failed; retrying",
				"monitor", r.MonitorID,
				"attempt", attempt,
				"backoff", wait,
				"error", err,
			)
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
	}
	return err
}
