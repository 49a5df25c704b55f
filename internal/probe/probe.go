// Package probe performs single HTTP health checks with a hard deadline.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
)

var tracer = otel.Tracer("github.com/hazz-dev/upwatch/internal/probe")

// Options configures an Executor.
type Options struct {
	Timeout         time.Duration
	Method          string
	UserAgent       string
	VerifyTLS       bool
	FollowRedirects bool
	MaxBodyBytes    int64
}

// OptionsFromConfig converts the probe section of the config file.
func OptionsFromConfig(cfg config.ProbeConfig) Options {
	o := Options{
		Timeout:         cfg.Timeout.Duration,
		Method:          cfg.Method,
		UserAgent:       cfg.UserAgent,
		VerifyTLS:       true,
		FollowRedirects: true,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}
	if cfg.VerifyTLS != nil {
		o.VerifyTLS = *cfg.VerifyTLS
	}
	if cfg.FollowRedirects != nil {
		o.FollowRedirects = *cfg.FollowRedirects
	}
	return o
}

// Executor runs probes. It is safe for concurrent use.
type Executor struct {
	opts   Options
	client *http.Client
	now    func() time.Time
}

// New creates an Executor with a transport tuned for health checks.
func New(opts Options) *Executor {
	opts = withDefaults(opts)
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return NewWithClient(opts, &http.Client{Transport: transport})
}

// NewWithClient creates an Executor around a custom client (for testing).
// The redirect policy from opts is applied to client.
func NewWithClient(opts Options, client *http.Client) *Executor {
	opts = withDefaults(opts)
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &Executor{opts: opts, client: client, now: time.Now}
}

func withDefaults(o Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 64 << 10
	}
	return o
}

// Timeout returns the per-probe deadline.
func (e *Executor) Timeout() time.Duration {
	return e.opts.Timeout
}

type outcome struct {
	code    int
	elapsed time.Duration
	err     error
}

// Probe checks target once. It always returns within the configured timeout
// (plus scheduling noise), even if the underlying request has not unwound.
// ResponseTime is measured from dispatch to receipt of the response headers.
func (e *Executor) Probe(ctx context.Context, target string) monitor.ProbeResult {
	ctx, span := tracer.Start(ctx, "probe",
		trace.WithAttributes(attribute.String("probe.url", target)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() { done <- e.do(ctx, target, start) }()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{elapsed: time.Since(start), err: ctx.Err()}
	}

	r := monitor.ProbeResult{
		StatusCode:   o.code,
		ResponseTime: o.elapsed.Milliseconds(),
		Timestamp:    e.now().UTC(),
	}
	switch {
	case o.err != nil:
		r.Reason = Classify(o.err)
		r.Detail = o.err.Error()
	case o.code < 200 || o.code > 299:
		r.Reason = monitor.HTTPError(o.code)
	default:
		r.IsUp = true
	}
	span.SetAttributes(
		attribute.Bool("probe.up", r.IsUp),
		attribute.String("probe.reason", string(r.Reason)),
		attribute.Int64("probe.response_ms", r.ResponseTime),
	)
	return r
}

func (e *Executor) do(ctx context.Context, target string, start time.Time) outcome {
	code, err := e.request(ctx, e.opts.Method, target)
	if err == nil && e.opts.Method == http.MethodHead &&
		(code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented) {
		code, err = e.request(ctx, http.MethodGet, target)
	}
	return outcome{code: code, elapsed: time.Since(start), err: err}
}

func (e *Executor) request(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, &requestError{err: err}
	}
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	return resp.StatusCode, nil
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return fmt.Sprintf("building request: %v", e.err) }
func (e *requestError) Unwrap() error { return e.err }
