package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazz-dev/upwatch/internal/config"
	"github.com/hazz-dev/upwatch/internal/monitor"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, `
server:
  address: ":9090"
  cors_origins: ["https://dash.example.com"]
storage:
  driver: "postgres"
  dsn: "postgres://u:p@localhost:5432/upwatch"
  max_conns: 4
scheduler:
  tick: "500ms"
  workers: 8
  sink_attempts: 2
  sink_backoff: "50ms"
  window: "1h"
probe:
  timeout: "3s"
  method: "HEAD"
  user_agent: "probe/1"
  verify_tls: false
log:
  level: "debug"
  format: "json"
metrics:
  enabled: false
monitors:
  - name: "api"
    url: "https://example.com/health"
    interval: 2
    user_id: "u1"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Server.CORSOrigins[0] != "https://dash.example.com" {
		t.Errorf("unexpected cors origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.MaxConns != 4 {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Scheduler.Tick.Duration != 500*time.Millisecond {
		t.Errorf("unexpected tick: %v", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.Workers != 8 || cfg.Scheduler.SinkAttempts != 2 {
		t.Errorf("unexpected scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Probe.Method != "HEAD" || *cfg.Probe.VerifyTLS {
		t.Errorf("unexpected probe: %+v", cfg.Probe)
	}
	if !*cfg.Probe.FollowRedirects {
		t.Error("expected follow_redirects default true")
	}
	if cfg.MetricsEnabled() {
		t.Error("expected metrics disabled")
	}
	if len(cfg.Monitors) != 1 || cfg.Monitors[0].Interval != 2 {
		t.Fatalf("unexpected monitors: %+v", cfg.Monitors)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTemp(t, `
monitors:
  - name: "api"
    url: "https://example.com/health"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "upwatch.db" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Scheduler.Tick.String() != "1s" {
		t.Errorf("expected default tick 1s, got %v", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.Workers != 32 {
		t.Errorf("expected default workers 32, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Probe.Timeout.String() != "10s" {
		t.Errorf("expected default timeout 10s, got %v", cfg.Probe.Timeout)
	}
	if cfg.Probe.Method != "GET" {
		t.Errorf("expected default method GET, got %q", cfg.Probe.Method)
	}
	if cfg.Monitors[0].Interval != 5 {
		t.Errorf("expected default monitor interval 5, got %d", cfg.Monitors[0].Interval)
	}
	if !cfg.MetricsEnabled() {
		t.Error("expected metrics enabled by default")
	}
}

func TestDefault_NoMonitorsRequired(t *testing.T) {
	cfg := config.Default()
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("unexpected driver %q", cfg.Storage.Driver)
	}
	if len(cfg.Monitors) != 0 {
		t.Errorf("expected no monitors, got %d", len(cfg.Monitors))
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid driver", "storage:\n  driver: mysql\n", "driver"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "dsn"},
		{"zero workers", "scheduler:\n  workers: -1\n", "workers"},
		{"timeout too long", "probe:\n  timeout: 2m\n", "timeout"},
		{"invalid timeout", "probe:\n  timeout: bad\n", "parsing"},
		{"invalid method", "probe:\n  method: POST\n", "method"},
		{"monitor missing name", "monitors:\n  - url: https://a.com\n", "name"},
		{"monitor missing url", "monitors:\n  - name: a\n", "url"},
		{"monitor bad interval", "monitors:\n  - name: a\n    url: https://a.com\n    interval: -3\n", "interval"},
		{"monitor non-http url", "monitors:\n  - name: a\n    url: ftp://x\n", "http(s)"},
		{"monitor relative url", "monitors:\n  - name: a\n    url: /health\n", "http(s)"},
		{"duplicate monitor", "monitors:\n  - name: a\n    url: https://a.com\n  - name: a\n    url: https://b.com\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeTemp(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_SeedValidatedLikeAPIInput(t *testing.T) {
	_, err := config.Load(writeTemp(t, "monitors:\n  - name: a\n    url: ftp://x\n"))
	if !errors.Is(err, monitor.ErrInvalid) {
		t.Fatalf("expected monitor.ErrInvalid, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
