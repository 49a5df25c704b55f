package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazz-dev/upwatch/internal/monitor"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address     string   `yaml:"address"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig selects and configures the durable result store.
type StorageConfig struct {
	Driver       string   `yaml:"driver"`
	Path         string   `yaml:"path"`
	DSN          string   `yaml:"dsn"`
	MaxConns     int32    `yaml:"max_conns"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// SchedulerConfig tunes the tick loop, the worker pool and the result sink.
type SchedulerConfig struct {
	Tick         Duration `yaml:"tick"`
	Workers      int      `yaml:"workers"`
	SinkAttempts int      `yaml:"sink_attempts"`
	SinkBackoff  Duration `yaml:"sink_backoff"`
	Window       Duration `yaml:"window"`
}

// ProbeConfig tunes outbound HTTP checks.
type ProbeConfig struct {
	Timeout         Duration `yaml:"timeout"`
	Method          string   `yaml:"method"`
	UserAgent       string   `yaml:"user_agent"`
	VerifyTLS       *bool    `yaml:"verify_tls"`
	FollowRedirects *bool    `yaml:"follow_redirects"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Monitor is a monitor seeded from the config file.
type Monitor struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Interval int    `yaml:"interval"`
	UserID   string `yaml:"user_id"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Probe     ProbeConfig     `yaml:"probe"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Monitors  []Monitor       `yaml:"monitors"`
}

// MetricsEnabled reports whether /metrics should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
}

var validMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
}

// Load reads, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "upwatch.db"
	}
	if cfg.Storage.MaxConns == 0 {
		cfg.Storage.MaxConns = 10
	}
	if cfg.Storage.QueryTimeout.Duration == 0 {
		cfg.Storage.QueryTimeout = Duration{2 * time.Second}
	}

	if cfg.Scheduler.Tick.Duration == 0 {
		cfg.Scheduler.Tick = Duration{time.Second}
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 32
	}
	if cfg.Scheduler.SinkAttempts == 0 {
		cfg.Scheduler.SinkAttempts = 4
	}
	if cfg.Scheduler.SinkBackoff.Duration == 0 {
		cfg.Scheduler.SinkBackoff = Duration{200 * time.Millisecond}
	}
	if cfg.Scheduler.Window.Duration == 0 {
		cfg.Scheduler.Window = Duration{24 * time.Hour}
	}

	if cfg.Probe.Timeout.Duration == 0 {
		cfg.Probe.Timeout = Duration{10 * time.Second}
	}
	if cfg.Probe.Method == "" {
		cfg.Probe.Method = "GET"
	}
	if cfg.Probe.MaxBodyBytes == 0 {
		cfg.Probe.MaxBodyBytes = 64 << 10
	}
	if cfg.Probe.VerifyTLS == nil {
		t := true
		cfg.Probe.VerifyTLS = &t
	}
	if cfg.Probe.FollowRedirects == nil {
		t := true
		cfg.Probe.FollowRedirects = &t
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	for i := range cfg.Monitors {
		if cfg.Monitors[i].Interval == 0 {
			cfg.Monitors[i].Interval = 5
		}
	}
}

func validate(cfg *Config) error {
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage: invalid driver %q (must be sqlite or postgres)", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage: dsn is required for the postgres driver")
	}
	if cfg.Scheduler.Tick.Duration < 0 {
		return fmt.Errorf("scheduler: tick must be positive, got %v", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler: workers must be at least 1, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.SinkAttempts < 1 {
		return fmt.Errorf("scheduler: sink_attempts must be at least 1, got %d", cfg.Scheduler.SinkAttempts)
	}
	if cfg.Probe.Timeout.Duration <= 0 || cfg.Probe.Timeout.Duration >= time.Minute {
		return fmt.Errorf("probe: timeout must be between 0 and 1m, got %v", cfg.Probe.Timeout)
	}
	if !validMethods[cfg.Probe.Method] {
		return fmt.Errorf("probe: invalid method %q (must be GET or HEAD)", cfg.Probe.Method)
	}

	names := make(map[string]bool, len(cfg.Monitors))
	for i, m := range cfg.Monitors {
		if m.Name == "" {
			return fmt.Errorf("monitor[%d]: name is required", i)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate monitor name %q", m.Name)
		}
		names[m.Name] = true
		seed := monitor.Monitor{Name: m.Name, URL: m.URL, IntervalMinutes: m.Interval, UserID: m.UserID}
		if err := seed.Validate(); err != nil {
			return fmt.Errorf("monitor %q: %w", m.Name, err)
		}
	}
	return nil
}
