// Package config loads and validates pipeline configuration.
//
// Configuration comes from an optional YAML file plus PULSE_* environment
// overrides. Validation is strict: an invalid threshold or an empty sink
// list is a startup error, never a silently patched value — the pipeline
// refuses to run in a partial configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/pulse/internal/model"
)

// Config holds all Pulse configuration.
type Config struct {
	Sampling SamplingConfig  `yaml:"sampling"`
	Buffer   BufferConfig    `yaml:"buffer"`
	Breaker  BreakerConfig   `yaml:"circuit_breaker"`
	Sinks    []SinkConfig    `yaml:"sinks"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Health   HealthConfig    `yaml:"health"`
	Logging  LoggingConfig   `yaml:"logging"`
	Scrub    ScrubbingConfig `yaml:"scrubbing"`
}

// SamplingConfig controls the admission gate.
type SamplingConfig struct {
	// Rates maps severity name to a sample rate in [0,1].
	Rates map[string]float64 `yaml:"rates"`
	// RateLimitCapacity is the token bucket capacity per severity.
	RateLimitCapacity float64 `yaml:"rate_limit_capacity"`
	// RateLimitRefillPerSecond is the bucket refill rate per severity.
	RateLimitRefillPerSecond float64 `yaml:"rate_limit_refill_per_second"`
	// BypassFloor names the severity at or above which rate limiting is
	// skipped entirely.
	BypassFloor string `yaml:"bypass_floor"`
	// StormDropRatio is the sliding-window drop ratio that opens the storm
	// breaker.
	StormDropRatio float64 `yaml:"storm_drop_ratio"`
	// StormWindow is how many recent admission decisions the ratio is
	// computed over.
	StormWindow int `yaml:"storm_window"`
}

// BufferConfig controls the dispatcher's in-memory buffer and batching.
type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	MaxBytes      int           `yaml:"max_bytes"`
	FlushSize     int           `yaml:"flush_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Workers       int           `yaml:"workers"`
	// NeverDropFloor names the severity at or above which a full buffer
	// triggers the emergency synchronous path instead of a drop.
	NeverDropFloor string `yaml:"never_drop_floor"`
	// EmergencyTimeout bounds the synchronous emergency delivery attempt.
	EmergencyTimeout time.Duration `yaml:"emergency_timeout"`
	// DrainTimeout bounds the shutdown flush.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// BreakerConfig holds shared circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// SinkConfig describes one delivery destination. Order matters: the first
// entry is the primary, later entries are its failover backups.
type SinkConfig struct {
	Name string `yaml:"name"`
	// Type selects a registered sink constructor: "file", "webhook",
	// "redis", "stdout".
	Type string `yaml:"type"`
	// Target is the type-specific destination (path, URL, redis address).
	Target string `yaml:"target"`
	// Timeout bounds each Deliver call.
	Timeout time.Duration     `yaml:"timeout"`
	Options map[string]string `yaml:"options"`
}

// MetricsConfig controls the extraction side channel.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// TapSize is the capacity of the tap channel between the pipeline and
	// the extractor.
	TapSize int `yaml:"tap_size"`
	// RedisAddr, when set, enables time-series export to redis.
	RedisAddr      string        `yaml:"redis_addr"`
	ExportInterval time.Duration `yaml:"export_interval"`
	// AnomalyZScore is the threshold above which a sample is flagged.
	AnomalyZScore float64 `yaml:"anomaly_z_score"`
}

// HealthConfig controls the introspection endpoint.
type HealthConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig controls the pipeline's own diagnostics.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ScrubbingConfig overrides the built-in redaction and threat patterns.
type ScrubbingConfig struct {
	// ExtraPatterns are additional redaction regexps appended after the
	// built-in list.
	ExtraPatterns []string `yaml:"extra_patterns"`
}

// Default returns the configuration used when no file is present. Sample
// rates mirror the severity ladder: everything at error and above is always
// kept, informational traffic is progressively thinned.
func Default() Config {
	return Config{
		Sampling: SamplingConfig{
			Rates: map[string]float64{
				"trace":    0.05,
				"debug":    0.1,
				"info":     0.5,
				"warning":  0.8,
				"error":    1.0,
				"critical": 1.0,
			},
			RateLimitCapacity:        10,
			RateLimitRefillPerSecond: 1,
			BypassFloor:              "critical",
			StormDropRatio:           0.5,
			StormWindow:              200,
		},
		Buffer: BufferConfig{
			MaxSize:          1000,
			MaxBytes:         4 << 20,
			FlushSize:        100,
			FlushInterval:    5 * time.Second,
			Workers:          2,
			NeverDropFloor:   "error",
			EmergencyTimeout: 500 * time.Millisecond,
			DrainTimeout:     5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CoolDown:         time.Minute,
		},
		Sinks: []SinkConfig{
			{Name: "stdout", Type: "stdout", Timeout: time.Second},
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			TapSize:        1024,
			ExportInterval: 30 * time.Second,
			AnomalyZScore:  3.0,
		},
		Health:  HealthConfig{ListenAddr: ""},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path (optional — a missing file yields
// defaults), applies environment overrides, and validates. Any validation
// failure is returned as an error; callers must treat it as fatal.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would leave the pipeline undefined.
func (c Config) Validate() error {
	for name, rate := range c.Sampling.Rates {
		if _, ok := severityNames[name]; !ok {
			return fmt.Errorf("config: unknown severity %q in sampling.rates", name)
		}
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config: sampling rate for %s must be in [0,1], got %v", name, rate)
		}
	}
	if c.Sampling.RateLimitCapacity <= 0 {
		return fmt.Errorf("config: rate_limit_capacity must be positive, got %v", c.Sampling.RateLimitCapacity)
	}
	if c.Sampling.RateLimitRefillPerSecond <= 0 {
		return fmt.Errorf("config: rate_limit_refill_per_second must be positive, got %v", c.Sampling.RateLimitRefillPerSecond)
	}
	if c.Sampling.StormDropRatio <= 0 || c.Sampling.StormDropRatio > 1 {
		return fmt.Errorf("config: storm_drop_ratio must be in (0,1], got %v", c.Sampling.StormDropRatio)
	}
	if c.Buffer.MaxSize <= 0 {
		return fmt.Errorf("config: buffer.max_size must be positive, got %d", c.Buffer.MaxSize)
	}
	if c.Buffer.FlushSize <= 0 || c.Buffer.FlushSize > c.Buffer.MaxSize {
		return fmt.Errorf("config: buffer.flush_size must be in (0, max_size], got %d", c.Buffer.FlushSize)
	}
	if c.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("config: buffer.flush_interval must be positive, got %v", c.Buffer.FlushInterval)
	}
	if c.Buffer.Workers <= 0 {
		return fmt.Errorf("config: buffer.workers must be positive, got %d", c.Buffer.Workers)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: circuit_breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.CoolDown <= 0 {
		return fmt.Errorf("config: circuit_breaker.cool_down must be positive, got %v", c.Breaker.CoolDown)
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("config: at least one sink is required")
	}
	seen := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("config: sinks[%d] has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate sink name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Type == "" {
			return fmt.Errorf("config: sink %q has no type", s.Name)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("config: sink %q needs a positive timeout", s.Name)
		}
	}
	if c.Metrics.Enabled && c.Metrics.TapSize <= 0 {
		return fmt.Errorf("config: metrics.tap_size must be positive, got %d", c.Metrics.TapSize)
	}
	return nil
}

// SampleRate returns the configured rate for a severity, defaulting to 1.
func (c Config) SampleRate(s model.Severity) float64 {
	if rate, ok := c.Sampling.Rates[s.String()]; ok {
		return rate
	}
	return 1.0
}

var severityNames = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {},
	"warning": {}, "error": {}, "critical": {},
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PULSE_HEALTH_ADDR"); v != "" {
		cfg.Health.ListenAddr = v
	}
	if v := os.Getenv("PULSE_METRICS_REDIS_ADDR"); v != "" {
		cfg.Metrics.RedisAddr = v
	}
	if v := getenvInt("PULSE_BUFFER_MAX_SIZE"); v > 0 {
		cfg.Buffer.MaxSize = v
	}
	if v := getenvInt("PULSE_BUFFER_WORKERS"); v > 0 {
		cfg.Buffer.Workers = v
	}
}

func getenvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
