// internal/config/config.go
// YAML configuration for the resource engine
//
// LEARN: Load starts from Default() and unmarshals the file on top of it,
// so a config file only needs the keys it changes. yaml.v3 decodes
// strings like "5m" straight into time.Duration fields.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/internal/monitor"
	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Config is the complete engine configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	Pool      PoolConfig      `yaml:"pool"`
	Cache     CacheConfig     `yaml:"cache"`
	Ring      RingConfig      `yaml:"ring"`
	Leak      LeakConfig      `yaml:"leak"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuditConfig selects the lifecycle journal. An empty File disables it.
type AuditConfig struct {
	File string `yaml:"file"`
}

// PoolConfig sizes the two standard pools: drawing surfaces and numeric
// series buffers.
type PoolConfig struct {
	SurfaceMaxSize int `yaml:"surface_max_size"`
	SurfaceWidth   int `yaml:"surface_width"`
	SurfaceHeight  int `yaml:"surface_height"`
	BufferMaxSize  int `yaml:"buffer_max_size"`
	BufferLength   int `yaml:"buffer_length"`
}

type CacheInstance struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// CacheConfig configures the computation and processed-data caches.
type CacheConfig struct {
	Computations CacheInstance `yaml:"computations"`
	Data         CacheInstance `yaml:"data"`
}

// RingConfig configures transport buffers. Shared segments are created
// under Dir.
type RingConfig struct {
	Dir         string `yaml:"dir"`
	DefaultSize int    `yaml:"default_size"`
}

type PatternConfig struct {
	MinAge   time.Duration `yaml:"min_age"`
	MaxIdle  time.Duration `yaml:"max_idle"`
	MaxCount int           `yaml:"max_count"`
}

// LeakConfig exposes every detector heuristic. Patterns is keyed by kind
// name (event_listener, timer, ...).
type LeakConfig struct {
	DetectInterval          time.Duration            `yaml:"detect_interval"`
	OrphanAge               time.Duration            `yaml:"orphan_age"`
	OrphanIdle              time.Duration            `yaml:"orphan_idle"`
	Retention               time.Duration            `yaml:"retention"`
	FragmentationMinSamples int                      `yaml:"fragmentation_min_samples"`
	FragmentationMinMean    float64                  `yaml:"fragmentation_min_mean_bytes"`
	FragmentationRatio      float64                  `yaml:"fragmentation_ratio"`
	Patterns                map[string]PatternConfig `yaml:"patterns"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type MonitorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	HistorySize  int           `yaml:"history_size"`
	UsageBytes   uint64        `yaml:"usage_bytes"`
	GrowthRate   float64       `yaml:"growth_rate"`
	GrowthWindow time.Duration `yaml:"growth_window"`
	Sustain      time.Duration `yaml:"sustain"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	lt := leak.DefaultThresholds()
	patterns := make(map[string]PatternConfig, len(lt.Patterns))
	for k, r := range lt.Patterns {
		patterns[k.String()] = PatternConfig{MinAge: r.MinAge, MaxIdle: r.MaxIdle, MaxCount: r.MaxCount}
	}
	mt := monitor.DefaultThresholds()

	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			SurfaceMaxSize: 16,
			SurfaceWidth:   300,
			SurfaceHeight:  150,
			BufferMaxSize:  32,
			BufferLength:   1024,
		},
		Cache: CacheConfig{
			Computations: CacheInstance{TTL: 5 * time.Minute, MaxSize: 1000},
			Data:         CacheInstance{TTL: time.Minute, MaxSize: 200},
		},
		Ring: RingConfig{
			Dir:         os.TempDir(),
			DefaultSize: 1 << 20,
		},
		Leak: LeakConfig{
			DetectInterval:          time.Minute,
			OrphanAge:               lt.OrphanAge,
			OrphanIdle:              lt.OrphanIdle,
			Retention:               lt.Retention,
			FragmentationMinSamples: lt.FragmentationMinSamples,
			FragmentationMinMean:    lt.FragmentationMinMean,
			FragmentationRatio:      lt.FragmentationRatio,
			Patterns:                patterns,
		},
		Scheduler: SchedulerConfig{SweepInterval: 30 * time.Second},
		Monitor: MonitorConfig{
			Enabled:      true,
			Interval:     5 * time.Second,
			HistorySize:  monitor.DefaultHistorySize,
			UsageBytes:   mt.UsageBytes,
			GrowthRate:   mt.GrowthRate,
			GrowthWindow: mt.GrowthWindow,
			Sustain:      mt.Sustain,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges. Every error wraps errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field, msg string) {
		if !ok {
			errs = append(errs, errors.WrapValidationError(field, fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg)))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		check(false, "log_level", "must be one of debug, info, warn, error")
	}
	check(c.Server.Addr != "", "server.addr", "must not be empty")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout", "must be positive")

	check(c.Pool.SurfaceMaxSize > 0, "pool.surface_max_size", "must be positive")
	check(c.Pool.SurfaceWidth > 0 && c.Pool.SurfaceHeight > 0, "pool.surface_width", "surface dimensions must be positive")
	check(c.Pool.BufferMaxSize > 0, "pool.buffer_max_size", "must be positive")
	check(c.Pool.BufferLength > 0, "pool.buffer_length", "must be positive")

	check(c.Cache.Computations.TTL > 0, "cache.computations.ttl", "must be positive")
	check(c.Cache.Computations.MaxSize > 0, "cache.computations.max_size", "must be positive")
	check(c.Cache.Data.TTL > 0, "cache.data.ttl", "must be positive")
	check(c.Cache.Data.MaxSize > 0, "cache.data.max_size", "must be positive")

	check(c.Ring.DefaultSize > 0, "ring.default_size", "must be positive")

	check(c.Leak.OrphanAge > 0, "leak.orphan_age", "must be positive")
	check(c.Leak.OrphanIdle > 0, "leak.orphan_idle", "must be positive")
	check(c.Leak.Retention > 0, "leak.retention", "must be positive")
	check(c.Leak.FragmentationMinSamples >= 2, "leak.fragmentation_min_samples", "must be at least 2")
	check(c.Leak.FragmentationRatio > 0, "leak.fragmentation_ratio", "must be positive")
	for name, p := range c.Leak.Patterns {
		field := "leak.patterns." + name
		check(leak.ParseKind(name) != leak.KindGeneric, field, "unknown kind")
		check(p.MinAge >= 0 && p.MaxIdle >= 0 && p.MaxCount >= 0, field, "must not be negative")
	}

	check(c.Scheduler.SweepInterval > 0, "scheduler.sweep_interval", "must be positive")

	check(c.Monitor.Interval > 0, "monitor.interval", "must be positive")
	check(c.Monitor.HistorySize > 0, "monitor.history_size", "must be positive")
	check(c.Monitor.GrowthRate >= 0, "monitor.growth_rate", "must not be negative")
	check(c.Monitor.Sustain >= 0, "monitor.sustain", "must not be negative")

	return errors.Join(errs...)
}

// LeakThresholds converts the leak section to detector thresholds.
func (c *Config) LeakThresholds() leak.Thresholds {
	th := leak.Thresholds{
		OrphanAge:               c.Leak.OrphanAge,
		OrphanIdle:              c.Leak.OrphanIdle,
		Retention:               c.Leak.Retention,
		FragmentationMinSamples: c.Leak.FragmentationMinSamples,
		FragmentationMinMean:    c.Leak.FragmentationMinMean,
		FragmentationRatio:      c.Leak.FragmentationRatio,
	}
	if c.Leak.Patterns != nil {
		th.Patterns = make(map[leak.Kind]leak.PatternRule, len(c.Leak.Patterns))
		for name, p := range c.Leak.Patterns {
			th.Patterns[leak.ParseKind(name)] = leak.PatternRule{MinAge: p.MinAge, MaxIdle: p.MaxIdle, MaxCount: p.MaxCount}
		}
	}
	return th
}

// MonitorThresholds converts the monitor section to alert thresholds.
func (c *Config) MonitorThresholds() monitor.Thresholds {
	return monitor.Thresholds{
		UsageBytes:   c.Monitor.UsageBytes,
		GrowthRate:   c.Monitor.GrowthRate,
		GrowthWindow: c.Monitor.GrowthWindow,
		Sustain:      c.Monitor.Sustain,
	}
}
