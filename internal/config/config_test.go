// internal/config/config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaaliswooden-max/resmem/internal/leak"
	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	th := cfg.LeakThresholds()
	assert.Equal(t, leak.DefaultThresholds(), th)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resmem.yaml")
	data := []byte(`
log_level: debug
server:
  addr: ":9090"
cache:
  computations:
    ttl: 30s
leak:
  orphan_age: 20m
  patterns:
    timer:
      min_age: 1m
      max_idle: 30s
      max_count: 5
monitor:
  usage_bytes: 1073741824
  sustain: 15s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Cache.Computations.TTL)
	assert.Equal(t, 1000, cfg.Cache.Computations.MaxSize, "unset keys keep defaults")
	assert.Equal(t, 20*time.Minute, cfg.Leak.OrphanAge)

	th := cfg.LeakThresholds()
	assert.Equal(t, leak.PatternRule{MinAge: time.Minute, MaxIdle: 30 * time.Second, MaxCount: 5}, th.Patterns[leak.KindTimer])
	assert.Equal(t, 100, th.Patterns[leak.KindEventListener].MaxCount, "other patterns keep defaults")

	mt := cfg.MonitorThresholds()
	assert.Equal(t, uint64(1<<30), mt.UsageBytes)
	assert.Equal(t, 15*time.Second, mt.Sustain)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero pool", func(c *Config) { c.Pool.SurfaceMaxSize = 0 }, "pool.surface_max_size"},
		{"zero ttl", func(c *Config) { c.Cache.Data.TTL = 0 }, "cache.data.ttl"},
		{"zero ring", func(c *Config) { c.Ring.DefaultSize = 0 }, "ring.default_size"},
		{"few samples", func(c *Config) { c.Leak.FragmentationMinSamples = 1 }, "leak.fragmentation_min_samples"},
		{"unknown kind", func(c *Config) { c.Leak.Patterns["widget"] = PatternConfig{} }, "leak.patterns.widget"},
		{"negative sustain", func(c *Config) { c.Monitor.Sustain = -time.Second }, "monitor.sustain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("pool:\n  buffer_length: -1\n"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
