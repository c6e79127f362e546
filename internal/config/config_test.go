package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
database_path: /tmp/attendance-test.db
device_timeout: 3
timezone: UTC
retry:
  max_attempts: 5
  delay: 500ms
sync:
  interval: 5m
  max_workers: 2
  shift:
    start: "08:30"
    end: "16:30"
devices:
  - id: front-door
    name: Front Door
    brand: ZKTeco
    ip: 192.168.1.201
    key: "0"
  - id: warehouse
    brand: fingertec
    ip: 192.168.1.202
    port: 5005
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.DeviceTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 4, cfg.Sync.MaxWorkers)
	assert.Empty(t, cfg.Devices)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.DeviceTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.MaxWorkers)

	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Sync.DedupeWindow)
	assert.Equal(t, 8081, cfg.API.Port)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "zkteco", cfg.Devices[0].Brand)
	assert.Equal(t, 4370, cfg.Devices[0].Port)
	assert.Equal(t, "Front Door", cfg.Devices[0].Name)
	assert.Equal(t, "warehouse", cfg.Devices[1].Name)
	assert.Equal(t, 5005, cfg.Devices[1].Port)

	shift, err := cfg.Sync.Shift.Shift()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, shift.Start)
	assert.Equal(t, 10*time.Minute, shift.GraceIn)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("BRIDGE_LOG_LEVEL", "warn")
	t.Setenv("BRIDGE_SYNC_MAX_WORKERS", "8")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Sync.MaxWorkers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBrand(t *testing.T) {
	_, err := Load(writeConfig(t, `
devices:
  - id: gate
    brand: hikvision
    ip: 10.0.0.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported brand")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero timeout", func(c *Config) { c.DeviceTimeout = 0 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"zero workers", func(c *Config) { c.Sync.MaxWorkers = 0 }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad shift", func(c *Config) { c.Sync.Shift.Start = "9am" }},
		{"bad api port", func(c *Config) { c.API.Port = 70000 }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"device without id", func(c *Config) {
			c.Devices = []DeviceConfig{{Brand: "zkteco", IP: "10.0.0.1", Port: 4370}}
		}},
		{"duplicate device", func(c *Config) {
			d := DeviceConfig{ID: "a", Brand: "zkteco", IP: "10.0.0.1", Port: 4370}
			c.Devices = []DeviceConfig{d, d}
		}},
		{"device without ip", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "a", Brand: "zkteco", Port: 4370}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDeviceLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices = []DeviceConfig{{ID: "a", Brand: "zkteco", IP: "10.0.0.1", Port: 4370, Key: "12"}}

	d, ok := cfg.Device("a")
	require.True(t, ok)
	assert.Equal(t, "12", d.Endpoint().Key)

	_, ok = cfg.Device("b")
	assert.False(t, ok)
}

func TestDriverOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.DeviceTimeout = 7

	opts := cfg.DriverOptions(nil)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.Equal(t, time.UTC, opts.Location)
	assert.Equal(t, cfg.Retry, opts.Policy)
}
