package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"attendance-bridge/internal/adapters/biometric"
	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/protocol"
)

// Config represents the bridge configuration
type Config struct {
	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Database configuration
	DatabasePath  string `mapstructure:"database_path"`
	EncryptionKey string `mapstructure:"encryption_key"`

	// Device communication
	DeviceTimeout int                        `mapstructure:"device_timeout"` // seconds
	Retry         biometric.ConnectionPolicy `mapstructure:"retry"`
	Timezone      string                     `mapstructure:"timezone"`

	Sync  SyncConfig  `mapstructure:"sync"`
	API   APIConfig   `mapstructure:"api"`
	Redis RedisConfig `mapstructure:"redis"`

	// Terminals managed by this bridge
	Devices []DeviceConfig `mapstructure:"devices"`
}

// SyncConfig controls the periodic device sync
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	Shift        ShiftConfig   `mapstructure:"shift"`
}

// ShiftConfig is the working schedule used to classify punches
type ShiftConfig struct {
	Name     string        `mapstructure:"name"`
	Start    string        `mapstructure:"start"` // HH:MM
	End      string        `mapstructure:"end"`   // HH:MM
	GraceIn  time.Duration `mapstructure:"grace_in"`
	GraceOut time.Duration `mapstructure:"grace_out"`
}

// APIConfig holds the HTTP API settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// RedisConfig holds the settings of the sync result publisher
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Queue    string `mapstructure:"queue"`

	// SigningKey, when set, signs every published message with HMAC-SHA256
	SigningKey string `mapstructure:"signing_key"`
}

// DeviceConfig describes one terminal
type DeviceConfig struct {
	ID    string `mapstructure:"id" json:"id"`
	Name  string `mapstructure:"name" json:"name"`
	Brand string `mapstructure:"brand" json:"brand"`
	IP    string `mapstructure:"ip" json:"ip"`
	Port  int    `mapstructure:"port" json:"port"`
	Key   string `mapstructure:"key" json:"-"`
}

// Endpoint returns the network endpoint of the device
func (d DeviceConfig) Endpoint() biometric.Endpoint {
	return biometric.Endpoint{IP: d.IP, Port: d.Port, Key: d.Key}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		LogFile:       "",
		DatabasePath:  "./attendance.db",
		EncryptionKey: "",
		DeviceTimeout: 5,
		Retry: biometric.ConnectionPolicy{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
		Timezone: "Local",
		Sync: SyncConfig{
			Interval:     15 * time.Minute,
			MaxWorkers:   4,
			DedupeWindow: 5 * time.Minute,
			Shift: ShiftConfig{
				Name:     "day",
				Start:    "09:00",
				End:      "17:00",
				GraceIn:  10 * time.Minute,
				GraceOut: 10 * time.Minute,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			Queue:   "attendance:sync",
		},
	}
}

// Load loads configuration from a .env file, the config file and
// environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/attendance-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".attendance-bridge"))
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file, defaults and environment only
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper so every key can be
// overridden from the environment
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("encryption_key", cfg.EncryptionKey)
	v.SetDefault("device_timeout", cfg.DeviceTimeout)
	v.SetDefault("timezone", cfg.Timezone)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.delay", cfg.Retry.Delay)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)

	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.max_workers", cfg.Sync.MaxWorkers)
	v.SetDefault("sync.dedupe_window", cfg.Sync.DedupeWindow)
	v.SetDefault("sync.shift.name", cfg.Sync.Shift.Name)
	v.SetDefault("sync.shift.start", cfg.Sync.Shift.Start)
	v.SetDefault("sync.shift.end", cfg.Sync.Shift.End)
	v.SetDefault("sync.shift.grace_in", cfg.Sync.Shift.GraceIn)
	v.SetDefault("sync.shift.grace_out", cfg.Sync.Shift.GraceOut)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.queue", cfg.Redis.Queue)
	v.SetDefault("redis.signing_key", cfg.Redis.SigningKey)
}

// normalize fills per-device defaults
func (c *Config) normalize() {
	for i := range c.Devices {
		d := &c.Devices[i]
		d.Brand = strings.ToLower(strings.TrimSpace(d.Brand))
		if d.Port == 0 {
			d.Port = protocol.DefaultPort
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}

	if c.DeviceTimeout <= 0 {
		return fmt.Errorf("device_timeout must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay cannot be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Sync.MaxWorkers < 1 {
		return fmt.Errorf("sync.max_workers must be at least 1")
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}

	if _, err := c.Sync.Shift.Shift(); err != nil {
		return err
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true

		if !biometric.IsSupported(d.Brand) {
			return fmt.Errorf("device %s: unsupported brand %q (supported: %s)",
				d.ID, d.Brand, strings.Join(biometric.SupportedBrands(), ", "))
		}
		if err := d.Endpoint().Validate(); err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
	}

	return nil
}

// Location returns the timezone punch timestamps are recorded in
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Device looks up a configured device by id
func (c *Config) Device(id string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// DriverOptions builds the options every driver is created with
func (c *Config) DriverOptions(logger logrus.FieldLogger) biometric.Options {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return biometric.Options{
		Timeout:  time.Duration(c.DeviceTimeout) * time.Second,
		Policy:   c.Retry,
		Location: loc,
		Logger:   logger,
	}
}

// Shift converts the configured schedule
func (s ShiftConfig) Shift() (attendance.Shift, error) {
	start, err := attendance.ParseClock(s.Start)
	if err != nil {
		return attendance.Shift{}, fmt.Errorf("sync.shift.start: %w", err)
	}
	end, err := attendance.ParseClock(s.End)
	if err != nil {
		return attendance.Shift{}, fmt.Errorf("sync.shift.end: %w", err)
	}

	shift := attendance.Shift{
		Name:     s.Name,
		Start:    start,
		End:      end,
		GraceIn:  s.GraceIn,
		GraceOut: s.GraceOut,
	}
	if err := shift.Validate(); err != nil {
		return attendance.Shift{}, err
	}
	return shift, nil
}
