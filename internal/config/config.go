// Package config loads offsetd and offsetctl settings from an optional YAML
// file and OFFSETCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "OFFSETCORE"

// FileEnv names the variable pointing at an optional YAML config file.
const FileEnv = EnvPrefix + "_CONFIG_FILE"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Robot   RobotConfig   `yaml:"robot"`
	Jog     JogConfig     `yaml:"jog"`
	Blob    BlobConfig    `yaml:"blob"`
	Exports ExportsConfig `yaml:"exports"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `split_words:"true" yaml:"addr"`
	ShutdownTimeout time.Duration `split_words:"true" yaml:"shutdownTimeout"`
}

// StorageConfig selects where applied offsets are persisted. DBPath is the
// SQLite database file.
type StorageConfig struct {
	Driver      string `split_words:"true" yaml:"driver"` // memory|sqlite|postgres|robot
	DBPath      string `split_words:"true" yaml:"dbPath"`
	PostgresDSN string `split_words:"true" yaml:"postgresDSN"`
}

// RobotConfig points at the robot's HTTP API. Jogs and command chains go
// to MaintenanceRunID and move PipetteID.
type RobotConfig struct {
	BaseURL          string        `split_words:"true" yaml:"baseURL"`
	Timeout          time.Duration `split_words:"true" yaml:"timeout"`
	MaintenanceRunID string        `split_words:"true" yaml:"maintenanceRunID"`
	PipetteID        string        `split_words:"true" yaml:"pipetteID"`
}

// JogConfig bounds outstanding jog requests.
type JogConfig struct {
	MaxOutstanding int64 `split_words:"true" yaml:"maxOutstanding"`
}

// BlobConfig selects the store for exported run reports.
type BlobConfig struct {
	Driver     string `split_words:"true" yaml:"driver"` // fs|memory|s3
	FSRoot     string `split_words:"true" yaml:"fsRoot"`
	S3Bucket   string `split_words:"true" yaml:"s3Bucket"`
	S3Region   string `split_words:"true" yaml:"s3Region"`
	S3Endpoint string `split_words:"true" yaml:"s3Endpoint"`
	S3Prefix   string `split_words:"true" yaml:"s3Prefix"`
	// S3PathStyle is needed for MinIO style endpoints.
	S3PathStyle bool `split_words:"true" yaml:"s3PathStyle"`
}

// ExportsConfig sizes the export worker.
type ExportsConfig struct {
	Workers   int `split_words:"true" yaml:"workers"`
	QueueSize int `split_words:"true" yaml:"queueSize"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `split_words:"true" yaml:"level"`
	Development bool   `split_words:"true" yaml:"development"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `split_words:"true" yaml:"enabled"`
	Path    string `split_words:"true" yaml:"path"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8088", ShutdownTimeout: 10 * time.Second},
		Storage: StorageConfig{Driver: "sqlite", DBPath: "offsetcore.db"},
		Robot:   RobotConfig{BaseURL: "http://localhost:31950", Timeout: 30 * time.Second},
		Jog:     JogConfig{MaxOutstanding: 3},
		Blob:    BlobConfig{Driver: "fs", FSRoot: "exports"},
		Exports: ExportsConfig{Workers: 1, QueueSize: 16},
		Logging: LogConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load starts from Default, overlays the YAML file named by
// OFFSETCORE_CONFIG_FILE when set, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite", "robot":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgresDSN required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("blob.s3Bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Jog.MaxOutstanding <= 0 {
		errs = append(errs, errors.New("jog.maxOutstanding must be positive"))
	}
	if c.Exports.Workers <= 0 {
		errs = append(errs, errors.New("exports.workers must be positive"))
	}
	return errors.Join(errs...)
}
