// Package config loads daemon configuration from YAML, with defaults and
// environment-variable overrides, following the same
// DefaultConfig/LoadFromFile/LoadFromEnv shape used across the platform.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig holds per-profile worker pool sizing and timeouts.
type PoolConfig struct {
	MinSize         int           `yaml:"min_size"`
	MaxSize         int           `yaml:"max_size"`
	MaxCallsPerVM   int           `yaml:"max_calls_per_vm"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	MaintenanceTick time.Duration `yaml:"maintenance_tick"`
}

// HypervisorConfig points at the binary and boot images the firecracker
// driver shells out to.
type HypervisorConfig struct {
	Binary      string `yaml:"binary"`
	KernelPath  string `yaml:"kernel_path"`
	RootfsDir   string `yaml:"rootfs_dir"`
	SnapshotDir string `yaml:"snapshot_dir"`
	Native      bool   `yaml:"native"` // true: AF_VSOCK; false: loopback TCP (dev/stub)
}

// DaemonConfig holds the supervisor daemon's own listener settings.
type DaemonConfig struct {
	ControlAddr string `yaml:"control_addr"` // gRPC control-plane listen address
	LogLevel    string `yaml:"log_level"`
}

// TracingConfig mirrors observability.Config, kept separate so the config
// package has no dependency on observability.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig controls the Prometheus /metrics surface.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig is the invocation-log store's connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is the L2 profile->snapshot cache's connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SnapshotStoreConfig is the S3 archival backend's settings.
type SnapshotStoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// Config is the full daemon configuration.
type Config struct {
	Daemon        DaemonConfig        `yaml:"daemon"`
	Pool          PoolConfig          `yaml:"pool"`
	Hypervisor    HypervisorConfig    `yaml:"hypervisor"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Redis         RedisConfig         `yaml:"redis"`
	SnapshotStore SnapshotStoreConfig `yaml:"snapshot_store"`
}

// DefaultConfig returns the configuration used when no file is supplied and
// no overrides apply.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ControlAddr: "127.0.0.1:9090",
			LogLevel:    "INFO",
		},
		Pool: PoolConfig{
			MinSize:         1,
			MaxSize:         8,
			MaxCallsPerVM:   1000,
			IdleTimeout:     5 * time.Minute,
			StartupTimeout:  10 * time.Second,
			AcquireTimeout:  10 * time.Second,
			MaintenanceTick: 60 * time.Second,
		},
		Hypervisor: HypervisorConfig{
			Binary:      "/usr/bin/firecracker",
			SnapshotDir: "/var/lib/capsule/snapshots",
			Native:      true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "capsule",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9100",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, applied on top of
// DefaultConfig so unspecified fields keep their default value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg, in the same
// spirit as the platform's NOVA_* override convention.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CAPSULE_CONTROL_ADDR"); v != "" {
		cfg.Daemon.ControlAddr = v
	}
	if v := os.Getenv("CAPSULE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("CAPSULE_FIRECRACKER_BIN"); v != "" {
		cfg.Hypervisor.Binary = v
	}
	if v := os.Getenv("CAPSULE_KERNEL_PATH"); v != "" {
		cfg.Hypervisor.KernelPath = v
	}
	if v := os.Getenv("CAPSULE_ROOTFS_DIR"); v != "" {
		cfg.Hypervisor.RootfsDir = v
	}
	if v := os.Getenv("CAPSULE_SNAPSHOT_DIR"); v != "" {
		cfg.Hypervisor.SnapshotDir = v
	}
	if v := os.Getenv("CAPSULE_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("CAPSULE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CAPSULE_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("CAPSULE_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("CAPSULE_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStore.Enabled = true
		cfg.SnapshotStore.Bucket = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
