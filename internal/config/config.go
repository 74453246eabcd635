// Package config loads the flat key/value sections spec.md §6 enumerates:
// Store, Bus, SSH, and Timing, plus the ambient Daemon/Observability
// sections carried from the teacher stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds the shared relational store's connection settings.
type StoreConfig struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DSN builds a postgres connection string from the section.
func (s StoreConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", s.User, s.Password, s.Address, s.Database)
}

// BusConfig holds the AMQP bus's connection settings.
type BusConfig struct {
	Address  string `yaml:"address"`
	VHost    string `yaml:"vhost"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// SSHConfig holds the observer's SSH key path for remote start/stop.
type SSHConfig struct {
	Key string `yaml:"ssh_key"`
}

// TimingConfig holds the coordinator's tunable intervals, all expressed in
// seconds in the config file and converted to time.Duration once at load —
// per spec.md §9's redesign note, patience (and every other interval) is a
// single, type-enforced unit throughout the Go code, never a bare int in
// some call sites and a timedelta in others.
type TimingConfig struct {
	TimeBetweenCheckins time.Duration `yaml:"-"`
	GracePeriod         time.Duration `yaml:"-"`
	Patience            time.Duration `yaml:"-"`

	TimeBetweenCheckinsSeconds float64 `yaml:"time_between_checkins"`
	GracePeriodSeconds         float64 `yaml:"grace_period"`
	PatienceSeconds            float64 `yaml:"patience"`
}

func (t *TimingConfig) resolve() {
	t.TimeBetweenCheckins = durationFromSeconds(t.TimeBetweenCheckinsSeconds)
	t.GracePeriod = durationFromSeconds(t.GracePeriodSeconds)
	t.Patience = durationFromSeconds(t.PatienceSeconds)
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DaemonConfig holds process-level settings shared by both binaries.
type DaemonConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TracingConfig mirrors the teacher's OpenTelemetry settings, trimmed to
// what the coordinator/observer actually exercise.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig mirrors the teacher's Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig controls the structured operational logger's format.
type LoggingConfig struct {
	Format string `yaml:"format"`
}

// ObservabilityConfig bundles the ambient tracing/metrics/logging sections.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Config is the root configuration struct for both cmd/coordinator and
// cmd/observer; each binary only reads the sections it needs.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Bus           BusConfig           `yaml:"bus"`
	SSH           SSHConfig           `yaml:"ssh"`
	Timing        TimingConfig        `yaml:"timing"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns sane defaults for local/dev use.
func DefaultConfig() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Address:  "localhost:5432",
			Database: "multischeduler",
			User:     "multischeduler",
			Password: "multischeduler",
		},
		Bus: BusConfig{
			Address: "localhost:5672",
			VHost:   "/",
			User:    "guest",
			Password: "guest",
		},
		Timing: TimingConfig{
			TimeBetweenCheckinsSeconds: 10,
			GracePeriodSeconds:         30,
			PatienceSeconds:            5,
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "multischeduler",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "multischeduler",
			},
			Logging: LoggingConfig{
				Format: "text",
			},
		},
	}
	cfg.Timing.resolve()
	return cfg
}

// LoadFromFile loads configuration from a YAML file, applying it on top of
// DefaultConfig so unset sections keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Timing.resolve()
	return cfg, nil
}

// LoadFromEnv applies MULTISCHED_* environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MULTISCHED_STORE_ADDRESS"); v != "" {
		cfg.Store.Address = v
	}
	if v := os.Getenv("MULTISCHED_STORE_DATABASE"); v != "" {
		cfg.Store.Database = v
	}
	if v := os.Getenv("MULTISCHED_STORE_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("MULTISCHED_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("MULTISCHED_BUS_ADDRESS"); v != "" {
		cfg.Bus.Address = v
	}
	if v := os.Getenv("MULTISCHED_BUS_VHOST"); v != "" {
		cfg.Bus.VHost = v
	}
	if v := os.Getenv("MULTISCHED_BUS_USER"); v != "" {
		cfg.Bus.User = v
	}
	if v := os.Getenv("MULTISCHED_BUS_PASSWORD"); v != "" {
		cfg.Bus.Password = v
	}
	if v := os.Getenv("MULTISCHED_SSH_KEY"); v != "" {
		cfg.SSH.Key = v
	}
	if v := os.Getenv("MULTISCHED_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("MULTISCHED_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("MULTISCHED_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MULTISCHED_TIME_BETWEEN_CHECKINS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timing.TimeBetweenCheckinsSeconds = f
		}
	}
	if v := os.Getenv("MULTISCHED_GRACE_PERIOD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timing.GracePeriodSeconds = f
		}
	}
	if v := os.Getenv("MULTISCHED_PATIENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timing.PatienceSeconds = f
		}
	}
	cfg.Timing.resolve()
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
