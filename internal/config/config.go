// Package config loads the daemon's static configuration: logging,
// telemetry, the delta-lease and Disk-Paxos timing knobs, and the
// lease manager's per-PID limits.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SANLOCKD_*), for keys the file also sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// When no configuration file is found, Load returns the defaults without
// reading the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's full static configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long the daemon waits for in-flight
	// commands to finish before forcing a shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Socket configures the daemon's local client-protocol listener.
	Socket SocketConfig `mapstructure:"socket" yaml:"socket"`

	// DeltaLease holds the delta-lease protocol's configured durations.
	DeltaLease DeltaLeaseConfig `mapstructure:"delta_lease" yaml:"delta_lease"`

	// Paxos holds the Disk-Paxos engine's per-resource settings.
	Paxos PaxosConfig `mapstructure:"paxos" yaml:"paxos"`

	// LeaseMgr holds the in-memory lease manager's limits.
	LeaseMgr LeaseMgrConfig `mapstructure:"lease_manager" yaml:"lease_manager"`

	// Watchdog configures the fencing watchdog client.
	Watchdog WatchdogConfig `mapstructure:"watchdog" yaml:"watchdog"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When
// Enabled is false, no tracer provider is installed and span recording
// is a no-op.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection to Endpoint.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// ServiceName is the resource attribute reported to the collector.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SocketConfig configures the daemon's local client-protocol listener.
type SocketConfig struct {
	// Path is the Unix domain socket path clients connect to.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Mode is the socket file's permission bits, e.g. 0660.
	Mode uint32 `mapstructure:"mode" yaml:"mode"`
}

// DeltaLeaseConfig holds the delta-lease protocol's configured durations.
type DeltaLeaseConfig struct {
	IOTimeout         time.Duration `mapstructure:"io_timeout" validate:"required,gt=0" yaml:"io_timeout"`
	HostIDRenewal     time.Duration `mapstructure:"host_id_renewal" validate:"required,gt=0" yaml:"host_id_renewal"`
	HostIDRenewalFail time.Duration `mapstructure:"host_id_renewal_fail" validate:"required,gt=0" yaml:"host_id_renewal_fail"`
	HostIDTimeout     time.Duration `mapstructure:"host_id_timeout" validate:"required,gt=0" yaml:"host_id_timeout"`
}

// PaxosConfig holds the Disk-Paxos engine's per-resource settings.
type PaxosConfig struct {
	// IOTimeout bounds each leader/dblock read or write.
	IOTimeout time.Duration `mapstructure:"io_timeout" validate:"required,gt=0" yaml:"io_timeout"`

	// MaxHosts is the residue-class modulus ballot numbers are chosen
	// from; it must match the lockspace's configured host capacity.
	MaxHosts uint64 `mapstructure:"max_hosts" validate:"required,min=1" yaml:"max_hosts"`
}

// LeaseMgrConfig holds the in-memory lease manager's limits.
type LeaseMgrConfig struct {
	// MaxLeases bounds how many resources a single PID may hold tokens
	// for concurrently.
	MaxLeases int `mapstructure:"max_leases" validate:"required,min=1" yaml:"max_leases"`

	// SaveWindow is how long a released-with-remember token stays
	// claimable by a sibling PID of the same owner.
	SaveWindow time.Duration `mapstructure:"save_window" validate:"required,gt=0" yaml:"save_window"`
}

// WatchdogConfig configures the fencing watchdog client.
type WatchdogConfig struct {
	// Device is the watchdog character device path, e.g. /dev/watchdog.
	Device string `mapstructure:"device" yaml:"device"`

	// FireTimeout is how long the watchdog waits after its last poke
	// before firing. renewal_fail + fire_timeout must equal
	// host_id_timeout; Validate enforces this budget.
	FireTimeout time.Duration `mapstructure:"fire_timeout" validate:"required,gt=0" yaml:"fire_timeout"`
}

// Load reads configuration from file, environment, and defaults, then
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if !found {
		return cfg, nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration, returning a user-facing error with
// instructions if the named file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"create one, or pass --config /path/to/config.yaml", configPath)
		}
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfigPath is where Load looks for a config file when none is
// given explicitly, and where the init command writes one by default.
const DefaultConfigPath = "/etc/sanlockd/config.yaml"

// DefaultSocketPath is the local client-protocol socket path used when
// a config file doesn't override it. Both the daemon and the CLI
// client fall back to this so a bare "sanlockc" just works against a
// bare "sanlockd start".
const DefaultSocketPath = "/var/run/sanlock/sanlock.sock"

// SaveConfig writes cfg to path in YAML form with restricted permissions.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation over cfg and cross-field checks
// that validator tags can't express, such as the watchdog timing
// budget (renewal_fail + fire_timeout == host_id_timeout).
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	budget := cfg.DeltaLease.HostIDRenewalFail + cfg.Watchdog.FireTimeout
	if budget != cfg.DeltaLease.HostIDTimeout {
		return fmt.Errorf("watchdog timing budget violated: host_id_renewal_fail (%s) + fire_timeout (%s) = %s, want host_id_timeout (%s)",
			cfg.DeltaLease.HostIDRenewalFail, cfg.Watchdog.FireTimeout, budget, cfg.DeltaLease.HostIDTimeout)
	}
	if cfg.DeltaLease.HostIDRenewal >= cfg.DeltaLease.HostIDRenewalFail {
		return fmt.Errorf("delta_lease.host_id_renewal (%s) must be less than host_id_renewal_fail (%s)",
			cfg.DeltaLease.HostIDRenewal, cfg.DeltaLease.HostIDRenewalFail)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SANLOCKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("/etc/sanlockd")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}
