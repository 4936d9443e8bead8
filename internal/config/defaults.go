package config

import "time"

// DefaultConfig returns the protocol's default timing, fully populated
// so a daemon can start with no config file present at all.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any unspecified (zero-valued) fields of cfg with
// the defaults below. It is called after unmarshalling a config file
// so partial files only need to name what they override.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applySocketDefaults(&cfg.Socket)
	applyDeltaLeaseDefaults(&cfg.DeltaLease)
	applyPaxosDefaults(&cfg.Paxos)
	applyLeaseMgrDefaults(&cfg.LeaseMgr)
	applyWatchdogDefaults(&cfg.Watchdog, cfg.DeltaLease)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sanlockd"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applySocketDefaults(cfg *SocketConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultSocketPath
	}
	if cfg.Mode == 0 {
		cfg.Mode = 0660
	}
}

// applyDeltaLeaseDefaults applies the protocol's default timing:
// io_timeout=10s, host_id_renewal=5s, host_id_renewal_fail=40s,
// host_id_timeout=80s.
func applyDeltaLeaseDefaults(cfg *DeltaLeaseConfig) {
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	if cfg.HostIDRenewal == 0 {
		cfg.HostIDRenewal = 5 * time.Second
	}
	if cfg.HostIDRenewalFail == 0 {
		cfg.HostIDRenewalFail = 40 * time.Second
	}
	if cfg.HostIDTimeout == 0 {
		cfg.HostIDTimeout = 80 * time.Second
	}
}

func applyPaxosDefaults(cfg *PaxosConfig) {
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	if cfg.MaxHosts == 0 {
		cfg.MaxHosts = 2000
	}
}

func applyLeaseMgrDefaults(cfg *LeaseMgrConfig) {
	if cfg.MaxLeases == 0 {
		cfg.MaxLeases = 8
	}
	if cfg.SaveWindow == 0 {
		cfg.SaveWindow = 10 * time.Second
	}
}

// applyWatchdogDefaults sets fire_timeout so that, together with the
// delta-lease section's host_id_renewal_fail, it exactly fills
// host_id_timeout per the watchdog timing budget invariant.
func applyWatchdogDefaults(cfg *WatchdogConfig, dl DeltaLeaseConfig) {
	if cfg.Device == "" {
		cfg.Device = "/dev/watchdog"
	}
	if cfg.FireTimeout == 0 {
		cfg.FireTimeout = dl.HostIDTimeout - dl.HostIDRenewalFail
	}
}
