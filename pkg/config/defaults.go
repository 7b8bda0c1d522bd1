package config

import "time"

// Default values for configuration fields.
const (
	// DefaultMetricsPort is the default port for Prometheus metrics.
	DefaultMetricsPort = 9090

	// DefaultDebugPort is the default port for the introspection server
	// (0 = disabled).
	DefaultDebugPort = 0

	// DefaultVerbose is the default log level (1 = INFO).
	DefaultVerbose = 1

	// DefaultTCPPort is the default advertised control port.
	DefaultTCPPort = 9876

	// DefaultBackend is the default coordination backend.
	DefaultBackend = BackendMemory

	// DefaultNamespace is the default namespace for the kubernetes backend.
	DefaultNamespace = "default"

	// DefaultHeartbeatInterval is the default leadership heartbeat period.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultRemoteTimeout is how long a remote leader may stay silent by
	// default before eviction.
	DefaultRemoteTimeout = 15 * time.Second
)

// SetDefaults applies default values to unset configuration fields.
// This modifies the config in-place and should be called after parsing
// the configuration and before validation.
func SetDefaults(cfg *Config) {
	if cfg.Node.TCPPort == 0 {
		cfg.Node.TCPPort = DefaultTCPPort
	}

	if cfg.Controller.MetricsPort == 0 {
		cfg.Controller.MetricsPort = DefaultMetricsPort
	}
	// DebugPort 0 means disabled, which is the default.

	// Note: Verbose level 0 is valid (WARNING), so we don't set a default
	// here. The CLI does not read Logging.Verbose; it takes its log level
	// from the VERBOSE environment variable (unset = INFO).

	if cfg.Coordination.Backend == "" {
		cfg.Coordination.Backend = DefaultBackend
	}
	if cfg.Coordination.Namespace == "" {
		cfg.Coordination.Namespace = DefaultNamespace
	}

	if cfg.Election.HeartbeatInterval == "" {
		cfg.Election.HeartbeatInterval = DefaultHeartbeatInterval.String()
	}
	if cfg.Election.RemoteTimeout == "" {
		cfg.Election.RemoteTimeout = DefaultRemoteTimeout.String()
	}
}
