// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides data models for the controller configuration.
//
// The configuration is loaded from a YAML file (or string), has defaults
// applied, and is validated before use.
package config

import "time"

// Coordination backend names.
const (
	// BackendMemory coordinates within a single process only.
	BackendMemory = "memory"

	// BackendKubernetes coordinates through the Kubernetes API
	// (Lease locks, ConfigMap topics).
	BackendKubernetes = "kubernetes"
)

// Config is the root configuration structure.
type Config struct {
	// Node identifies this controller instance.
	Node NodeConfig `yaml:"node"`

	// Controller contains controller-level settings (ports, etc.).
	Controller ControllerConfig `yaml:"controller"`

	// Logging configures logging behavior.
	Logging LoggingConfig `yaml:"logging"`

	// Coordination selects and configures the clustering substrate.
	Coordination CoordinationConfig `yaml:"coordination"`

	// Election configures leadership election timing.
	Election ElectionConfig `yaml:"election"`

	// Topics are the election topics this instance runs for at startup.
	//
	// Example:
	//   topics:
	//     - sdn
	//     - routing
	Topics []string `yaml:"topics"`
}

// NodeConfig identifies the local controller instance.
type NodeConfig struct {
	// ID is the unique node identifier. If empty, the hostname is used.
	ID string `yaml:"id"`

	// IP is the advertised address of this instance.
	IP string `yaml:"ip"`

	// TCPPort is the advertised control port of this instance.
	// Default: 9876
	TCPPort int `yaml:"tcp_port"`
}

// ControllerConfig contains controller-level configuration.
type ControllerConfig struct {
	// MetricsPort is the port for Prometheus metrics.
	// Default: 9090
	MetricsPort int `yaml:"metrics_port"`

	// DebugPort is the port for the introspection HTTP server.
	// Default: 0 (disabled)
	DebugPort int `yaml:"debug_port"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Verbose names a log level: 0 = WARNING, 1 = INFO, 2 = DEBUG.
	// SetDefaults leaves it unset (0). The controller CLI does not read
	// this field; it takes its log level from the VERBOSE environment
	// variable.
	Verbose int `yaml:"verbose"`
}

// CoordinationConfig selects the clustering substrate.
type CoordinationConfig struct {
	// Backend is "memory" or "kubernetes".
	// Default: memory
	Backend string `yaml:"backend"`

	// Kubeconfig is the path to a kubeconfig file for out-of-cluster use
	// of the kubernetes backend. If empty, in-cluster configuration is
	// used.
	Kubeconfig string `yaml:"kubeconfig"`

	// Namespace is the namespace coordination resources live in
	// (kubernetes backend only).
	// Default: default
	Namespace string `yaml:"namespace"`
}

// ElectionConfig configures leadership election timing.
type ElectionConfig struct {
	// HeartbeatInterval is how often a leader re-advertises itself.
	// Format: Go duration string (e.g., "5s").
	// Default: 5s
	HeartbeatInterval string `yaml:"heartbeat_interval"`

	// RemoteTimeout is how long a remote leader may stay silent before the
	// local view evicts it. Must be at least twice HeartbeatInterval.
	// Format: Go duration string (e.g., "15s").
	// Default: 15s
	RemoteTimeout string `yaml:"remote_timeout"`
}

// GetHeartbeatInterval parses HeartbeatInterval, falling back to the
// default on parse failure.
func (e ElectionConfig) GetHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(e.HeartbeatInterval)
	if err != nil {
		return DefaultHeartbeatInterval
	}
	return d
}

// GetRemoteTimeout parses RemoteTimeout, falling back to the default on
// parse failure.
func (e ElectionConfig) GetRemoteTimeout() time.Duration {
	d, err := time.ParseDuration(e.RemoteTimeout)
	if err != nil {
		return DefaultRemoteTimeout
	}
	return d
}
