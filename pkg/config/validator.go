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

package config

import (
	"fmt"
	"time"
)

// ValidateStructure checks a parsed configuration for structural problems.
// Call after SetDefaults.
func ValidateStructure(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Coordination.Backend {
	case BackendMemory:
	case BackendKubernetes:
		if cfg.Coordination.Namespace == "" {
			return fmt.Errorf("coordination.namespace is required for the kubernetes backend")
		}
	default:
		return fmt.Errorf("unknown coordination backend %q (expected %q or %q)",
			cfg.Coordination.Backend, BackendMemory, BackendKubernetes)
	}

	if cfg.Controller.MetricsPort < 0 || cfg.Controller.MetricsPort > 65535 {
		return fmt.Errorf("controller.metrics_port %d out of range", cfg.Controller.MetricsPort)
	}
	if cfg.Controller.DebugPort < 0 || cfg.Controller.DebugPort > 65535 {
		return fmt.Errorf("controller.debug_port %d out of range", cfg.Controller.DebugPort)
	}

	heartbeat, err := time.ParseDuration(cfg.Election.HeartbeatInterval)
	if err != nil {
		return fmt.Errorf("election.heartbeat_interval %q is not a duration: %w",
			cfg.Election.HeartbeatInterval, err)
	}
	if heartbeat <= 0 {
		return fmt.Errorf("election.heartbeat_interval must be positive")
	}

	remoteTimeout, err := time.ParseDuration(cfg.Election.RemoteTimeout)
	if err != nil {
		return fmt.Errorf("election.remote_timeout %q is not a duration: %w",
			cfg.Election.RemoteTimeout, err)
	}
	if remoteTimeout < 2*heartbeat {
		return fmt.Errorf("election.remote_timeout %v must be at least twice election.heartbeat_interval %v",
			remoteTimeout, heartbeat)
	}

	seen := make(map[string]bool, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		if topic == "" {
			return fmt.Errorf("topics must not contain empty names")
		}
		if seen[topic] {
			return fmt.Errorf("topic %q listed twice", topic)
		}
		seen[topic] = true
	}

	return nil
}
