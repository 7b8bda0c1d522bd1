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

// Package kube implements the clustering substrate on the Kubernetes API.
//
// Named locks are backed by coordination.k8s.io/v1 Leases: a holder renews
// the lease periodically and a contender takes it over once the renew time
// is older than the lease duration. Ordered topics are backed by a
// ConfigMap per topic: publishing is an optimistic-concurrency update of a
// single object carrying a sequence number and the payload, and subscribers
// watch that object. Because all updates serialize on one object in etcd,
// every watcher observes the same order of sequence numbers.
package kube

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"controller-leadership/pkg/cluster"
)

const (
	// maxResourceNameLength is the maximum length for Kubernetes resource
	// names (RFC 1123).
	maxResourceNameLength = 63

	// hashSuffixLength is the length of the hash suffix that keeps
	// sanitized names unique.
	hashSuffixLength = 8
)

// Config contains configuration for the Kubernetes substrate.
type Config struct {
	// Kubeconfig path for out-of-cluster configuration.
	// If empty, uses in-cluster configuration.
	Kubeconfig string

	// Namespace the coordination resources live in. Required.
	Namespace string

	// Identity is the unique identifier of this instance (usually the pod
	// name). Required; it becomes the lease holder identity.
	Identity string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Substrate hands out Lease-backed locks and ConfigMap-backed topics.
type Substrate struct {
	client    kubernetes.Interface
	namespace string
	identity  string
	logger    *slog.Logger
}

// New creates a Kubernetes substrate. If cfg.Kubeconfig is empty, in-cluster
// configuration is used.
func New(cfg Config) (*Substrate, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	var restConfig *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
		}
	} else {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return NewFromClientset(clientset, cfg), nil
}

// NewFromClientset creates a Substrate from an existing clientset. This is
// useful for testing with fake clients.
func NewFromClientset(clientset kubernetes.Interface, cfg Config) *Substrate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Substrate{
		client:    clientset,
		namespace: cfg.Namespace,
		identity:  cfg.Identity,
		logger:    logger.With("component", "kube-substrate"),
	}
}

// Lock implements cluster.Substrate.
func (s *Substrate) Lock(name string) cluster.NamedLock {
	return newLeaseLock(s.client, s.namespace, sanitizeResourceName(name), s.identity, s.logger)
}

// OrderedTopic implements cluster.Substrate.
func (s *Substrate) OrderedTopic(name string) cluster.OrderedTopic {
	return newConfigMapTopic(s.client, s.namespace, sanitizeResourceName(name), s.logger)
}

// sanitizeResourceName turns a substrate resource name such as
// "LeadershipService/sdn/lock" into an RFC 1123 compatible object name. The
// original name is hashed into a suffix so distinct inputs never collide
// after truncation.
func sanitizeResourceName(name string) string {
	normalized := strings.ToLower(name)
	var b strings.Builder
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	base := strings.Trim(b.String(), "-")

	hash := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(hash[:])[:hashSuffixLength]

	maxBaseLength := maxResourceNameLength - 1 - hashSuffixLength
	if len(base) > maxBaseLength {
		base = base[:maxBaseLength]
	}
	base = strings.Trim(base, "-")

	return fmt.Sprintf("%s-%s", base, suffix)
}
