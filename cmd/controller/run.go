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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"controller-leadership/pkg/cluster"
	"controller-leadership/pkg/cluster/kube"
	"controller-leadership/pkg/cluster/memory"
	"controller-leadership/pkg/config"
	"controller-leadership/pkg/events"
	"controller-leadership/pkg/events/ringbuffer"
	"controller-leadership/pkg/introspection"
	"controller-leadership/pkg/leadership"
	"controller-leadership/pkg/metrics"
)

// eventHistoryDepth bounds the recent-events buffer served by the
// introspection endpoint.
const eventHistoryDepth = 256

// eventHistory records recent leadership events for introspection.
type eventHistory struct {
	buffer *ringbuffer.RingBuffer[leadership.LeadershipEvent]
}

func (h *eventHistory) OnLeadershipEvent(event leadership.LeadershipEvent) {
	h.buffer.Add(event)
}

// run assembles and runs the controller until ctx is cancelled.
//
// Assembly order matters: the dispatcher buffers events until Start() so
// that elections racing ahead of server startup do not lose events.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	localNode := cluster.ControllerNode{
		ID:      cluster.NodeID(cfg.Node.ID),
		IP:      cfg.Node.IP,
		TCPPort: cfg.Node.TCPPort,
	}

	clusterSvc, substrate, err := buildSubstrate(cfg, localNode, logger)
	if err != nil {
		return err
	}

	dispatcher := events.NewEventBus(100)

	registry := prometheus.NewRegistry()
	leadershipMetrics := leadership.NewMetrics(registry)

	service, err := leadership.NewService(leadership.Config{
		Cluster:           clusterSvc,
		Substrate:         substrate,
		Dispatcher:        dispatcher,
		Metrics:           leadershipMetrics,
		Logger:            logger,
		HeartbeatInterval: cfg.Election.GetHeartbeatInterval(),
		RemoteTimeout:     cfg.Election.GetRemoteTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create leadership service: %w", err)
	}

	history := &eventHistory{buffer: ringbuffer.New[leadership.LeadershipEvent](eventHistoryDepth)}
	service.AddListener(history)

	service.Activate()
	defer service.Deactivate()

	dispatcher.Start()

	for _, topic := range cfg.Topics {
		if err := service.RunForLeadership(topic); err != nil {
			return fmt.Errorf("failed to run for topic %q: %w", topic, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Controller.MetricsPort > 0 {
		metricsServer := metrics.NewServer(fmt.Sprintf(":%d", cfg.Controller.MetricsPort), registry)
		g.Go(func() error {
			return metricsServer.Start(gCtx)
		})
	}

	if cfg.Controller.DebugPort > 0 {
		debugRegistry := introspection.NewRegistry()
		registerDebugVars(debugRegistry, service, history, localNode)
		debugServer := introspection.NewServer(fmt.Sprintf(":%d", cfg.Controller.DebugPort), debugRegistry)
		g.Go(func() error {
			return debugServer.Start(gCtx)
		})
	}

	logger.Info("Controller running", "node", localNode.ID)

	<-gCtx.Done()
	service.Deactivate()
	return g.Wait()
}

// buildSubstrate constructs the clustering substrate selected by the
// configuration.
func buildSubstrate(cfg *config.Config, localNode cluster.ControllerNode, logger *slog.Logger) (cluster.ClusterService, cluster.Substrate, error) {
	switch cfg.Coordination.Backend {
	case config.BackendMemory:
		// Single-process coordination: this instance is the whole cluster.
		member := memory.NewCluster().Join(localNode)
		return member, member, nil

	case config.BackendKubernetes:
		substrate, err := kube.New(kube.Config{
			Kubeconfig: cfg.Coordination.Kubeconfig,
			Namespace:  cfg.Coordination.Namespace,
			Identity:   localNode.ID.String(),
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kubernetes substrate: %w", err)
		}
		return cluster.NewStaticClusterService(localNode), substrate, nil

	default:
		return nil, nil, fmt.Errorf("unknown coordination backend %q", cfg.Coordination.Backend)
	}
}

// registerDebugVars publishes the controller's debug variables.
func registerDebugVars(
	registry *introspection.Registry,
	service *leadership.Service,
	history *eventHistory,
	localNode cluster.ControllerNode,
) {
	registry.Publish("node", introspection.Func(func() (interface{}, error) {
		return localNode, nil
	}))

	registry.Publish("leadership", introspection.Func(func() (interface{}, error) {
		table := make(map[string]interface{})
		for topic, leader := range service.Topics() {
			if leader == nil {
				table[topic] = nil
				continue
			}
			table[topic] = leader.ID
		}
		return table, nil
	}))

	registry.Publish("recent_events", introspection.Func(func() (interface{}, error) {
		return history.buffer.GetLast(100), nil
	}))
}
