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

package leadership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"controller-leadership/pkg/cluster"
	"controller-leadership/pkg/events"
)

// Config assembles the collaborators of the leadership service.
type Config struct {
	// Cluster supplies the identity of the local controller instance.
	// Required.
	Cluster cluster.ClusterService

	// Substrate supplies the named locks and ordered topics. Required.
	Substrate cluster.Substrate

	// Dispatcher is the in-process event bus leadership events are posted
	// to. Required.
	Dispatcher *events.EventBus

	// Codec serializes events for the broadcast topic.
	// Default: JSONCodec.
	Codec Codec

	// Clock drives heartbeats and staleness checks. Tests inject a fake.
	// Default: the real clock.
	Clock clockwork.Clock

	// Metrics is optional; nil disables metric recording.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// HeartbeatInterval overrides PeriodicInterval. Default: 5s.
	HeartbeatInterval time.Duration

	// RemoteTimeout overrides RemoteTimeout. Default: 15s. Must be at least
	// twice the heartbeat interval.
	RemoteTimeout time.Duration
}

// Service is the leadership facade.
//
// It maintains the mapping from topic name to election engine, exposes the
// run-for/withdraw/query/listener operations, and owns the engines'
// lifecycle. A single Service is activated per controller instance.
type Service struct {
	substrate  cluster.Substrate
	clusterSvc cluster.ClusterService
	dispatcher *events.EventBus
	codec      Codec
	clock      clockwork.Clock
	metrics    *Metrics
	logger     *slog.Logger

	interval      time.Duration
	remoteTimeout time.Duration

	mu        sync.Mutex
	topics    map[string]*Topic
	localNode cluster.ControllerNode
	activated bool

	registry   *ListenerRegistry
	sinkCancel context.CancelFunc
	sinkDone   chan struct{}
}

// NewService creates the leadership service. The service does nothing until
// Activate is called.
func NewService(cfg Config) (*Service, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("cluster service cannot be nil")
	}
	if cfg.Substrate == nil {
		return nil, fmt.Errorf("substrate cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}

	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = PeriodicInterval
	}
	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = RemoteTimeout
	}
	if cfg.RemoteTimeout < 2*cfg.HeartbeatInterval {
		return nil, fmt.Errorf("remote timeout %v must be at least twice the heartbeat interval %v",
			cfg.RemoteTimeout, cfg.HeartbeatInterval)
	}

	return &Service{
		substrate:     cfg.Substrate,
		clusterSvc:    cfg.Cluster,
		dispatcher:    cfg.Dispatcher,
		codec:         cfg.Codec,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "leadership-service"),
		interval:      cfg.HeartbeatInterval,
		remoteTimeout: cfg.RemoteTimeout,
		topics:        make(map[string]*Topic),
		registry:      NewListenerRegistry(cfg.Logger),
	}, nil
}

// Activate captures the local node identity and installs the listener
// registry as a sink on the dispatcher. Idempotent.
func (s *Service) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated {
		return
	}

	s.localNode = s.clusterSvc.LocalNode()

	sinkCtx, cancel := context.WithCancel(context.Background())
	s.sinkCancel = cancel
	s.sinkDone = make(chan struct{})
	sub := s.dispatcher.Subscribe(256)
	go s.runSink(sinkCtx, sub)

	s.activated = true
	s.logger.Info("Leadership service activated", "node", s.localNode.ID)
}

// Deactivate removes the dispatcher sink, stops every engine, and drains
// the topic table. Idempotent.
func (s *Service) Deactivate() {
	s.mu.Lock()
	if !s.activated {
		s.mu.Unlock()
		return
	}
	s.activated = false

	engines := make([]*Topic, 0, len(s.topics))
	for _, engine := range s.topics {
		engines = append(engines, engine)
	}
	s.topics = make(map[string]*Topic)
	sinkCancel := s.sinkCancel
	sinkDone := s.sinkDone
	s.mu.Unlock()

	for _, engine := range engines {
		engine.Stop()
	}
	s.metrics.SetTopics(0)

	sinkCancel()
	<-sinkDone

	s.logger.Info("Leadership service deactivated")
}

// runSink forwards leadership events from the dispatcher to the registered
// listeners.
func (s *Service) runSink(ctx context.Context, sub <-chan events.Event) {
	defer close(s.sinkDone)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			if le, ok := event.(LeadershipEvent); ok {
				s.registry.Dispatch(le)
				s.metrics.RecordDispatch()
			}
		}
	}
}

// GetLeader returns a best-effort snapshot of the believed leader for path,
// or nil when the topic is unknown or currently leaderless. Non-blocking.
func (s *Service) GetLeader(path string) *cluster.ControllerNode {
	s.mu.Lock()
	engine, ok := s.topics[path]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return engine.Leader()
}

// RunForLeadership registers this instance as a candidate for path.
//
// The first call creates and starts the topic's election engine; subsequent
// calls are no-ops. Election proceeds asynchronously.
func (s *Service) RunForLeadership(path string) error {
	if path == "" {
		return ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activated {
		return ErrNotActivated
	}
	if _, exists := s.topics[path]; exists {
		return nil
	}

	engine := newTopic(path, s.localNode, s.substrate, s.codec, s.dispatcher,
		s.clock, s.metrics, s.logger, s.interval, s.remoteTimeout)
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start election for topic %q: %w", path, err)
	}
	s.topics[path] = engine
	s.metrics.SetTopics(len(s.topics))

	s.logger.Info("Running for leadership", "topic", path)
	return nil
}

// Withdraw ends this instance's participation in path's election. The
// engine is stopped synchronously; withdrawing from an unknown topic is a
// no-op.
func (s *Service) Withdraw(path string) error {
	if path == "" {
		return ErrEmptyTopic
	}

	s.mu.Lock()
	engine, ok := s.topics[path]
	if ok {
		delete(s.topics, path)
		s.metrics.SetTopics(len(s.topics))
	}
	s.mu.Unlock()

	if ok {
		engine.Stop()
		s.logger.Info("Withdrew from leadership", "topic", path)
	}
	return nil
}

// GetLeaderBoard is advertised but unsupported: assembling a consistent
// cluster-wide leadership view is a separate concern.
func (s *Service) GetLeaderBoard() (map[string]Leadership, error) {
	return nil, ErrLeaderBoardUnsupported
}

// AddListener registers a local leadership listener. Idempotent.
func (s *Service) AddListener(listener EventListener) {
	s.registry.Add(listener)
}

// RemoveListener unregisters a local leadership listener. Idempotent.
func (s *Service) RemoveListener(listener EventListener) {
	s.registry.Remove(listener)
}

// Topics returns the names of the topics this instance currently contests,
// with the locally believed leader for each (nil when unknown). Used by the
// introspection endpoint.
func (s *Service) Topics() map[string]*cluster.ControllerNode {
	s.mu.Lock()
	engines := make(map[string]*Topic, len(s.topics))
	for name, engine := range s.topics {
		engines[name] = engine
	}
	s.mu.Unlock()

	out := make(map[string]*cluster.ControllerNode, len(engines))
	for name, engine := range engines {
		out[name] = engine.Leader()
	}
	return out
}
