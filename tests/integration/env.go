//go:build integration

// Package integration contains multi-node election tests running against
// the in-process substrate. The shared cluster is a package-scoped fixenv
// fixture; each test gets its own controller nodes with their own
// dispatcher and listener.
package integration

import (
	"fmt"
	"sync"
	"time"

	"github.com/rekby/fixenv"

	"controller-leadership/pkg/cluster"
	"controller-leadership/pkg/cluster/memory"
	"controller-leadership/pkg/events"
	"controller-leadership/pkg/leadership"
)

const (
	// Fast timings keep the end-to-end tests quick while preserving the
	// required timeout >= 2 * heartbeat ratio.
	testHeartbeatInterval = 100 * time.Millisecond
	testRemoteTimeout     = 400 * time.Millisecond

	waitTimeout = 5 * time.Second
	pollTick    = 10 * time.Millisecond
)

// eventRecorder captures leadership events delivered to one node.
type eventRecorder struct {
	mu     sync.Mutex
	events []leadership.LeadershipEvent
}

func (r *eventRecorder) OnLeadershipEvent(event leadership.LeadershipEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Saw reports whether an event with the given type and leader was observed.
func (r *eventRecorder) Saw(eventType leadership.EventType, leader cluster.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Type == eventType && event.Subject.Leader.ID == leader {
			return true
		}
	}
	return false
}

// ControllerHarness is one controller instance participating in elections.
type ControllerHarness struct {
	Node     cluster.ControllerNode
	Service  *leadership.Service
	Recorder *eventRecorder
}

// IsLeader reports whether this instance currently believes it leads topic.
func (h *ControllerHarness) IsLeader(topic string) bool {
	leader := h.Service.GetLeader(topic)
	return leader != nil && leader.ID == h.Node.ID
}

// SharedCluster provides the package-scoped in-process cluster all test
// nodes join.
func SharedCluster(env fixenv.Env) *memory.Cluster {
	return fixenv.CacheResult(env, func() (*fixenv.GenericResult[*memory.Cluster], error) {
		return fixenv.NewGenericResult(memory.NewCluster()), nil
	}, fixenv.CacheOptions{Scope: fixenv.ScopePackage})
}

// Controller provides a test-scoped controller instance with the given ID
// joined to the shared cluster.
func Controller(env fixenv.Env, id string) *ControllerHarness {
	clus := SharedCluster(env)

	return fixenv.CacheResult(env, func() (*fixenv.GenericResult[*ControllerHarness], error) {
		member := clus.Join(cluster.ControllerNode{ID: cluster.NodeID(id)})

		dispatcher := events.NewEventBus(16)
		dispatcher.Start()

		service, err := leadership.NewService(leadership.Config{
			Cluster:           member,
			Substrate:         member,
			Dispatcher:        dispatcher,
			HeartbeatInterval: testHeartbeatInterval,
			RemoteTimeout:     testRemoteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create leadership service for %s: %w", id, err)
		}

		recorder := &eventRecorder{}
		service.AddListener(recorder)
		service.Activate()

		harness := &ControllerHarness{
			Node:     member.LocalNode(),
			Service:  service,
			Recorder: recorder,
		}
		return fixenv.NewGenericResultWithCleanup(harness, func() {
			service.Deactivate()
		}), nil
	}, fixenv.CacheOptions{CacheKey: id})
}
