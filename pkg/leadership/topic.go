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
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"controller-leadership/pkg/cluster"
	"controller-leadership/pkg/events"
)

const (
	// PeriodicInterval is the heartbeat tick of the periodic worker.
	PeriodicInterval = 5 * time.Second

	// RemoteTimeout is how long a remote leader may stay silent before it is
	// evicted from the local view. Must stay >= 2 * PeriodicInterval so one
	// missed heartbeat does not evict a healthy leader.
	RemoteTimeout = 15 * time.Second

	// publishTimeout bounds a single broadcast publish attempt.
	publishTimeout = 5 * time.Second
)

// lockName derives the substrate lock name for a topic.
func lockName(topic string) string {
	return fmt.Sprintf("LeadershipService/%s/lock", topic)
}

// broadcastName derives the substrate ordered-topic name for a topic.
func broadcastName(topic string) string {
	return fmt.Sprintf("LeadershipService/%s/topic", topic)
}

// Topic is the per-topic election engine.
//
// Each engine owns two long-running workers:
//
//   - The lock-holder worker contests the cluster-wide named lock. While the
//     lock is held this instance is the leader; cancelling the current hold
//     is the only step-down signal and causes exactly one LEADER_BOOTED
//     publish, one unlock, and re-entry into election.
//   - The periodic worker heartbeats LEADER_REELECTED while leading and
//     evicts a remote leader whose heartbeats have gone silent for longer
//     than the remote timeout.
//
// Incoming broadcast messages are decoded and folded into the local view; a
// LEADER_ELECTED/LEADER_REELECTED from another node while this instance
// believes itself leader means both sides of a healed partition hold the
// lock, and this side steps down to resolve the conflict.
//
// All state is guarded by a per-engine monitor which is held across event
// posting, so listeners observe events in the order state changed.
type Topic struct {
	topicName string
	localNode cluster.ControllerNode

	lock      cluster.NamedLock
	broadcast cluster.OrderedTopic

	codec      Codec
	dispatcher *events.EventBus
	clock      clockwork.Clock
	metrics    *Metrics
	logger     *slog.Logger

	interval      time.Duration
	remoteTimeout time.Duration

	mu         sync.Mutex
	leader     *cluster.ControllerNode
	lastUpdate time.Time
	stepDown   context.CancelFunc

	isShutdown atomic.Bool
	runCtx     context.Context
	runCancel  context.CancelFunc
	wg         sync.WaitGroup
	subID      cluster.SubscriptionID
}

func newTopic(
	name string,
	localNode cluster.ControllerNode,
	substrate cluster.Substrate,
	codec Codec,
	dispatcher *events.EventBus,
	clock clockwork.Clock,
	metrics *Metrics,
	logger *slog.Logger,
	interval time.Duration,
	remoteTimeout time.Duration,
) *Topic {
	return &Topic{
		topicName:     name,
		localNode:     localNode,
		lock:          substrate.Lock(lockName(name)),
		broadcast:     substrate.OrderedTopic(broadcastName(name)),
		codec:         codec,
		dispatcher:    dispatcher,
		clock:         clock,
		metrics:       metrics,
		logger:        logger.With("topic", name),
		interval:      interval,
		remoteTimeout: remoteTimeout,
	}
}

// Start subscribes to the broadcast topic and launches both workers.
func (t *Topic) Start() error {
	t.runCtx, t.runCancel = context.WithCancel(context.Background())

	subID, err := t.broadcast.Subscribe(t.handleMessage)
	if err != nil {
		t.runCancel()
		return fmt.Errorf("failed to subscribe to broadcast topic: %w", err)
	}
	t.subID = subID

	t.wg.Add(2)
	go t.runElection()
	go t.runPeriodic()

	t.logger.Debug("Election engine started", "node", t.localNode.ID)
	return nil
}

// Stop tears down local participation in this topic's election.
//
// It unsubscribes from the broadcast topic, cancels both workers, and waits
// for them to exit. If this instance was leading, the lock-holder worker
// publishes its final LEADER_BOOTED and unlocks before Stop returns; after
// Stop returns no further dispatch or publish occurs from this engine.
func (t *Topic) Stop() {
	if !t.isShutdown.CompareAndSwap(false, true) {
		return
	}

	t.broadcast.Unsubscribe(t.subID)

	t.mu.Lock()
	wasLeading := t.leader != nil && t.leader.ID == t.localNode.ID
	t.mu.Unlock()
	if wasLeading {
		t.metrics.RecordStepDown(StepDownReasonWithdraw)
	}

	t.runCancel()
	t.wg.Wait()

	// Barrier: a broadcast handler already inside the monitor finishes
	// before Stop returns; any later one observes isShutdown and posts
	// nothing.
	t.mu.Lock()
	_ = t.leader
	t.mu.Unlock()

	t.logger.Debug("Election engine stopped")
}

// Leader returns a best-effort snapshot of the currently believed leader,
// or nil when none is known.
func (t *Topic) Leader() *cluster.ControllerNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.leader == nil {
		return nil
	}
	leader := *t.leader
	return &leader
}

// runElection is the lock-holder worker.
//
// Each round contests the lock under a round context; cancelling the round
// is the step-down signal. Shutdown cancels the parent context and thereby
// the current round, so a leading instance publishes LEADER_BOOTED and
// unlocks exactly once on the way out.
func (t *Topic) runElection() {
	defer t.wg.Done()

	for !t.isShutdown.Load() {
		roundCtx, cancel := context.WithCancel(t.runCtx)
		t.mu.Lock()
		t.stepDown = cancel
		t.mu.Unlock()

		if err := t.lock.Lock(roundCtx); err != nil {
			// Cancelled while waiting - re-enter election (or exit on
			// shutdown at the loop head).
			cancel()
			continue
		}

		t.mu.Lock()
		t.leader = &t.localNode
		event := t.newEvent(LeaderElected, t.localNode)
		t.post(event)
		t.publish(event)
		t.mu.Unlock()
		t.metrics.RecordElectionWon()
		t.logger.Info("Acquired leadership", "node", t.localNode.ID)

		// Hold the lock until asked to step down or shut down.
		<-roundCtx.Done()
		cancel()

		t.mu.Lock()
		if t.leader != nil && t.leader.ID == t.localNode.ID {
			t.leader = nil
		}
		event = t.newEvent(LeaderBooted, t.localNode)
		t.post(event)
		t.publish(event)
		t.lock.Unlock()
		t.mu.Unlock()
		t.logger.Info("Relinquished leadership", "node", t.localNode.ID)
	}
}

// runPeriodic is the periodic worker: heartbeat while leading, expire a
// silent remote leader otherwise.
func (t *Topic) runPeriodic() {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.runCtx.Done():
			return
		case <-ticker.Chan():
		}
		if t.isShutdown.Load() {
			return
		}

		t.mu.Lock()
		switch {
		case t.leader == nil:
			// Nothing to do until somebody leads.

		case t.leader.ID == t.localNode.ID:
			event := t.newEvent(LeaderReelected, t.localNode)
			t.post(event)
			t.publish(event)
			t.metrics.RecordHeartbeat()

		default:
			if t.clock.Since(t.lastUpdate) > t.remoteTimeout {
				stale := *t.leader
				t.leader = nil
				// Local belief only - the expiry is not broadcast.
				t.post(t.newEvent(LeaderBooted, stale))
				t.metrics.RecordRemoteExpiration()
				t.logger.Warn("Expired silent remote leader", "leader", stale.ID)
			}
		}
		t.mu.Unlock()
	}
}

// handleMessage is invoked serially by the substrate for every broadcast
// message on this topic.
func (t *Topic) handleMessage(payload []byte) {
	event, err := t.codec.Decode(payload)
	if err != nil {
		t.logger.Warn("Dropping undecodable broadcast message", "error", err)
		return
	}
	if event.Subject.Topic != t.topicName {
		return
	}
	if event.Subject.Leader.ID == t.localNode.ID {
		// Our own message echoed back by the broadcast.
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isShutdown.Load() {
		return
	}

	switch event.Type {
	case LeaderElected, LeaderReelected:
		if t.leader != nil && t.leader.ID == t.localNode.ID {
			// Another instance also holds the lock: the partition we were on
			// has healed. Step down by cancelling the lock-holder round; it
			// will publish LEADER_BOOTED, unlock, and re-enter election.
			t.logger.Warn("Conflicting leader detected, stepping down",
				"remote_leader", event.Subject.Leader.ID)
			if t.stepDown != nil {
				t.stepDown()
			}
			t.metrics.RecordStepDown(StepDownReasonConflict)
		} else {
			leader := event.Subject.Leader
			t.leader = &leader
			t.lastUpdate = t.clock.Now()
		}
		t.post(event)

	case LeaderBooted:
		if t.leader != nil && t.leader.ID == event.Subject.Leader.ID {
			t.leader = nil
		}
		t.post(event)

	default:
		t.logger.Warn("Dropping leadership event of unknown type", "type", event.Type)
	}
}

// newEvent builds a LeadershipEvent for this topic. Epoch is always 0.
func (t *Topic) newEvent(eventType EventType, leader cluster.ControllerNode) LeadershipEvent {
	return LeadershipEvent{
		Type: eventType,
		Subject: Leadership{
			Topic:  t.topicName,
			Leader: leader,
			Epoch:  0,
		},
		TimeMillis: t.clock.Now().UnixMilli(),
	}
}

// post delivers event to the local dispatcher. Called with the monitor held.
func (t *Topic) post(event LeadershipEvent) {
	t.dispatcher.Publish(event)
}

// publish broadcasts event to peer controllers. Failures are logged and
// ignored: the next heartbeat or election cycle repairs the cluster view.
// Called with the monitor held.
func (t *Topic) publish(event LeadershipEvent) {
	payload, err := t.codec.Encode(event)
	if err != nil {
		t.logger.Error("Failed to encode leadership event", "error", err, "event_type", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.broadcast.Publish(ctx, payload); err != nil {
		t.logger.Warn("Failed to publish leadership event", "error", err, "event_type", event.Type)
	}
}
