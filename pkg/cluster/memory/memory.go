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

// Package memory provides an in-process clustering substrate.
//
// All members share one Cluster value, so the substrate is only meaningful
// within a single process: production single-node deployments and tests.
// Locks are strongly consistent per partition and topics deliver messages
// to every reachable subscriber in a single total order.
//
// The package doubles as a fault-injection harness: Partition splits the
// members into sides that coordinate independently (each side may grant the
// same named lock, broadcast does not cross sides), and Heal merges them
// back without replaying anything - exactly the behavior the leadership
// engine has to reconcile.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"controller-leadership/pkg/cluster"
)

// Cluster is the shared coordination state of all in-process members.
type Cluster struct {
	mu         sync.Mutex
	locks      map[string]*namedLock
	topics     map[string]*orderedTopic
	partitions map[cluster.NodeID]int
}

// NewCluster creates an empty cluster with all members reachable from each
// other.
func NewCluster() *Cluster {
	return &Cluster{
		locks:      make(map[string]*namedLock),
		topics:     make(map[string]*orderedTopic),
		partitions: make(map[cluster.NodeID]int),
	}
}

// Join adds a node to the cluster and returns its member view. The member
// implements both cluster.Substrate and cluster.ClusterService.
func (c *Cluster) Join(node cluster.ControllerNode) *Member {
	return &Member{cluster: c, node: node}
}

// Partition splits the cluster into the given sides. Members of different
// sides cannot observe each other's lock holds or broadcasts; nodes not
// named in any side form a side of their own. Any previous partition is
// replaced.
func (c *Cluster) Partition(sides ...[]cluster.NodeID) {
	c.mu.Lock()
	c.partitions = make(map[cluster.NodeID]int)
	for i, side := range sides {
		for _, id := range side {
			c.partitions[id] = i + 1
		}
	}
	locks := c.snapshotLocksLocked()
	c.mu.Unlock()

	// Reachability changed - blocked lock waiters must re-evaluate.
	for _, l := range locks {
		l.wakeWaiters()
	}
}

// Heal removes any partition. Lock holds survive on both sides; nothing is
// replayed on the topics.
func (c *Cluster) Heal() {
	c.mu.Lock()
	c.partitions = make(map[cluster.NodeID]int)
	locks := c.snapshotLocksLocked()
	c.mu.Unlock()

	for _, l := range locks {
		l.wakeWaiters()
	}
}

func (c *Cluster) snapshotLocksLocked() []*namedLock {
	locks := make([]*namedLock, 0, len(c.locks))
	for _, l := range c.locks {
		locks = append(locks, l)
	}
	return locks
}

// reachable reports whether a and b are on the same side of the current
// partition.
func (c *Cluster) reachable(a, b cluster.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partitions[a] == c.partitions[b]
}

func (c *Cluster) namedLock(name string) *namedLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &namedLock{cluster: c, holders: make(map[cluster.NodeID]bool)}
		c.locks[name] = l
	}
	return l
}

func (c *Cluster) orderedTopic(name string) *orderedTopic {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[name]
	if !ok {
		t = &orderedTopic{cluster: c, subscribers: make(map[cluster.SubscriptionID]*subscriber)}
		c.topics[name] = t
	}
	return t
}

// Member is one node's view onto the shared cluster.
type Member struct {
	cluster *Cluster
	node    cluster.ControllerNode
}

// LocalNode implements cluster.ClusterService.
func (m *Member) LocalNode() cluster.ControllerNode { return m.node }

// Lock implements cluster.Substrate.
func (m *Member) Lock(name string) cluster.NamedLock {
	return &lockHandle{lock: m.cluster.namedLock(name), node: m.node.ID}
}

// OrderedTopic implements cluster.Substrate.
func (m *Member) OrderedTopic(name string) cluster.OrderedTopic {
	return &topicHandle{topic: m.cluster.orderedTopic(name), node: m.node.ID}
}

// namedLock is the shared state of one named lock.
//
// A request is granted when no current holder is reachable from the
// requester, so a partitioned side can grant the lock a second time - the
// same split-brain window a real substrate exhibits.
type namedLock struct {
	cluster *Cluster

	mu      sync.Mutex
	holders map[cluster.NodeID]bool
	waiters []chan struct{}
}

func (l *namedLock) lockAs(ctx context.Context, node cluster.NodeID) error {
	for {
		l.mu.Lock()
		if !l.heldWithinReachLocked(node) {
			l.holders[node] = true
			l.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		l.waiters = append(l.waiters, wake)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.removeWaiter(wake)
			return ctx.Err()
		case <-wake:
			// Re-evaluate; grants are best-effort, not FIFO.
		}
	}
}

func (l *namedLock) unlockAs(node cluster.NodeID) {
	l.mu.Lock()
	if !l.holders[node] {
		l.mu.Unlock()
		return
	}
	delete(l.holders, node)
	l.mu.Unlock()
	l.wakeWaiters()
}

func (l *namedLock) heldWithinReachLocked(node cluster.NodeID) bool {
	for holder := range l.holders {
		if l.cluster.reachable(holder, node) {
			return true
		}
	}
	return false
}

func (l *namedLock) wakeWaiters() {
	l.mu.Lock()
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (l *namedLock) removeWaiter(wake chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == wake {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// lockHandle binds a namedLock to the member that requested it.
type lockHandle struct {
	lock *namedLock
	node cluster.NodeID
}

func (h *lockHandle) Lock(ctx context.Context) error { return h.lock.lockAs(ctx, h.node) }
func (h *lockHandle) Unlock()                        { h.lock.unlockAs(h.node) }

// orderedTopic is the shared state of one broadcast topic.
//
// Publishing assigns the message its place in the total order under the
// topic mutex and enqueues it to every reachable subscriber; each
// subscriber drains its queue serially on a private goroutine, so all
// subscribers observe the same order without publishers ever blocking.
type orderedTopic struct {
	cluster *Cluster

	mu          sync.Mutex
	subscribers map[cluster.SubscriptionID]*subscriber
}

func (t *orderedTopic) publishFrom(_ context.Context, node cluster.NodeID, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subscribers {
		if t.cluster.reachable(node, s.node) {
			s.enqueue(msg)
		}
	}
	return nil
}

func (t *orderedTopic) subscribe(node cluster.NodeID, handler func([]byte)) (cluster.SubscriptionID, error) {
	s := newSubscriber(node, handler)
	id := cluster.SubscriptionID(uuid.NewString())

	t.mu.Lock()
	t.subscribers[id] = s
	t.mu.Unlock()

	go s.run()
	return id, nil
}

func (t *orderedTopic) unsubscribe(id cluster.SubscriptionID) {
	t.mu.Lock()
	s, ok := t.subscribers[id]
	if ok {
		delete(t.subscribers, id)
	}
	t.mu.Unlock()
	if ok {
		s.close()
	}
}

// subscriber drains one subscription's queue serially.
type subscriber struct {
	node    cluster.NodeID
	handler func([]byte)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

func newSubscriber(node cluster.NodeID, handler func([]byte)) *subscriber {
	s := &subscriber{node: node, handler: handler}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, msg)
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(msg)
	}
}

// topicHandle binds an orderedTopic to the member that opened it.
type topicHandle struct {
	topic *orderedTopic
	node  cluster.NodeID
}

func (h *topicHandle) Publish(ctx context.Context, payload []byte) error {
	return h.topic.publishFrom(ctx, h.node, payload)
}

func (h *topicHandle) Subscribe(handler func([]byte)) (cluster.SubscriptionID, error) {
	return h.topic.subscribe(h.node, handler)
}

func (h *topicHandle) Unsubscribe(id cluster.SubscriptionID) {
	h.topic.unsubscribe(id)
}
