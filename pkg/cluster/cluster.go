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

// Package cluster defines the identity model and the coordination contracts
// consumed by the leadership service.
//
// Two primitives are required from a clustering substrate:
//  1. A named lock: strongly consistent cluster-wide, at most one holder
//     under non-partitioned operation.
//  2. An ordered topic: best-effort broadcast where all subscribers observe
//     the same total order of messages.
//
// Implementations live in subpackages (memory, kube). The leadership engine
// is written purely against these interfaces.
package cluster

import "context"

// NodeID uniquely identifies a controller instance within the cluster.
type NodeID string

// String returns the ID as a plain string.
func (id NodeID) String() string { return string(id) }

// ControllerNode describes a controller instance. The leadership core only
// relies on ID; the endpoint attributes are carried for parity with the
// cluster membership record.
type ControllerNode struct {
	ID      NodeID `json:"id"`
	IP      string `json:"ip,omitempty"`
	TCPPort int    `json:"tcpPort,omitempty"`
}

// ClusterService exposes membership information about the local instance.
type ClusterService interface {
	// LocalNode returns the identity of this controller instance.
	LocalNode() ControllerNode
}

// NamedLock is a cluster-wide mutex keyed by a string name.
//
// The lock is strongly consistent: under non-partitioned operation at most
// one process holds it. During a partition each side may independently grant
// it; reconciling after the partition heals is the caller's responsibility.
type NamedLock interface {
	// Lock blocks until the lock is held or ctx is cancelled. A cancellation
	// is reported as ctx.Err(); the lock is not held in that case.
	Lock(ctx context.Context) error

	// Unlock releases the lock. Calling Unlock without holding the lock is
	// a no-op.
	Unlock()
}

// SubscriptionID identifies a single topic subscription.
type SubscriptionID string

// OrderedTopic is a totally ordered broadcast channel of opaque bytes.
//
// Delivery is best effort and asynchronous. All subscribers that do receive
// messages observe them in the same order, and a subscriber may receive the
// publisher's own messages.
type OrderedTopic interface {
	// Publish broadcasts payload to all subscribers.
	Publish(ctx context.Context, payload []byte) error

	// Subscribe registers handler for incoming messages. The handler is
	// invoked serially, one message at a time, on a substrate-owned
	// goroutine.
	Subscribe(handler func(payload []byte)) (SubscriptionID, error)

	// Unsubscribe removes a previously registered handler. Unknown IDs are
	// ignored.
	Unsubscribe(id SubscriptionID)
}

// Substrate hands out coordination primitives addressed by name.
//
// Repeated calls with the same name return handles onto the same underlying
// cluster-wide resource.
type Substrate interface {
	Lock(name string) NamedLock
	OrderedTopic(name string) OrderedTopic
}
