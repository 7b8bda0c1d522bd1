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

// Package leadership implements distributed leadership election for the
// clustered controller.
//
// Applications register interest in being the leader for a named topic via
// the Service facade. Per topic, an election engine combines two substrate
// primitives - a strongly consistent named lock and a totally ordered
// broadcast topic - into eventually consistent single-leader semantics:
// at most one controller instance cluster-wide is recognized as leader per
// topic in the steady state, and LeadershipEvents are emitted as leadership
// changes.
package leadership

import (
	"time"

	"controller-leadership/pkg/cluster"
)

// EventType identifies the kind of leadership change an event describes.
type EventType string

const (
	// LeaderElected signals that a new leader has acquired the topic lock.
	LeaderElected EventType = "LEADER_ELECTED"

	// LeaderReelected is the periodic heartbeat confirming the current
	// leader is still alive.
	LeaderReelected EventType = "LEADER_REELECTED"

	// LeaderBooted signals that a leader gave up or lost its leadership.
	LeaderBooted EventType = "LEADER_BOOTED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case LeaderElected, LeaderReelected, LeaderBooted:
		return true
	}
	return false
}

// Leadership describes one topic's leadership at a point in time.
//
// Epoch is always 0 in the current implementation; the field exists for
// event equality and future extension with lock-provided fencing tokens.
type Leadership struct {
	Topic  string                 `json:"topic"`
	Leader cluster.ControllerNode `json:"leader"`
	Epoch  int64                  `json:"epoch"`
}

// LeadershipEvent is emitted whenever a topic's leadership changes.
//
// Events travel two ways: serialized onto the cluster-wide ordered topic for
// peer controllers, and posted onto the local dispatcher for in-process
// listeners. TimeMillis is wall-clock milliseconds at creation.
type LeadershipEvent struct {
	Type       EventType  `json:"type"`
	Subject    Leadership `json:"subject"`
	TimeMillis int64      `json:"timestamp"`
}

// EventType implements events.Event using the bus dot-notation convention.
func (e LeadershipEvent) EventType() string {
	switch e.Type {
	case LeaderElected:
		return "leadership.elected"
	case LeaderReelected:
		return "leadership.reelected"
	case LeaderBooted:
		return "leadership.booted"
	}
	return "leadership.unknown"
}

// Timestamp implements events.Event.
func (e LeadershipEvent) Timestamp() time.Time {
	return time.UnixMilli(e.TimeMillis)
}

// EventListener receives leadership events dispatched to local subscribers.
//
// Listeners are invoked sequentially on the dispatcher sink goroutine and
// must not block. Implementations must be comparable (use pointer
// receivers): listener identity is what makes add/remove idempotent.
type EventListener interface {
	OnLeadershipEvent(event LeadershipEvent)
}
