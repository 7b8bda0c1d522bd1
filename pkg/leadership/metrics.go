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
	"github.com/prometheus/client_golang/prometheus"

	pkgmetrics "controller-leadership/pkg/metrics"
)

// Step-down reason labels.
const (
	StepDownReasonConflict = "conflict"
	StepDownReasonWithdraw = "withdraw"
)

// Metrics holds the leadership-specific Prometheus metrics.
//
// IMPORTANT: Create one instance per application lifecycle with an
// instance-based registry (prometheus.NewRegistry()), not the global
// default registerer. All recording methods are safe on a nil receiver so
// the service can run without metrics wired.
type Metrics struct {
	ElectionsWon        prometheus.Counter
	HeartbeatsPublished prometheus.Counter
	StepDowns           *prometheus.CounterVec
	RemoteExpirations   prometheus.Counter
	EventsDispatched    prometheus.Counter
	Topics              prometheus.Gauge
}

// NewMetrics creates all leadership metrics and registers them with the
// provided registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		ElectionsWon: pkgmetrics.NewCounter(
			registry,
			"leadership_elections_won_total",
			"Total number of topic elections won by this instance",
		),
		HeartbeatsPublished: pkgmetrics.NewCounter(
			registry,
			"leadership_heartbeats_published_total",
			"Total number of LEADER_REELECTED heartbeats published",
		),
		StepDowns: pkgmetrics.NewCounterVec(
			registry,
			"leadership_stepdowns_total",
			"Total number of leadership step-downs by reason",
			[]string{"reason"},
		),
		RemoteExpirations: pkgmetrics.NewCounter(
			registry,
			"leadership_remote_expirations_total",
			"Total number of remote leaders expired for missing heartbeats",
		),
		EventsDispatched: pkgmetrics.NewCounter(
			registry,
			"leadership_events_dispatched_total",
			"Total number of leadership events delivered to local listeners",
		),
		Topics: pkgmetrics.NewGauge(
			registry,
			"leadership_topics",
			"Number of topics this instance is currently contesting",
		),
	}
}

// RecordElectionWon records a won election.
func (m *Metrics) RecordElectionWon() {
	if m == nil {
		return
	}
	m.ElectionsWon.Inc()
}

// RecordHeartbeat records one published heartbeat.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.HeartbeatsPublished.Inc()
}

// RecordStepDown records a step-down with its reason
// (StepDownReasonConflict or StepDownReasonWithdraw).
func (m *Metrics) RecordStepDown(reason string) {
	if m == nil {
		return
	}
	m.StepDowns.WithLabelValues(reason).Inc()
}

// RecordRemoteExpiration records a remote leader evicted for staleness.
func (m *Metrics) RecordRemoteExpiration() {
	if m == nil {
		return
	}
	m.RemoteExpirations.Inc()
}

// RecordDispatch records one event delivered to local listeners.
func (m *Metrics) RecordDispatch() {
	if m == nil {
		return
	}
	m.EventsDispatched.Inc()
}

// SetTopics sets the number of currently contested topics.
func (m *Metrics) SetTopics(count int) {
	if m == nil {
		return
	}
	m.Topics.Set(float64(count))
}
