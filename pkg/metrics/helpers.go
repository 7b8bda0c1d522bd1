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

// Package metrics provides Prometheus instrument constructors and the
// metrics HTTP server for the controller.
//
// All constructors take an explicit prometheus.Registerer. NEVER use the
// global prometheus.DefaultRegisterer or prometheus.DefaultGatherer: with
// an instance-based registry the instruments are garbage collected together
// with the registry when the application lifecycle they belong to ends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewCounter creates and registers a counter metric.
//
// Use counters for values that only increase, such as events published or
// elections won.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	electionsWon := metrics.NewCounter(registry, "elections_won_total", "Total elections won")
//	electionsWon.Inc()
func NewCounter(registry prometheus.Registerer, name, help string) prometheus.Counter {
	return promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: help,
	})
}

// NewCounterVec creates and registers a counter metric with labels.
//
// Use labeled counters when one logical metric breaks down along a small,
// bounded dimension (e.g. a step-down reason).
func NewCounterVec(registry prometheus.Registerer, name, help string, labels []string) *prometheus.CounterVec {
	return promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, labels)
}

// NewGauge creates and registers a gauge metric.
//
// Use gauges for values that go up and down, such as the number of
// contested topics.
func NewGauge(registry prometheus.Registerer, name, help string) prometheus.Gauge {
	return promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})
}
