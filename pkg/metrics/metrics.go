// Package metrics exposes janitor's prometheus collectors.
package metrics

import (
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "janitor"

// Flight outcomes recorded by FlightCompleted.
const (
	OutcomeSuccess = "success"
	OutcomeFatal   = "fatal"
)

// Metrics holds the collectors of one janitor process.
type Metrics struct {
	registry         *prometheus.Registry
	resources        *prometheus.GaugeVec
	resourcesCreated *prometheus.CounterVec
	flightsSubmitted prometheus.Counter
	flightsCompleted *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		resources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Tracked resources by kind and state",
			},
			[]string{"kind", "state"},
		),
		resourcesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_created_total",
				Help:      "Registered resources by initial state",
			},
			[]string{"state"},
		),
		flightsSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_submitted_total",
				Help:      "Cleanup flights claimed and handed to the workflow runtime",
			},
		),
		flightsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_completed_total",
				Help:      "Cleanup flights reconciled by outcome",
			},
			[]string{"outcome"},
		),
	}
	registry.MustRegister(m.resources, m.resourcesCreated, m.flightsSubmitted, m.flightsCompleted)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ResourceCreated counts a registration that ended in state.
func (m *Metrics) ResourceCreated(state core.ResourceState) {
	m.resourcesCreated.WithLabelValues(string(state)).Inc()
}

// FlightSubmitted counts a claimed flight.
func (m *Metrics) FlightSubmitted() {
	m.flightsSubmitted.Inc()
}

// FlightCompleted counts a reconciled flight.
func (m *Metrics) FlightCompleted(outcome string) {
	m.flightsCompleted.WithLabelValues(outcome).Inc()
}

// SetResourceCounts replaces the resource gauge with counts.
func (m *Metrics) SetResourceCounts(counts []*core.ResourceStateCount) {
	m.resources.Reset()
	for _, c := range counts {
		m.resources.WithLabelValues(string(c.Kind), string(c.State)).Set(float64(c.Count))
	}
}
