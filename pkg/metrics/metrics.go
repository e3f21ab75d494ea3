// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package metrics wires the iomanager/irqrouting packages to
// prometheus/client_golang, the same metrics stack
// virtcontainers/pkg/katautils uses for runtime-level observability.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups the counters and histograms this module exposes. Every
// VMM embedding this package registers one Collector against its own
// prometheus.Registerer and passes it to the components that produce
// measurements.
type Collector struct {
	// DispatchTotal counts bus access dispatches, labelled by address
	// space ("mmio"/"pio") and outcome ("hit", "miss", "invalid_length").
	DispatchTotal *prometheus.CounterVec

	// RegistrationOverlapTotal counts device-registration attempts
	// rejected for overlapping an existing range, labelled by address
	// space.
	RegistrationOverlapTotal *prometheus.CounterVec

	// RoutingCommitSeconds observes the latency of each whole-table
	// commit to the hypervisor backend.
	RoutingCommitSeconds prometheus.Histogram
}

// NewCollector constructs a Collector and registers all of its metrics
// against reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmmio",
			Name:      "dispatch_total",
			Help:      "Bus access dispatches by address space and outcome.",
		}, []string{"space", "outcome"}),
		RegistrationOverlapTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmmio",
			Name:      "registration_overlap_total",
			Help:      "Device registrations rejected for overlapping an existing range.",
		}, []string{"space"}),
		RoutingCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vmmio",
			Name:      "routing_commit_seconds",
			Help:      "Latency of committing the interrupt routing table to the hypervisor backend.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{c.DispatchTotal, c.RegistrationOverlapTotal, c.RoutingCommitSeconds} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveDispatch records one dispatch outcome.
func (c *Collector) ObserveDispatch(space, outcome string) {
	if c == nil {
		return
	}
	c.DispatchTotal.WithLabelValues(space, outcome).Inc()
}

// ObserveOverlap records one rejected overlapping registration.
func (c *Collector) ObserveOverlap(space string) {
	if c == nil {
		return
	}
	c.RegistrationOverlapTotal.WithLabelValues(space).Inc()
}
