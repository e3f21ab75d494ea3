// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsDispatchOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveDispatch("mmio", "hit")
	c.ObserveDispatch("mmio", "hit")
	c.ObserveDispatch("pio", "miss")

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range metricFamilies {
		if mf.GetName() == "vmmio_dispatch_total" {
			found = mf
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 2)
}

func TestNilCollectorObserveIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveDispatch("mmio", "hit")
	c.ObserveOverlap("mmio")
}
