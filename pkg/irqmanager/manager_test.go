// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irqmanager

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/irq"
	"github.com/kata-containers/vmm-io/pkg/metrics"
)

func fakeNotifierFactory() (hypervisor.Notifier, error) {
	return hypervisor.NewFakeNotifier(), nil
}

func newTestManager(backend *hypervisor.MockBackend) *Manager {
	backend.On("InstallRouting", mock.Anything).Return(nil)
	return New(backend, fakeNotifierFactory)
}

func TestCreateGroupLegacyAndMsi(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	m := newTestManager(backend)
	require.NoError(t, m.Initialize())

	legacy, err := m.CreateGroup(irq.Legacy, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, irq.Legacy, legacy.Kind())

	backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)
	msi, err := m.CreateGroup(irq.Msi, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, msi.Len())
	assert.Equal(t, 2, m.Len())
}

func TestCreateGroupRejectsOverlap(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	m := newTestManager(backend)
	require.NoError(t, m.Initialize())

	_, err := m.CreateGroup(irq.Msi, 100, 4)
	require.NoError(t, err)

	_, err = m.CreateGroup(irq.Msi, 102, 2)
	assert.Error(t, err, "overlapping range must be rejected")
}

func TestCreateGroupRejectsLegacyMultiSource(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	m := newTestManager(backend)
	require.NoError(t, m.Initialize())

	_, err := m.CreateGroup(irq.Legacy, 5, 2)
	assert.Error(t, err)
}

func TestCreateGroupEnforcesMaxMsiPerDevice(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	m := newTestManager(backend)
	require.NoError(t, m.Initialize())
	m.SetMaxMsiPerDevice(2)

	_, err := m.CreateGroup(irq.Msi, 200, 3)
	assert.Error(t, err)
}

func TestDestroyGroupRemovesAndRejectsUnknown(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	m := newTestManager(backend)
	require.NoError(t, m.Initialize())

	legacy, err := m.CreateGroup(irq.Legacy, 5, 1)
	require.NoError(t, err)
	require.NoError(t, m.DestroyGroup(legacy))
	assert.Equal(t, 0, m.Len())

	err = m.DestroyGroup(legacy)
	assert.Error(t, err, "destroying a group not owned by this manager must fail")
}

func TestDestroyGroupClosesTriggerAndResampleNotifiers(t *testing.T) {
	trigger := hypervisor.NewFakeNotifier()
	resample := hypervisor.NewFakeNotifier()
	notifiers := []*hypervisor.FakeNotifier{trigger, resample}
	idx := 0

	backend := &hypervisor.MockBackend{}
	backend.On("InstallRouting", mock.Anything).Return(nil)
	m := New(backend, func() (hypervisor.Notifier, error) {
		n := notifiers[idx]
		idx++
		return n, nil
	})
	require.NoError(t, m.Initialize())

	legacy, err := m.CreateGroup(irq.Legacy, 5, 1)
	require.NoError(t, err)

	require.NoError(t, m.DestroyGroup(legacy))
	assert.True(t, trigger.Closed(), "DestroyGroup must close the trigger notifier")
	assert.True(t, resample.Closed(), "DestroyGroup must also close the resample notifier, not just the trigger")
}

func TestWithMetricsObservesRoutingCommits(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	m := newTestManager(backend).WithMetrics(collector)
	require.NoError(t, m.Initialize())

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var histogram *dto.Histogram
	for _, mf := range metricFamilies {
		if mf.GetName() == "vmmio_routing_commit_seconds" {
			histogram = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, histogram, "irqmanager.WithMetrics must wire routing commits to the collector")
	assert.GreaterOrEqual(t, histogram.GetSampleCount(), uint64(1), "Initialize's commit must have been observed")
}
