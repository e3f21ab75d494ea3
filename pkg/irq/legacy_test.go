// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
)

func TestLegacyGroupEnableTriggerAck(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	notifier := hypervisor.NewFakeNotifier()
	resample := hypervisor.NewFakeNotifier()
	backend.On("RegisterTrigger", notifier.FD(), uint32(4)).Return(nil)

	group := NewLegacyGroup(backend, 4, notifier, resample)
	require.NoError(t, group.Enable([]SourceConfig{LegacySourceConfig{}}))

	require.NoError(t, group.Trigger(0, 0x3))
	assert.Equal(t, uint64(1), notifier.Count())
	assert.Equal(t, uint32(0x3), group.Status())

	require.NoError(t, group.Ack(0, 0x2))
	assert.Equal(t, uint32(0x1), group.Status(), "bit 1 cleared, bit 0 still set")

	backend.AssertExpectations(t)
}

func TestLegacyGroupEnableRejectsWrongConfigCount(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	group := NewLegacyGroup(backend, 4, hypervisor.NewFakeNotifier(), nil)

	err := group.Enable([]SourceConfig{LegacySourceConfig{}, LegacySourceConfig{}})
	assert.Error(t, err)
}

func TestLegacyGroupEnableRejectsWrongConfigKind(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	group := NewLegacyGroup(backend, 4, hypervisor.NewFakeNotifier(), nil)

	err := group.Enable([]SourceConfig{MsiSourceConfig{}})
	assert.Error(t, err)
}

func TestLegacyGroupMaskUnsupported(t *testing.T) {
	group := NewLegacyGroup(&hypervisor.MockBackend{}, 4, hypervisor.NewFakeNotifier(), nil)

	assert.Error(t, group.Mask(0))
	assert.Error(t, group.Unmask(0))
	_, err := group.Pending(0)
	assert.Error(t, err)
}

func TestLegacyGroupIndexOutOfRange(t *testing.T) {
	group := NewLegacyGroup(&hypervisor.MockBackend{}, 4, hypervisor.NewFakeNotifier(), nil)

	assert.Error(t, group.Trigger(1, 0))
	assert.Error(t, group.Ack(-1, 0))
	_, err := group.TriggerNotifier(5)
	assert.Error(t, err)
}

func TestLegacyGroupDisableUnregistersTrigger(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	notifier := hypervisor.NewFakeNotifier()
	backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)
	backend.On("UnregisterTrigger", notifier.FD(), uint32(4)).Return(nil)

	group := NewLegacyGroup(backend, 4, notifier, nil)
	require.NoError(t, group.Enable([]SourceConfig{LegacySourceConfig{}}))
	require.NoError(t, group.Disable())
	require.NoError(t, group.Disable(), "disabling twice is a no-op")

	backend.AssertExpectations(t)
}
