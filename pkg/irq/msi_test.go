// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/irqrouting"
)

func newMsiTestGroup(backend *hypervisor.MockBackend, base uint32, count int) (*MsiGroup, []*hypervisor.FakeNotifier) {
	table := irqrouting.New(backend)
	notifiers := make([]hypervisor.Notifier, count)
	fakes := make([]*hypervisor.FakeNotifier, count)
	for i := range notifiers {
		f := hypervisor.NewFakeNotifier()
		notifiers[i] = f
		fakes[i] = f
	}
	return NewMsiGroup(backend, table, base, notifiers), fakes
}

func TestMsiGroupEnableInstallsRoutesAndTriggers(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	backend.On("InstallRouting", mock.Anything).Return(nil)
	backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)

	group, fakes := newMsiTestGroup(backend, 100, 2)
	configs := []SourceConfig{
		MsiSourceConfig{HighAddr: 0xFEE0_0000, Data: 1},
		MsiSourceConfig{HighAddr: 0xFEE0_0000, Data: 2},
	}
	require.NoError(t, group.Enable(configs))

	require.NoError(t, group.Trigger(1, 0))
	assert.Equal(t, uint64(1), fakes[1].Count())

	backend.AssertExpectations(t)
}

func TestMsiGroupEnableRollsBackOnPartialTriggerFailure(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	backend.On("InstallRouting", mock.Anything).Return(nil)
	backend.On("RegisterTrigger", mock.Anything, uint32(200)).Return(nil).Once()
	backend.On("RegisterTrigger", mock.Anything, uint32(201)).Return(errors.New("backend refused")).Once()
	backend.On("UnregisterTrigger", mock.Anything, uint32(200)).Return(nil).Once()

	group, _ := newMsiTestGroup(backend, 200, 2)
	configs := []SourceConfig{
		MsiSourceConfig{Data: 1},
		MsiSourceConfig{Data: 2},
	}
	err := group.Enable(configs)
	assert.Error(t, err)
	assert.Equal(t, 0, group.table.Len(), "routing entries must be rolled back")

	backend.AssertExpectations(t)
}

func TestMsiGroupMaskQueuesPendingUntilUnmask(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	backend.On("InstallRouting", mock.Anything).Return(nil)
	backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)

	group, fakes := newMsiTestGroup(backend, 300, 1)
	require.NoError(t, group.Enable([]SourceConfig{MsiSourceConfig{Data: 1}}))

	require.NoError(t, group.Mask(0))
	require.NoError(t, group.Trigger(0, 0))
	assert.Equal(t, uint64(0), fakes[0].Count(), "masked source must not signal")

	pending, err := group.Pending(0)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, group.Unmask(0))
	assert.Equal(t, uint64(1), fakes[0].Count(), "unmask delivers the queued trigger")

	pending, err = group.Pending(0)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestMsiGroupTriggerRejectsNonZeroFlags(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	backend.On("InstallRouting", mock.Anything).Return(nil)
	backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)

	group, _ := newMsiTestGroup(backend, 400, 1)
	require.NoError(t, group.Enable([]SourceConfig{MsiSourceConfig{Data: 1}}))

	assert.Error(t, group.Trigger(0, 1))
	assert.Error(t, group.Ack(0, 1))
}

func TestMsiGroupUpdateRequiresEnabled(t *testing.T) {
	backend := &hypervisor.MockBackend{}
	group, _ := newMsiTestGroup(backend, 500, 1)

	err := group.Update(0, MsiSourceConfig{Data: 9})
	assert.Error(t, err)
}
