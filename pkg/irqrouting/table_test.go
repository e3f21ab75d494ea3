// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irqrouting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
)

func newTestBackend() *hypervisor.MockBackend {
	b := &hypervisor.MockBackend{}
	b.On("InstallRouting", mock.Anything).Return(nil)
	return b
}

func TestTableInitializeInstallsX86Defaults(t *testing.T) {
	backend := newTestBackend()
	table := New(backend)

	require.NoError(t, table.Initialize())

	// Master PIC: 0-7 except 2 (cascade).
	for gsi := uint32(0); gsi < 8; gsi++ {
		key := RouteKey{Kind: RoutePin, Controller: PICMaster, Gsi: gsi}
		if gsi == 2 {
			assert.False(t, table.Has(key))
			continue
		}
		assert.True(t, table.Has(key))
	}
	// Slave PIC: 8-15.
	for gsi := uint32(8); gsi < 16; gsi++ {
		assert.True(t, table.Has(RouteKey{Kind: RoutePin, Controller: PICSlave, Gsi: gsi}))
	}
	// I/O APIC: 0-23, timer pin swap at gsi 0, gsi 2 unrouted.
	assert.True(t, table.Has(RouteKey{Kind: RoutePin, Controller: IOAPIC, Gsi: 0}))
	assert.False(t, table.Has(RouteKey{Kind: RoutePin, Controller: IOAPIC, Gsi: 2}))
	for gsi := uint32(3); gsi < 24; gsi++ {
		assert.True(t, table.Has(RouteKey{Kind: RoutePin, Controller: IOAPIC, Gsi: gsi}))
	}

	backend.AssertExpectations(t)
}

func TestTableInitializeRejectsNonEmpty(t *testing.T) {
	backend := newTestBackend()
	table := New(backend)
	require.NoError(t, table.Initialize())

	err := table.Initialize()
	assert.Error(t, err)
}

func TestTableAddRejectsDuplicateKeyAndOutOfRangeGsi(t *testing.T) {
	backend := newTestBackend()
	table := New(backend)

	entry := NewMsiEntry(100, MsiPayload{HighAddr: 0xFEE0_0000, Data: 1})
	require.NoError(t, table.Add([]Entry{entry}))

	err := table.Add([]Entry{entry})
	assert.Error(t, err, "duplicate key must be rejected")
	assert.Equal(t, 1, table.Len())

	err = table.Add([]Entry{NewMsiEntry(MaxIrqs, MsiPayload{})})
	assert.Error(t, err, "gsi at or beyond MaxIrqs must be rejected")
}

func TestTableModifyRequiresExistence(t *testing.T) {
	backend := newTestBackend()
	table := New(backend)

	entry := NewMsiEntry(50, MsiPayload{Data: 1})
	err := table.Modify(entry)
	assert.Error(t, err, "modifying an absent key must fail")

	require.NoError(t, table.Add([]Entry{entry}))
	updated := NewMsiEntry(50, MsiPayload{Data: 2})
	require.NoError(t, table.Modify(updated))
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	backend := newTestBackend()
	table := New(backend)

	entry := NewMsiEntry(50, MsiPayload{Data: 1})
	require.NoError(t, table.Add([]Entry{entry}))
	require.NoError(t, table.Remove([]Entry{entry}))
	assert.Equal(t, 0, table.Len())
	require.NoError(t, table.Remove([]Entry{entry}), "removing an absent key is not an error")
}

func TestEncodeProducesOneEntryPerRoute(t *testing.T) {
	entries := map[RouteKey]Entry{
		{Kind: RoutePin, Controller: PICMaster, Gsi: 1}: newPinEntry(1, PICMaster, 1),
		{Kind: RouteMsi, Gsi: 100}:                       NewMsiEntry(100, MsiPayload{Data: 7}),
	}
	blob := Encode(entries)
	assert.Len(t, blob, headerSize+2*entrySize)
}
