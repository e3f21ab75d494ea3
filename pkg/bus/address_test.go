// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressCheckedAdd(t *testing.T) {
	assert := assert.New(t)

	a := MmioAddress(10)
	sum, ok := a.CheckedAdd(5)
	assert.True(ok)
	assert.Equal(uint64(15), sum.Value())

	near := MmioAddress(math.MaxUint64 - 1)
	_, ok = near.CheckedAdd(2)
	assert.False(ok, "checked add must report overflow, never wrap")

	pio := PioAddress(0xFFFE)
	sum, ok = pio.CheckedAdd(1)
	assert.True(ok)
	assert.Equal(uint64(0xFFFF), sum.Value())

	_, ok = pio.CheckedAdd(2)
	assert.False(ok, "pio address space is 16-bit wide")
}

func TestAddressOrderingAndSub(t *testing.T) {
	assert := assert.New(t)

	a := MmioAddress(100)
	b := MmioAddress(200)

	assert.True(a.Less(b))
	assert.False(b.Less(a))
	assert.True(a.Equal(MmioAddress(100)))
	assert.Equal(uint64(100), b.Sub(a))
}

func TestAddressSubPanicsOnDifferentKind(t *testing.T) {
	assert.Panics(t, func() {
		MmioAddress(1).Sub(PioAddress(1))
	})
}

func TestAddressLessPanicsOnDifferentKind(t *testing.T) {
	assert.Panics(t, func() {
		MmioAddress(1).Less(PioAddress(1))
	})
}
