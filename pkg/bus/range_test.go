// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

func TestNewRangeRejectsZeroSize(t *testing.T) {
	_, err := NewRange(MmioAddress(0), 0)
	assert.Error(t, err)
	assert.IsType(t, &vmmerr.InvalidRange{}, err)
}

func TestNewRangeRejectsOverflow(t *testing.T) {
	_, err := NewRange(MmioAddress(math.MaxUint64-1), 5)
	assert.Error(t, err)
	assert.IsType(t, &vmmerr.InvalidRange{}, err)
}

func TestRangeBasics(t *testing.T) {
	assert := assert.New(t)

	r, err := NewRange(MmioAddress(10), 10)
	assert.NoError(err)
	assert.Equal(uint64(10), r.Base().Value())
	assert.Equal(uint64(10), r.Size())
	assert.Equal(uint64(19), r.Last().Value())
	assert.False(r.IsUnit())

	unit, err := NewRange(MmioAddress(5), 1)
	assert.NoError(err)
	assert.True(unit.IsUnit())
}

func TestRangeContains(t *testing.T) {
	assert := assert.New(t)
	r, _ := NewRange(MmioAddress(10), 10)

	assert.True(r.Contains(MmioAddress(10)))
	assert.True(r.Contains(MmioAddress(19)))
	assert.False(r.Contains(MmioAddress(20)))
	assert.False(r.Contains(MmioAddress(9)))
}

func TestRangeOverlaps(t *testing.T) {
	assert := assert.New(t)
	r, _ := NewRange(MmioAddress(10), 10) // [10,20)

	cases := []struct {
		name           string
		base, size     uint64
		wantOverlap    bool
	}{
		{"disjoint before", 0, 10, false},
		{"disjoint after", 20, 10, false},
		{"touches start", 5, 6, true},    // [5,11)
		{"touches end", 15, 10, true},    // [15,25)
		{"fully inside", 12, 2, true},    // [12,14)
		{"fully contains", 1, 199, true}, // [1,200)
		{"adjacent after", 20, 5, false}, // [20,25) half-open, no overlap
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			other, err := NewRange(MmioAddress(c.base), c.size)
			assert.NoError(err)
			assert.Equal(c.wantOverlap, r.Overlaps(other))
			assert.Equal(c.wantOverlap, other.Overlaps(r), "overlap must be symmetric")
		})
	}
}
