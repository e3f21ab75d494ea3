// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package bus implements the address-space registries (C1/C2 of the device
// model): typed addresses and half-open ranges for the two guest address
// spaces a VMM exposes (MMIO, 64-bit; PIO, 16-bit), and the ordered registry
// that maps disjoint ranges on one address space to device handles.
package bus

import (
	"fmt"
	"math"
)

// Kind identifies one of the two disjoint guest address spaces a device can
// be registered on.
type Kind int

const (
	// Mmio is the 64-bit memory-mapped I/O address space.
	Mmio Kind = iota
	// Pio is the 16-bit port I/O address space.
	Pio
)

func (k Kind) String() string {
	switch k {
	case Mmio:
		return "mmio"
	case Pio:
		return "pio"
	default:
		return fmt.Sprintf("<unknown bus kind: %d>", int(k))
	}
}

// maxValue returns the maximum representable value for the address space's
// native offset type.
func (k Kind) maxValue() uint64 {
	switch k {
	case Pio:
		return math.MaxUint16
	default:
		return math.MaxUint64
	}
}

// Address is a value on one of the two guest address spaces. The zero value
// is address 0 on the MMIO space; use MmioAddress/PioAddress to construct an
// address on a specific space.
//
// Address is a value type: copy and compare it with ==. Ordering is a total
// order on Value within the same Kind; comparing addresses of different
// Kinds is a programmer error and panics, mirroring how the teacher's device
// capability contracts never mix MMIO and PIO handles (see pkg/device).
type Address struct {
	kind  Kind
	value uint64
}

// MmioAddress constructs a 64-bit MMIO address.
func MmioAddress(value uint64) Address {
	return Address{kind: Mmio, value: value}
}

// PioAddress constructs a 16-bit PIO address. The uint16 parameter type
// bounds the value to the 16-bit port space, so no runtime check is needed.
func PioAddress(value uint16) Address {
	return Address{kind: Pio, value: uint64(value)}
}

// Kind returns the address space this address belongs to.
func (a Address) Kind() Kind { return a.kind }

// Value returns the raw numeric value of the address.
func (a Address) Value() uint64 { return a.value }

func (a Address) assertSameKind(b Address) {
	if a.kind != b.kind {
		panic(fmt.Sprintf("bus: comparing addresses of different kinds: %s vs %s", a.kind, b.kind))
	}
}

// Less reports whether a sorts before b. Both addresses must be of the same
// Kind.
func (a Address) Less(b Address) bool {
	a.assertSameKind(b)
	return a.value < b.value
}

// Equal reports whether a and b denote the same address on the same space.
func (a Address) Equal(b Address) bool {
	return a.kind == b.kind && a.value == b.value
}

// CheckedAdd returns a+offset, or false if the result would overflow the
// address space's native width. It never wraps.
func (a Address) CheckedAdd(offset uint64) (Address, bool) {
	max := a.kind.maxValue()
	if offset > max-a.value {
		return Address{}, false
	}
	return Address{kind: a.kind, value: a.value + offset}, true
}

// Sub returns a-b as a width-typed offset. Both addresses must be of the
// same Kind and a must be >= b.
func (a Address) Sub(b Address) uint64 {
	a.assertSameKind(b)
	if a.value < b.value {
		panic("bus: Address.Sub underflow")
	}
	return a.value - b.value
}

func (a Address) String() string {
	if a.kind == Pio {
		return fmt.Sprintf("pio:0x%04x", a.value)
	}
	return fmt.Sprintf("mmio:0x%016x", a.value)
}
