// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package resource

// Set is an ordered sequence of Resource values handed from an allocator to
// a device at registration time. Order is preserved and duplicates are
// allowed at this level -- the receiving registry (pkg/bus) enforces its own
// uniqueness when a range resource is actually registered.
//
// The accessor helpers below are read-only convenience queries over an
// immutable sequence, mirroring original_source's resources.rs helpers
// (first PIO range, all MMIO ranges, first legacy IRQ, first MSI block of a
// given kind, all memory slots, first MAC).
type Set []Resource

// FirstPioRange returns the first PioRange resource in the set, if any.
func (s Set) FirstPioRange() (PioRange, bool) {
	for _, r := range s {
		if p, ok := r.PioRange(); ok {
			return p, true
		}
	}
	return PioRange{}, false
}

// AllMmioRanges returns every MmioRange resource in the set, in order.
func (s Set) AllMmioRanges() []MmioRange {
	var out []MmioRange
	for _, r := range s {
		if m, ok := r.MmioRange(); ok {
			out = append(out, m)
		}
	}
	return out
}

// FirstLegacyIrq returns the first LegacyIrq resource in the set, if any.
func (s Set) FirstLegacyIrq() (uint32, bool) {
	for _, r := range s {
		if irq, ok := r.LegacyIrq(); ok {
			return irq, true
		}
	}
	return 0, false
}

// FirstMsiBlock returns the first MsiBlock resource of the given kind.
func (s Set) FirstMsiBlock(kind MsiKind) (MsiBlock, bool) {
	for _, r := range s {
		if b, ok := r.MsiBlock(); ok && b.Kind == kind {
			return b, true
		}
	}
	return MsiBlock{}, false
}

// AllHypervisorMemorySlots returns every HypervisorMemorySlot resource in
// the set, in order.
func (s Set) AllHypervisorMemorySlots() []uint32 {
	var out []uint32
	for _, r := range s {
		if slot, ok := r.HypervisorMemorySlot(); ok {
			out = append(out, slot)
		}
	}
	return out
}

// FirstMacAddress returns the first MacAddress resource in the set, if any.
func (s Set) FirstMacAddress() (string, bool) {
	for _, r := range s {
		if mac, ok := r.MacAddress(); ok {
			return mac, true
		}
	}
	return "", false
}
