// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

// Range is a half-open interval [Base, Base+Size) on a single address space.
//
// Registry orders Ranges by Base alone, deliberately ignoring Size. This is
// required by the registry's predecessor-search lookup idiom (see
// Registry.predecessorIndex): a unit Range built from a bare address can be
// used as a search key to find the range that would contain it. Range itself
// defines no ordering or equality method; Go's == on two Ranges compares both
// Base and Size. Registry enforces non-overlap with an explicit pairwise
// check precisely because base-only ordering cannot see overlap by
// containment.
type Range struct {
	base Address
	size uint64
}

// NewRange validates and constructs a Range. It fails if size is zero or if
// base+(size-1) overflows the address space's width.
func NewRange(base Address, size uint64) (Range, error) {
	if size == 0 {
		return Range{}, &vmmerr.InvalidRange{Reason: "size must be at least 1"}
	}
	if _, ok := base.CheckedAdd(size - 1); !ok {
		return Range{}, &vmmerr.InvalidRange{Reason: "base+size-1 overflows address width"}
	}
	return Range{base: base, size: size}, nil
}

// Base returns the first address in the range.
func (r Range) Base() Address { return r.base }

// Size returns the number of addresses covered by the range.
func (r Range) Size() uint64 { return r.size }

// Last returns the last address covered by the range (inclusive).
func (r Range) Last() Address {
	last, ok := r.base.CheckedAdd(r.size - 1)
	if !ok {
		// NewRange guarantees this cannot happen for a validly
		// constructed Range.
		panic("bus: Range invariant violated: base+size-1 overflows")
	}
	return last
}

// IsUnit reports whether the range covers exactly one address. Unit ranges
// are used as search keys into a Registry.
func (r Range) IsUnit() bool { return r.size == 1 }

// Contains reports whether addr falls within the range.
func (r Range) Contains(addr Address) bool {
	return !addr.Less(r.base) && !r.Last().Less(addr)
}

// Overlaps reports whether r and other share at least one address. Defined
// symmetrically: a.Base <= b.Last && b.Base <= a.Last.
func (r Range) Overlaps(other Range) bool {
	return !r.Last().Less(other.base) && !other.Last().Less(r.base)
}

// unitKey returns a zero-size-equivalent (size=1) search key at addr, on the
// same Kind as addr, for use as a lookup key into a Registry.
func unitKey(addr Address) Range {
	return Range{base: addr, size: 1}
}
