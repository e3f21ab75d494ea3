// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

var busLogger = logrus.WithField("subsystem", "bus")

// SetLogger overrides the package logger, preserving any fields already set
// on it -- the same convention as virtcontainers/device/api.SetLogger.
func SetLogger(logger *logrus.Entry) {
	fields := busLogger.Data
	busLogger = logger.WithFields(fields)
}

// entry pairs a registered Range with its device handle.
type entry[D any] struct {
	rng    Range
	device D
}

// Registry is an ordered mapping from disjoint Ranges on one address Kind to
// device handles of type D. Entries are kept in a slice sorted by Range.Base
// so that lookups are a binary predecessor search (O(log N)); registration
// is O(N) because base-only ordering cannot by itself detect overlap by
// containment (see Range's doc comment), so every register call walks the
// existing entries explicitly.
//
// A Registry is safe for concurrent use: mutations (Register/Deregister) and
// lookups (Device/CheckAccess) are serialized by a single RWMutex, matching
// the "shared-resource policy" in the spec: lookups take a shared (read)
// view, mutations take an exclusive one.
type Registry[D any] struct {
	kind Kind

	mu      sync.RWMutex
	entries []entry[D]
}

// NewRegistry creates an empty registry for the given address Kind.
func NewRegistry[D any](kind Kind) *Registry[D] {
	return &Registry[D]{kind: kind}
}

// predecessorIndex returns the index of the greatest-keyed entry whose Base
// is <= key.Base, or -1 if none. It assumes the caller already holds the
// registry lock.
func (r *Registry[D]) predecessorIndex(key Range) int {
	// sort.Search finds the first index for which the predicate holds;
	// entries are ascending by Base, so the first entry with
	// Base > key.Base marks the boundary. The predecessor, if any, is
	// the one just before it.
	idx := sort.Search(len(r.entries), func(i int) bool {
		return key.base.Less(r.entries[i].rng.base)
	})
	if idx == 0 {
		return -1
	}
	return idx - 1
}

// Register stores device under rng. It fails with DeviceOverlap if rng
// overlaps any range already registered on this bus.
func (r *Registry[D]) Register(rng Range, device D) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.rng.Overlaps(rng) {
			return &vmmerr.DeviceOverlap{
				Reason: fmt.Sprintf("%s range %s-%s overlaps existing range %s-%s",
					r.kind, rng.base, rng.Last(), e.rng.base, e.rng.Last()),
			}
		}
	}

	idx := sort.Search(len(r.entries), func(i int) bool {
		return rng.base.Less(r.entries[i].rng.base)
	})
	r.entries = append(r.entries, entry[D]{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = entry[D]{rng: rng, device: device}

	busLogger.WithFields(logrus.Fields{
		"bus":   r.kind,
		"base":  rng.base,
		"size":  rng.size,
		"count": len(r.entries),
	}).Debug("registered device range")

	return nil
}

// Deregister removes the whole range containing addr, if any, and returns
// it together with its device handle. It is idempotent: calling it again
// for an address with no registered range is a no-op that reports ok=false.
func (r *Registry[D]) Deregister(addr Address) (rng Range, device D, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.predecessorIndex(unitKey(addr))
	if idx < 0 {
		return Range{}, device, false
	}
	e := r.entries[idx]
	if !e.rng.Contains(addr) {
		return Range{}, device, false
	}

	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)

	busLogger.WithFields(logrus.Fields{
		"bus":  r.kind,
		"base": e.rng.base,
		"size": e.rng.size,
	}).Debug("deregistered device range")

	return e.rng, e.device, true
}

// Device returns the range and device handle whose range contains addr, if
// any.
func (r *Registry[D]) Device(addr Address) (rng Range, device D, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.predecessorIndex(unitKey(addr))
	if idx < 0 {
		return Range{}, device, false
	}
	e := r.entries[idx]
	if !e.rng.Contains(addr) {
		return Range{}, device, false
	}
	return e.rng, e.device, true
}

// CheckAccess validates that the access [addr, addr+len) lies entirely
// within exactly one registered range, and returns that range and its
// device handle. len is a byte count; it must fit the bus's native offset
// width (16 bits for PIO, 64 bits for MMIO).
func (r *Registry[D]) CheckAccess(addr Address, length uint64) (rng Range, device D, err error) {
	if length == 0 {
		return Range{}, device, &vmmerr.InvalidRange{Reason: "access length must be at least 1"}
	}
	if length > r.kind.maxValue() {
		return Range{}, device, &vmmerr.InvalidAccessLength{Len: length}
	}
	accessRange, err := NewRange(addr, length)
	if err != nil {
		return Range{}, device, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.predecessorIndex(unitKey(addr))
	if idx < 0 {
		return Range{}, device, &vmmerr.DeviceNotFound{
			Reason: fmt.Sprintf("no %s range covers address %s", r.kind, addr),
		}
	}
	e := r.entries[idx]
	if !e.rng.Contains(addr) || e.rng.Last().Less(accessRange.Last()) {
		return Range{}, device, &vmmerr.DeviceNotFound{
			Reason: fmt.Sprintf("no single %s range covers access %s len %d", r.kind, addr, length),
		}
	}
	return e.rng, e.device, nil
}

// Len returns the number of registered ranges. Primarily useful for tests
// and metrics.
func (r *Registry[D]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
