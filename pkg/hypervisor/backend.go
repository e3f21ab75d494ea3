// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package hypervisor defines the external collaborator the interrupt
// subsystem (pkg/irq, pkg/irqrouting) talks to: the hypervisor's
// fd-ioctl-based surface for installing interrupt routing and registering
// notification file descriptors, and the notifier handle abstraction itself.
//
// The spec treats the hypervisor kernel interface as out of scope (spec.md
// §1): this package gives that interface a name -- Backend -- plus one real
// implementation (KVMBackend, kvmbackend.go) built on /dev/kvm ioctls, and
// one in-memory test double (MockBackend, mockbackend.go) built on
// testify/mock, the same split the teacher uses between its real qemu/clh
// hypervisor drivers and virtcontainers/pkg/vcmock.
package hypervisor

// Backend is the hypervisor-kernel surface the interrupt subsystem needs.
// It is consumed by pkg/irqrouting (InstallRouting, called from every
// commit) and pkg/irq (RegisterTrigger/UnregisterTrigger, called from
// enable/disable).
type Backend interface {
	// InstallRouting replaces the VM's entire active interrupt routing
	// set with the supplied serialised entries (see irqrouting.Encode).
	// Commit is always whole-table replacement; there is no incremental
	// patch operation.
	InstallRouting(blob []byte) error

	// RegisterTrigger attaches fd so the hypervisor injects gsi into the
	// guest whenever fd is signalled.
	RegisterTrigger(fd uintptr, gsi uint32) error

	// UnregisterTrigger detaches fd from gsi.
	UnregisterTrigger(fd uintptr, gsi uint32) error
}

// Notifier is an opaque OS-level event object: a producer Signals it, a
// consumer (typically the hypervisor, via RegisterTrigger) Waits on it.
// Semantically a counting event, the same semantics as a Linux eventfd.
//
// Ownership of the underlying descriptor rests with whichever
// InterruptSourceGroup created it; Close is part of group destruction, as
// required by spec.md §3's InterruptSourceGroup lifecycle.
type Notifier interface {
	// Signal raises the event (writes a 1).
	Signal() error
	// Wait blocks until the event is raised, returning the accumulated
	// counter value, then resets it.
	Wait() (uint64, error)
	// FD returns the raw descriptor identity the backend registers.
	// Only the identity crosses the VMM/kernel boundary, never the
	// descriptor's contents.
	FD() uintptr
	// Close releases the descriptor. Safe to call multiple times.
	Close() error
}
