// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irq

import (
	"sync"
	"sync/atomic"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

// LegacyGroup is a pin-based interrupt source group: always exactly one
// source, with an atomic 32-bit status word recording which trigger flags
// are currently asserted. Grounded on original_source's
// kvm_irq/legacy_irq.rs KvmLegacyIrqGroup, which tracks edge/level state
// the same way.
//
// Legacy routing topology (which PIC/IOAPIC pin a GSI maps to) is fixed by
// irqrouting.Table.Initialize and never changes for the VM's lifetime, so
// Enable/Disable here only arm/disarm the trigger notifier -- they never
// touch the routing table, unlike MsiGroup.
type LegacyGroup struct {
	backend  hypervisor.Backend
	gsi      uint32
	status   atomic.Uint32
	mu       sync.Mutex
	notifier hypervisor.Notifier
	resample hypervisor.Notifier
	enabled  bool
}

// NewLegacyGroup creates a one-source legacy group for the given GSI,
// owning a trigger notifier and a resample notifier (legacy interrupts are
// level-capable, so a resample channel is always allocated).
func NewLegacyGroup(backend hypervisor.Backend, gsi uint32, notifier, resample hypervisor.Notifier) *LegacyGroup {
	return &LegacyGroup{backend: backend, gsi: gsi, notifier: notifier, resample: resample}
}

// Kind implements Group.
func (g *LegacyGroup) Kind() Kind { return Legacy }

// Len implements Group.
func (g *LegacyGroup) Len() int { return 1 }

// Base implements Group.
func (g *LegacyGroup) Base() uint32 { return g.gsi }

// TriggerNotifier implements Group.
func (g *LegacyGroup) TriggerNotifier(i int) (hypervisor.Notifier, error) {
	if err := checkIndex(i, 1); err != nil {
		return nil, err
	}
	return g.notifier, nil
}

// ResampleNotifier implements Group.
func (g *LegacyGroup) ResampleNotifier(i int) (hypervisor.Notifier, bool, error) {
	if err := checkIndex(i, 1); err != nil {
		return nil, false, err
	}
	return g.resample, g.resample != nil, nil
}

// Enable implements Group. Legacy routing is pre-installed by
// irqrouting.Table.Initialize, so Enable only registers the trigger
// notifier with the hypervisor backend.
func (g *LegacyGroup) Enable(configs []SourceConfig) error {
	if err := checkConfigsLen(configs, 1); err != nil {
		return err
	}
	if err := checkConfigKind(configs[0], Legacy); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled {
		return &vmmerr.InvalidConfiguration{Reason: "legacy group already enabled"}
	}

	if err := g.backend.RegisterTrigger(g.notifier.FD(), g.gsi); err != nil {
		return vmmerr.NewBackendFailure("register legacy trigger", err)
	}
	g.enabled = true
	irqLogger.WithField("gsi", g.gsi).Debug("enabled legacy interrupt source")
	return nil
}

// Disable implements Group.
func (g *LegacyGroup) Disable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return nil
	}
	if err := g.backend.UnregisterTrigger(g.notifier.FD(), g.gsi); err != nil {
		return vmmerr.NewBackendFailure("unregister legacy trigger", err)
	}
	g.enabled = false
	return nil
}

// Update implements Group. Legacy groups have nothing reconfigurable beyond
// what Enable already established, so Update only re-validates arguments.
func (g *LegacyGroup) Update(i int, config SourceConfig) error {
	if err := checkIndex(i, 1); err != nil {
		return err
	}
	return checkConfigKind(config, Legacy)
}

// Trigger implements Group: ORs flags into the status word, then signals
// the notifier.
func (g *LegacyGroup) Trigger(i int, flags uint32) error {
	if err := checkIndex(i, 1); err != nil {
		return err
	}
	atomicOr32(&g.status, flags)
	return g.notifier.Signal()
}

// Ack implements Group: clears flags from the status word. Does not signal
// anything; acknowledgement is purely a host-side bookkeeping operation.
func (g *LegacyGroup) Ack(i int, flags uint32) error {
	if err := checkIndex(i, 1); err != nil {
		return err
	}
	atomicAndNot32(&g.status, flags)
	return nil
}

// Status returns the current status word, primarily for tests and
// diagnostics.
func (g *LegacyGroup) Status() uint32 {
	return g.status.Load()
}

// Mask implements Group. Legacy groups do not support masking.
func (g *LegacyGroup) Mask(i int) error {
	if err := checkIndex(i, 1); err != nil {
		return err
	}
	return &vmmerr.UnsupportedOperation{Op: "mask on legacy interrupt source group"}
}

// Unmask implements Group.
func (g *LegacyGroup) Unmask(i int) error {
	if err := checkIndex(i, 1); err != nil {
		return err
	}
	return &vmmerr.UnsupportedOperation{Op: "unmask on legacy interrupt source group"}
}

// Pending implements Group.
func (g *LegacyGroup) Pending(i int) (bool, error) {
	if err := checkIndex(i, 1); err != nil {
		return false, err
	}
	return false, &vmmerr.UnsupportedOperation{Op: "pending on legacy interrupt source group"}
}
