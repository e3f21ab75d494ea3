// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package irq implements interrupt source groups (C6): the per-device
// abstraction over a contiguous run of GSIs, in either legacy pin-based or
// MSI flavour, that device models use to raise guest interrupts without
// touching the routing table or the hypervisor backend directly.
//
// Grounded on original_source's src/interrupt/kvm_irq/{legacy_irq,msi_irq}.rs
// (KvmLegacyIrqGroup / KvmMsiIrqGroup), adapted to the teacher's
// logrus/pkg-errors idiom.
package irq

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

var irqLogger = logrus.WithField("subsystem", "irq")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := irqLogger.Data
	irqLogger = logger.WithFields(fields)
}

// MaxLegacyIrqs bounds legacy GSI numbers: pkg/irqmanager only creates a
// LegacyGroup whose GSI is below it. A legacy group's count is always 1.
const MaxLegacyIrqs = 24

// DefaultMaxMsiPerDevice is the factory-default ceiling pkg/irqmanager
// enforces on a single MsiGroup's source count, overridable per-VM via
// SetMaxMsiPerDevice.
const DefaultMaxMsiPerDevice = 128

// Kind distinguishes the two interrupt source group flavours.
type Kind int

const (
	// Legacy is a pin-based group (PIC/IOAPIC), always exactly one source.
	Legacy Kind = iota
	// Msi is a message-signalled group, each source independently
	// configured.
	Msi
)

func (k Kind) String() string {
	switch k {
	case Legacy:
		return "legacy"
	case Msi:
		return "msi"
	default:
		return fmt.Sprintf("<unknown kind: %d>", int(k))
	}
}

// SourceConfig is the per-source configuration payload passed to Enable and
// Update. The concrete type must match the group's Kind.
type SourceConfig interface {
	Kind() Kind
}

// LegacySourceConfig configures the single source of a LegacyGroup. It
// carries no fields: legacy routing topology is fixed by
// irqrouting.Table.Initialize, so enabling a legacy group only needs to
// know which existing route to arm, not how to build one.
type LegacySourceConfig struct{}

// Kind implements SourceConfig.
func (LegacySourceConfig) Kind() Kind { return Legacy }

// MsiSourceConfig configures one source of an MsiGroup: the address/data
// pair the guest programmed into the device's MSI capability.
type MsiSourceConfig struct {
	HighAddr uint32
	LowAddr  uint32
	Data     uint32
}

// Kind implements SourceConfig.
func (MsiSourceConfig) Kind() Kind { return Msi }

// Group is the interrupt source group contract device models are handed by
// pkg/irqmanager. One Group owns a contiguous run of `Len()` GSIs starting
// at Base().
type Group interface {
	Kind() Kind
	Len() int
	Base() uint32

	// TriggerNotifier returns the notifier whose Signal() injects source
	// i into the guest. Index must be < Len().
	TriggerNotifier(i int) (hypervisor.Notifier, error)
	// ResampleNotifier returns the notifier the hypervisor signals when
	// the guest acknowledges a level-triggered source, if the group
	// supports resampling. ok is false when it does not (all MSI
	// sources, since MSI is edge-only).
	ResampleNotifier(i int) (notifier hypervisor.Notifier, ok bool, err error)

	// Enable arms every source with the given configuration, installing
	// routing entries and registering trigger notifiers with the
	// hypervisor backend. len(configs) must equal Len(). On partial
	// failure, Enable rolls back everything it already registered.
	Enable(configs []SourceConfig) error
	// Disable unregisters every source's trigger notifier and removes
	// the routing entries Enable installed (MSI only; legacy routing is
	// fixed and outlives Disable).
	Disable() error
	// Update reconfigures source i in place; the group must already be
	// enabled.
	Update(i int, config SourceConfig) error

	// Trigger raises source i; legacy groups require flags to encode
	// edge/level semantics in the status word, MSI groups require
	// flags == 0.
	Trigger(i int, flags uint32) error
	// Ack acknowledges source i.
	Ack(i int, flags uint32) error

	// Mask suppresses delivery of source i, recording further triggers
	// as pending rather than delivering them. Legacy groups do not
	// support masking.
	Mask(i int) error
	// Unmask resumes delivery of source i, delivering one notification
	// immediately if a trigger was recorded as pending while masked.
	Unmask(i int) error
	// Pending reports whether a trigger is currently recorded as
	// pending for a masked source i.
	Pending(i int) (bool, error)
}

func checkIndex(i, count int) error {
	if i < 0 || i >= count {
		return &vmmerr.InvalidConfiguration{Reason: fmt.Sprintf("source index %d out of range [0,%d)", i, count)}
	}
	return nil
}

func checkConfigsLen(configs []SourceConfig, want int) error {
	if len(configs) != want {
		return &vmmerr.InvalidConfiguration{
			Reason: fmt.Sprintf("enable requires exactly %d configs, got %d", want, len(configs)),
		}
	}
	return nil
}

func checkConfigKind(config SourceConfig, want Kind) error {
	if config.Kind() != want {
		return &vmmerr.InvalidConfiguration{
			Reason: fmt.Sprintf("config kind %s does not match group kind %s", config.Kind(), want),
		}
	}
	return nil
}

// atomicOr32 applies bits |= mask to *addr as a single atomic
// read-modify-write, via a compare-and-swap retry loop (sync/atomic's
// Uint32 has no native Or, unlike its x86 CPU instruction counterpart).
func atomicOr32(addr *atomic.Uint32, mask uint32) {
	for {
		old := addr.Load()
		if addr.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// atomicAndNot32 applies bits &^= mask to *addr atomically.
func atomicAndNot32(addr *atomic.Uint32, mask uint32) {
	for {
		old := addr.Load()
		if addr.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}
