// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package resource implements the tagged resource descriptor model (C5): the
// contract between a resource allocator (out of scope, see spec.md §1) and
// the device-registration layer (pkg/iomanager). It mirrors the shape of
// virtcontainers/device/config's DeviceInfo-adjacent value types and
// original_source's rust-vmm resources.rs accessor helpers, re-expressed as
// a closed Go sum type.
package resource

import "fmt"

// Kind tags which variant a Resource value holds.
type Kind int

const (
	KindPioRange Kind = iota
	KindMmioRange
	KindLegacyIrq
	KindMsiBlock
	KindMacAddress
	KindHypervisorMemorySlot
)

func (k Kind) String() string {
	switch k {
	case KindPioRange:
		return "pio-range"
	case KindMmioRange:
		return "mmio-range"
	case KindLegacyIrq:
		return "legacy-irq"
	case KindMsiBlock:
		return "msi-block"
	case KindMacAddress:
		return "mac-address"
	case KindHypervisorMemorySlot:
		return "hypervisor-memory-slot"
	default:
		return fmt.Sprintf("<unknown resource kind: %d>", int(k))
	}
}

// MsiKind distinguishes the three MSI delivery mechanisms a block of
// message-signalled interrupt vectors can be allocated for.
type MsiKind int

const (
	PciMsi MsiKind = iota
	PciMsix
	GenericMsi
)

func (k MsiKind) String() string {
	switch k {
	case PciMsi:
		return "pci-msi"
	case PciMsix:
		return "pci-msix"
	case GenericMsi:
		return "generic-msi"
	default:
		return fmt.Sprintf("<unknown msi kind: %d>", int(k))
	}
}

// PioRange describes a pre-allocated port I/O range.
type PioRange struct {
	Base uint16
	Size uint16
}

// MmioRange describes a pre-allocated memory-mapped I/O range.
type MmioRange struct {
	Base uint64
	Size uint64
}

// MsiBlock describes a pre-allocated, contiguous block of MSI/MSI-X
// interrupt identifiers.
type MsiBlock struct {
	Kind MsiKind
	Base uint32
	Size uint32
}

// Resource is a closed tagged variant: exactly one of the typed fields is
// meaningful, selected by Kind. Resource is a plain value type (no pointers
// required) so a ResourceSet can be copied and compared cheaply, matching
// the teacher's DeviceInfo/VFIODev value-struct convention.
type Resource struct {
	kind Kind

	pioRange  PioRange
	mmioRange MmioRange
	legacyIrq uint32
	msiBlock  MsiBlock
	mac       string
	memSlot   uint32
}

// Kind reports which variant this Resource holds.
func (r Resource) Kind() Kind { return r.kind }

// NewPioRange constructs a PioRange resource.
func NewPioRange(base, size uint16) Resource {
	return Resource{kind: KindPioRange, pioRange: PioRange{Base: base, Size: size}}
}

// NewMmioRange constructs an MmioRange resource.
func NewMmioRange(base, size uint64) Resource {
	return Resource{kind: KindMmioRange, mmioRange: MmioRange{Base: base, Size: size}}
}

// NewLegacyIrq constructs a LegacyIrq resource.
func NewLegacyIrq(irq uint32) Resource {
	return Resource{kind: KindLegacyIrq, legacyIrq: irq}
}

// NewMsiBlock constructs an MsiBlock resource.
func NewMsiBlock(kind MsiKind, base, size uint32) Resource {
	return Resource{kind: KindMsiBlock, msiBlock: MsiBlock{Kind: kind, Base: base, Size: size}}
}

// NewMacAddress constructs a MacAddress resource.
func NewMacAddress(mac string) Resource {
	return Resource{kind: KindMacAddress, mac: mac}
}

// NewHypervisorMemorySlot constructs a HypervisorMemorySlot resource.
func NewHypervisorMemorySlot(slot uint32) Resource {
	return Resource{kind: KindHypervisorMemorySlot, memSlot: slot}
}

// PioRange returns the payload and true if this Resource is a PioRange.
func (r Resource) PioRange() (PioRange, bool) {
	return r.pioRange, r.kind == KindPioRange
}

// MmioRange returns the payload and true if this Resource is an MmioRange.
func (r Resource) MmioRange() (MmioRange, bool) {
	return r.mmioRange, r.kind == KindMmioRange
}

// LegacyIrq returns the payload and true if this Resource is a LegacyIrq.
func (r Resource) LegacyIrq() (uint32, bool) {
	return r.legacyIrq, r.kind == KindLegacyIrq
}

// MsiBlock returns the payload and true if this Resource is an MsiBlock.
func (r Resource) MsiBlock() (MsiBlock, bool) {
	return r.msiBlock, r.kind == KindMsiBlock
}

// MacAddress returns the payload and true if this Resource is a MacAddress.
func (r Resource) MacAddress() (string, bool) {
	return r.mac, r.kind == KindMacAddress
}

// HypervisorMemorySlot returns the payload and true if this Resource is a
// HypervisorMemorySlot.
func (r Resource) HypervisorMemorySlot() (uint32, bool) {
	return r.memSlot, r.kind == KindHypervisorMemorySlot
}

func (r Resource) String() string {
	switch r.kind {
	case KindPioRange:
		return fmt.Sprintf("pio-range{base:0x%x,size:0x%x}", r.pioRange.Base, r.pioRange.Size)
	case KindMmioRange:
		return fmt.Sprintf("mmio-range{base:0x%x,size:0x%x}", r.mmioRange.Base, r.mmioRange.Size)
	case KindLegacyIrq:
		return fmt.Sprintf("legacy-irq{%d}", r.legacyIrq)
	case KindMsiBlock:
		return fmt.Sprintf("msi-block{kind:%s,base:%d,size:%d}", r.msiBlock.Kind, r.msiBlock.Base, r.msiBlock.Size)
	case KindMacAddress:
		return fmt.Sprintf("mac-address{%s}", r.mac)
	case KindHypervisorMemorySlot:
		return fmt.Sprintf("hypervisor-memory-slot{%d}", r.memSlot)
	default:
		return "<invalid resource>"
	}
}
