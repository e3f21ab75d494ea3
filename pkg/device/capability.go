// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package device defines the two capability contracts (C3) an emulated
// device exposes to the I/O manager -- MMIO and PIO -- and the blanket
// adapters that lift an exclusive-access device implementation, or a
// multi-owner shared handle, to the shared-reference shape the bus registry
// stores.
//
// Both operations are infallible at this level: a device that detects a
// malformed access swallows it or returns a default value, the same way
// real hardware does not refuse a bus cycle. Failure to find a device at all
// is the registry's concern (pkg/bus), not this package's.
package device

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var devLogger = logrus.WithField("subsystem", "device")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := devLogger.Data
	devLogger = logger.WithFields(fields)
}

// MmioHandler is the capability an MMIO device exposes. base is the range
// base the device was registered under; offset is addr-base, computed by
// the I/O manager before dispatch.
type MmioHandler interface {
	MmioRead(base, offset uint64, data []byte)
	MmioWrite(base, offset uint64, data []byte)
}

// PioHandler is the symmetric 16-bit-address capability a PIO device
// exposes.
type PioHandler interface {
	PioRead(base, offset uint16, data []byte)
	PioWrite(base, offset uint16, data []byte)
}

// MutexMmio lifts an MmioHandler that requires exclusive access (its
// methods mutate device state without internal synchronization) to the
// shared-reference shape the registry stores, by acquiring a per-device
// mutex for the duration of each dispatch and releasing it before
// returning -- on every exit path, including if the wrapped handler panics.
type MutexMmio struct {
	mu     sync.Mutex
	device MmioHandler
}

// NewMutexMmio wraps device so it can be registered and dispatched to from
// multiple vCPU threads concurrently.
func NewMutexMmio(device MmioHandler) *MutexMmio {
	return &MutexMmio{device: device}
}

// MmioRead implements MmioHandler by forwarding under lock.
func (m *MutexMmio) MmioRead(base, offset uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device.MmioRead(base, offset, data)
}

// MmioWrite implements MmioHandler by forwarding under lock.
func (m *MutexMmio) MmioWrite(base, offset uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device.MmioWrite(base, offset, data)
}

// MutexPio is the PIO counterpart of MutexMmio.
type MutexPio struct {
	mu     sync.Mutex
	device PioHandler
}

// NewMutexPio wraps device so it can be registered and dispatched to from
// multiple vCPU threads concurrently.
func NewMutexPio(device PioHandler) *MutexPio {
	return &MutexPio{device: device}
}

// PioRead implements PioHandler by forwarding under lock.
func (m *MutexPio) PioRead(base, offset uint16, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device.PioRead(base, offset, data)
}

// PioWrite implements PioHandler by forwarding under lock.
func (m *MutexPio) PioWrite(base, offset uint16, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device.PioWrite(base, offset, data)
}

// Shared is a trivial multi-owner forwarding adapter: interface values in Go
// are already cheap-to-copy shared references, so Shared exists only to
// name the blanket-adaptation the spec calls for and to give call sites a
// single, explicit place where "this handle is shared, not exclusive" is
// documented -- mirroring how virtcontainers/device/api.Device handles are
// passed around as plain interface values rather than behind a second
// indirection.
type Shared[T any] struct {
	Handle T
}

// NewShared wraps handle for forwarding use.
func NewShared[T any](handle T) Shared[T] {
	return Shared[T]{Handle: handle}
}

// ID identifies one device instance for logging and diagnostics, the same
// role virtcontainers' pod/container identifiers play.
type ID string

// NewID generates a fresh, random device identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}
