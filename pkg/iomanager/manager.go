// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package iomanager implements the I/O manager (C4): it composes one MMIO
// bus registry and one PIO bus registry, dispatches guest accesses to the
// correct device, and drives registration from resource sets. It has no
// awareness of interrupt routing -- that is pkg/irqmanager's job.
package iomanager

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/vmm-io/pkg/bus"
	"github.com/kata-containers/vmm-io/pkg/device"
	"github.com/kata-containers/vmm-io/pkg/metrics"
	"github.com/kata-containers/vmm-io/pkg/resource"
	"github.com/kata-containers/vmm-io/pkg/tracing"
	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

var ioLogger = logrus.WithField("subsystem", "iomanager")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := ioLogger.Data
	ioLogger = logger.WithFields(fields)
}

// Manager composes the MMIO and PIO bus registries a single VM instance
// uses. It is stateless beyond its two registries: the zero value is not
// usable, construct with New.
type Manager struct {
	mmio    *bus.Registry[device.MmioHandler]
	pio     *bus.Registry[device.PioHandler]
	metrics *metrics.Collector
}

// New creates an I/O manager with two empty bus registries.
func New() *Manager {
	return &Manager{
		mmio: bus.NewRegistry[device.MmioHandler](bus.Mmio),
		pio:  bus.NewRegistry[device.PioHandler](bus.Pio),
	}
}

// WithMetrics attaches a metrics.Collector that subsequent dispatch and
// registration calls report to.
func (m *Manager) WithMetrics(c *metrics.Collector) *Manager {
	m.metrics = c
	return m
}

func dispatchOutcome(err error) string {
	if err == nil {
		return "hit"
	}
	if _, ok := err.(*vmmerr.InvalidAccessLength); ok {
		return "invalid_length"
	}
	return "miss"
}

// RegisterMmio registers device under rng on the MMIO bus.
func (m *Manager) RegisterMmio(rng bus.Range, dev device.MmioHandler) error {
	err := m.mmio.Register(rng, dev)
	if _, ok := err.(*vmmerr.DeviceOverlap); ok {
		m.metrics.ObserveOverlap("mmio")
	}
	return err
}

// RegisterPio registers device under rng on the PIO bus.
func (m *Manager) RegisterPio(rng bus.Range, dev device.PioHandler) error {
	err := m.pio.Register(rng, dev)
	if _, ok := err.(*vmmerr.DeviceOverlap); ok {
		m.metrics.ObserveOverlap("pio")
	}
	return err
}

// DeregisterMmio removes the MMIO range containing addr, if any.
func (m *Manager) DeregisterMmio(addr bus.Address) (bus.Range, device.MmioHandler, bool) {
	return m.mmio.Deregister(addr)
}

// DeregisterPio removes the PIO range containing addr, if any.
func (m *Manager) DeregisterPio(addr bus.Address) (bus.Range, device.PioHandler, bool) {
	return m.pio.Deregister(addr)
}

// MmioRead validates the access against the MMIO bus and dispatches it to
// the owning device with a base-relative offset.
func (m *Manager) MmioRead(addr bus.Address, data []byte) error {
	span, _ := tracing.Trace(context.Background(), "iomanager.MmioRead", map[string]string{"addr": addr.String()})
	defer span.End()

	rng, dev, err := m.mmio.CheckAccess(addr, uint64(len(data)))
	m.metrics.ObserveDispatch("mmio", dispatchOutcome(err))
	if err != nil {
		return err
	}
	dev.MmioRead(rng.Base().Value(), addr.Sub(rng.Base()), data)
	return nil
}

// MmioWrite validates the access against the MMIO bus and dispatches it to
// the owning device with a base-relative offset.
func (m *Manager) MmioWrite(addr bus.Address, data []byte) error {
	span, _ := tracing.Trace(context.Background(), "iomanager.MmioWrite", map[string]string{"addr": addr.String()})
	defer span.End()

	rng, dev, err := m.mmio.CheckAccess(addr, uint64(len(data)))
	m.metrics.ObserveDispatch("mmio", dispatchOutcome(err))
	if err != nil {
		return err
	}
	dev.MmioWrite(rng.Base().Value(), addr.Sub(rng.Base()), data)
	return nil
}

// PioRead validates the access against the PIO bus and dispatches it to the
// owning device with a base-relative offset.
func (m *Manager) PioRead(addr bus.Address, data []byte) error {
	span, _ := tracing.Trace(context.Background(), "iomanager.PioRead", map[string]string{"addr": addr.String()})
	defer span.End()

	rng, dev, err := m.pio.CheckAccess(addr, uint64(len(data)))
	m.metrics.ObserveDispatch("pio", dispatchOutcome(err))
	if err != nil {
		return err
	}
	dev.PioRead(uint16(rng.Base().Value()), uint16(addr.Sub(rng.Base())), data)
	return nil
}

// PioWrite validates the access against the PIO bus and dispatches it to the
// owning device with a base-relative offset.
func (m *Manager) PioWrite(addr bus.Address, data []byte) error {
	span, _ := tracing.Trace(context.Background(), "iomanager.PioWrite", map[string]string{"addr": addr.String()})
	defer span.End()

	rng, dev, err := m.pio.CheckAccess(addr, uint64(len(data)))
	m.metrics.ObserveDispatch("pio", dispatchOutcome(err))
	if err != nil {
		return err
	}
	dev.PioWrite(uint16(rng.Base().Value()), uint16(addr.Sub(rng.Base())), data)
	return nil
}

// RegisterMmioResources is the MMIO half of RegisterResources, exposed
// separately for callers that only hold an MmioHandler.
func (m *Manager) RegisterMmioResources(dev device.MmioHandler, resources resource.Set) error {
	var result *multierror.Error
	for _, r := range resources {
		mr, ok := r.MmioRange()
		if !ok {
			continue
		}
		rng, err := bus.NewRange(bus.MmioAddress(mr.Base), mr.Size)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := m.RegisterMmio(rng, dev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RegisterPioResources is the PIO half of RegisterResources.
func (m *Manager) RegisterPioResources(dev device.PioHandler, resources resource.Set) error {
	var result *multierror.Error
	for _, r := range resources {
		pr, ok := r.PioRange()
		if !ok {
			continue
		}
		rng, err := bus.NewRange(bus.PioAddress(pr.Base), uint64(pr.Size))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := m.RegisterPio(rng, dev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Device is the capability set required of a device registered through
// RegisterResources: both MMIO and PIO. Devices that implement only one
// should call RegisterMmioResources or RegisterPioResources directly.
type Device interface {
	device.MmioHandler
	device.PioHandler
}

// RegisterResources iterates resources and registers every PIO/MMIO range
// resource against the matching bus for dev. Non-range resources (IRQ
// numbers, MAC, memory slots) are ignored here -- they are consumed by the
// interrupt manager and other subsystems. Registration is best-effort: if a
// registration fails partway, ranges already registered remain registered
// and the returned error aggregates every failure seen (the caller is
// expected to have pre-validated the resource set for uniqueness; partial
// progress is a deliberate simplification, not a bug).
func (m *Manager) RegisterResources(dev Device, resources resource.Set) error {
	id := device.NewID()
	ioLogger.WithField("device_id", id).Debug("registering device resources")

	var result *multierror.Error
	if err := m.RegisterMmioResources(dev, resources); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.RegisterPioResources(dev, resources); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// DeregisterResources removes every PIO and MMIO range named by resources
// and returns the count of ranges actually removed.
func (m *Manager) DeregisterResources(resources resource.Set) int {
	count := 0
	for _, r := range resources {
		if mr, ok := r.MmioRange(); ok {
			if _, _, ok := m.mmio.Deregister(bus.MmioAddress(mr.Base)); ok {
				count++
			}
			continue
		}
		if pr, ok := r.PioRange(); ok {
			if _, _, ok := m.pio.Deregister(bus.PioAddress(pr.Base)); ok {
				count++
			}
		}
	}
	return count
}
