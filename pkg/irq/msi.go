// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irq

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/irqrouting"
	"github.com/kata-containers/vmm-io/pkg/vmmerr"
)

// MsiGroup is a message-signalled interrupt source group: each of its
// `count` sources is independently routed, configured, masked and
// triggered. Grounded on original_source's kvm_irq/msi_irq.rs
// KvmMsiIrqGroup, which performs the same per-source route-add on enable
// and route-remove on disable.
//
// Unlike LegacyGroup, MSI routing is not a fixed platform topology: every
// source's (address, data) pair is programmed by the guest through the
// device's MSI capability, so Enable/Update/Disable all mutate the shared
// irqrouting.Table.
type MsiGroup struct {
	backend hypervisor.Backend
	table   *irqrouting.Table
	base    uint32
	count   int

	mu        sync.Mutex
	notifiers []hypervisor.Notifier
	masked    []bool
	pending   []bool
	enabled   bool
}

// NewMsiGroup creates an MSI group starting at GSI base with one source per
// entry of notifiers, so the group's count is len(notifiers). Disable does
// not Close the notifiers; irqmanager.Manager.DestroyGroup does.
func NewMsiGroup(backend hypervisor.Backend, table *irqrouting.Table, base uint32, notifiers []hypervisor.Notifier) *MsiGroup {
	return &MsiGroup{
		backend:   backend,
		table:     table,
		base:      base,
		count:     len(notifiers),
		notifiers: notifiers,
		masked:    make([]bool, len(notifiers)),
		pending:   make([]bool, len(notifiers)),
	}
}

// Kind implements Group.
func (g *MsiGroup) Kind() Kind { return Msi }

// Len implements Group.
func (g *MsiGroup) Len() int { return g.count }

// Base implements Group.
func (g *MsiGroup) Base() uint32 { return g.base }

// TriggerNotifier implements Group.
func (g *MsiGroup) TriggerNotifier(i int) (hypervisor.Notifier, error) {
	if err := checkIndex(i, g.count); err != nil {
		return nil, err
	}
	return g.notifiers[i], nil
}

// ResampleNotifier implements Group. MSI is always edge-triggered, so no
// MSI source ever has a resample channel.
func (g *MsiGroup) ResampleNotifier(i int) (hypervisor.Notifier, bool, error) {
	if err := checkIndex(i, g.count); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (g *MsiGroup) routeEntry(i int, config MsiSourceConfig) irqrouting.Entry {
	return irqrouting.NewMsiEntry(g.base+uint32(i), irqrouting.MsiPayload{
		HighAddr: config.HighAddr,
		LowAddr:  config.LowAddr,
		Data:     config.Data,
	})
}

// Enable implements Group: installs one routing entry per source and
// registers each source's trigger notifier with the hypervisor backend. If
// any step fails, everything already registered in this call is rolled
// back before the error is returned.
func (g *MsiGroup) Enable(configs []SourceConfig) error {
	if err := checkConfigsLen(configs, g.count); err != nil {
		return err
	}
	msiConfigs := make([]MsiSourceConfig, g.count)
	for i, c := range configs {
		if err := checkConfigKind(c, Msi); err != nil {
			return err
		}
		msiConfigs[i] = c.(MsiSourceConfig)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled {
		return &vmmerr.InvalidConfiguration{Reason: "msi group already enabled"}
	}

	entries := make([]irqrouting.Entry, g.count)
	for i, c := range msiConfigs {
		entries[i] = g.routeEntry(i, c)
	}
	if err := g.table.Add(entries); err != nil {
		return err
	}

	registered := 0
	var enableErr error
	for i := 0; i < g.count; i++ {
		if err := g.backend.RegisterTrigger(g.notifiers[i].FD(), g.base+uint32(i)); err != nil {
			enableErr = vmmerr.NewBackendFailure("register msi trigger", err)
			break
		}
		registered++
	}

	if enableErr != nil {
		// Roll back the triggers this call registered, then the
		// routing entries, before surfacing the failure.
		var rollback *multierror.Error
		for i := 0; i < registered; i++ {
			if err := g.backend.UnregisterTrigger(g.notifiers[i].FD(), g.base+uint32(i)); err != nil {
				rollback = multierror.Append(rollback, err)
			}
		}
		if err := g.table.Remove(entries); err != nil {
			rollback = multierror.Append(rollback, err)
		}
		if rollback.ErrorOrNil() != nil {
			irqLogger.WithError(rollback).Warn("msi group enable rollback encountered further errors")
		}
		return enableErr
	}

	g.enabled = true
	irqLogger.WithFields(map[string]interface{}{"base": g.base, "count": g.count}).Debug("enabled msi interrupt source group")
	return nil
}

// Disable implements Group: unregisters every source's trigger notifier and
// removes its routing entry.
func (g *MsiGroup) Disable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return nil
	}

	var result *multierror.Error
	entries := make([]irqrouting.Entry, 0, g.count)
	for i := 0; i < g.count; i++ {
		if err := g.backend.UnregisterTrigger(g.notifiers[i].FD(), g.base+uint32(i)); err != nil {
			result = multierror.Append(result, vmmerr.NewBackendFailure("unregister msi trigger", err))
		}
		entries = append(entries, irqrouting.NewMsiEntry(g.base+uint32(i), irqrouting.MsiPayload{}))
	}
	if err := g.table.Remove(entries); err != nil {
		result = multierror.Append(result, err)
	}

	g.enabled = false
	return result.ErrorOrNil()
}

// Update implements Group: reprograms source i's routing entry in place.
func (g *MsiGroup) Update(i int, config SourceConfig) error {
	if err := checkIndex(i, g.count); err != nil {
		return err
	}
	if err := checkConfigKind(config, Msi); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return &vmmerr.InvalidConfiguration{Reason: "msi group is not enabled"}
	}
	return g.table.Modify(g.routeEntry(i, config.(MsiSourceConfig)))
}

// Trigger implements Group. MSI sources carry no trigger flags; a masked
// source records the trigger as pending instead of signalling.
func (g *MsiGroup) Trigger(i int, flags uint32) error {
	if err := checkIndex(i, g.count); err != nil {
		return err
	}
	if flags != 0 {
		return &vmmerr.InvalidConfiguration{Reason: "msi trigger flags must be 0"}
	}

	g.mu.Lock()
	masked := g.masked[i]
	if masked {
		g.pending[i] = true
	}
	g.mu.Unlock()

	if masked {
		return nil
	}
	return g.notifiers[i].Signal()
}

// Ack implements Group. Acknowledging an edge-triggered MSI source is a
// no-op on the host side; there is no status word to clear.
func (g *MsiGroup) Ack(i int, flags uint32) error {
	if err := checkIndex(i, g.count); err != nil {
		return err
	}
	if flags != 0 {
		return &vmmerr.InvalidConfiguration{Reason: "msi ack flags must be 0"}
	}
	return nil
}

// Mask implements Group.
func (g *MsiGroup) Mask(i int) error {
	if err := checkIndex(i, g.count); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.masked[i] = true
	return nil
}

// Unmask implements Group. If a trigger arrived while masked, it is
// delivered once, immediately.
func (g *MsiGroup) Unmask(i int) error {
	if err := checkIndex(i, g.count); err != nil {
		return err
	}
	g.mu.Lock()
	g.masked[i] = false
	deliver := g.pending[i]
	g.pending[i] = false
	g.mu.Unlock()

	if deliver {
		return g.notifiers[i].Signal()
	}
	return nil
}

// Pending implements Group.
func (g *MsiGroup) Pending(i int) (bool, error) {
	if err := checkIndex(i, g.count); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[i], nil
}
