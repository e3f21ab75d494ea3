// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package irqrouting

import (
	"encoding/binary"
)

// Wire layout, little-endian throughout, matching the kvm_irq_routing /
// kvm_irq_routing_entry layout the original_source upstream serialises to
// before calling ioctl(KVM_SET_GSI_ROUTING):
//
//	header:  count uint32, flags uint32 (reserved, always 0)
//	entry:   gsi uint32, kind uint32, flags uint32 (reserved, always 0), payload [16]byte
//	  pin payload:  controller uint32, pin uint32, then 8 bytes padding
//	  msi payload:  high_addr uint32, low_addr uint32, data uint32, devid uint32
const (
	headerSize = 8
	entrySize  = 4 + 4 + 4 + 16
)

// Encode serialises entries into the whole-table wire format committed to
// hypervisor.Backend.InstallRouting. Map iteration order is randomised by
// Go, but the table is a replace-everything commit, so entry order within
// the blob carries no meaning.
func Encode(entries map[RouteKey]Entry) []byte {
	buf := make([]byte, headerSize+entrySize*len(entries))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	binary.LittleEndian.PutUint32(buf[4:8], 0)

	offset := headerSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], e.Key.Gsi)
		binary.LittleEndian.PutUint32(buf[offset+4:offset+8], uint32(e.Key.Kind))
		binary.LittleEndian.PutUint32(buf[offset+8:offset+12], 0)

		payload := buf[offset+12 : offset+12+16]
		switch e.Key.Kind {
		case RoutePin:
			binary.LittleEndian.PutUint32(payload[0:4], e.Pin.Controller)
			binary.LittleEndian.PutUint32(payload[4:8], e.Pin.Pin)
		case RouteMsi:
			binary.LittleEndian.PutUint32(payload[0:4], e.Msi.HighAddr)
			binary.LittleEndian.PutUint32(payload[4:8], e.Msi.LowAddr)
			binary.LittleEndian.PutUint32(payload[8:12], e.Msi.Data)
			binary.LittleEndian.PutUint32(payload[12:16], e.Msi.DevID)
		}

		offset += entrySize
	}
	return buf
}
