// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingMmio struct {
	calls []struct {
		base, offset uint64
		data         []byte
	}
}

func (r *recordingMmio) MmioRead(base, offset uint64, data []byte) {}

func (r *recordingMmio) MmioWrite(base, offset uint64, data []byte) {
	cp := append([]byte(nil), data...)
	r.calls = append(r.calls, struct {
		base, offset uint64
		data         []byte
	}{base, offset, cp})
}

// MutexMmio must forward (base, offset, data) to the wrapped device
// unchanged, exactly once. The offset computation itself is exercised in
// pkg/iomanager.
func TestMutexMmioForwardsExactArguments(t *testing.T) {
	assert := assert.New(t)
	rec := &recordingMmio{}
	m := NewMutexMmio(rec)

	m.MmioWrite(0x1000, 0x4, []byte{0xAB})

	assert.Len(rec.calls, 1)
	assert.Equal(uint64(0x1000), rec.calls[0].base)
	assert.Equal(uint64(0x4), rec.calls[0].offset)
	assert.Equal([]byte{0xAB}, rec.calls[0].data)
}

func TestMutexMmioSerializesConcurrentAccess(t *testing.T) {
	rec := &recordingMmio{}
	m := NewMutexMmio(rec)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.MmioWrite(0, uint64(i), []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, rec.calls, 100)
}
