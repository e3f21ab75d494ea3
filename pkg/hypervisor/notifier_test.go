// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package hypervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventfdNotifierSignalWaitRoundTrip(t *testing.T) {
	n, err := NewEventfdNotifier()
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Signal())
	require.NoError(t, n.Signal())

	done := make(chan uint64, 1)
	go func() {
		v, err := n.Wait()
		assert.NoError(t, err)
		done <- v
	}()

	select {
	case v := <-done:
		assert.Equal(t, uint64(2), v, "counting eventfd accumulates signals until Wait resets it")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the eventfd was already signalled -- it should not block forever")
	}
}

func TestEventfdNotifierWaitBlocksUntilSignalled(t *testing.T) {
	n, err := NewEventfdNotifier()
	require.NoError(t, err)
	defer n.Close()

	done := make(chan uint64, 1)
	go func() {
		v, err := n.Wait()
		assert.NoError(t, err)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before the notifier was ever signalled")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, n.Signal())
	select {
	case v := <-done:
		assert.Equal(t, uint64(1), v)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake up after Signal")
	}
}
