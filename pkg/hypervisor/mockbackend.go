// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package hypervisor

import (
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify/mock-based Backend test double, the same style
// virtcontainers/pkg/vcmock uses to stand in for a real hypervisor driver in
// unit tests.
type MockBackend struct {
	mock.Mock
}

// InstallRouting implements Backend.
func (m *MockBackend) InstallRouting(blob []byte) error {
	args := m.Called(blob)
	return args.Error(0)
}

// RegisterTrigger implements Backend.
func (m *MockBackend) RegisterTrigger(fd uintptr, gsi uint32) error {
	args := m.Called(fd, gsi)
	return args.Error(0)
}

// UnregisterTrigger implements Backend.
func (m *MockBackend) UnregisterTrigger(fd uintptr, gsi uint32) error {
	args := m.Called(fd, gsi)
	return args.Error(0)
}

var fakeNotifierIDs uint64

// FakeNotifier is a pure in-process Notifier test double: an atomic counter
// plus a buffered signalling channel, avoiding a dependency on a real
// eventfd syscall for unit tests that only care about counting semantics.
type FakeNotifier struct {
	mu      sync.Mutex
	id      uintptr
	counter uint64
	signals chan struct{}
	closed  bool
}

// NewFakeNotifier creates a ready-to-use FakeNotifier with a stable,
// process-unique fake descriptor identity.
func NewFakeNotifier() *FakeNotifier {
	id := atomic.AddUint64(&fakeNotifierIDs, 1)
	return &FakeNotifier{id: uintptr(id), signals: make(chan struct{}, 1024)}
}

// Signal implements Notifier.
func (f *FakeNotifier) Signal() error {
	atomic.AddUint64(&f.counter, 1)
	select {
	case f.signals <- struct{}{}:
	default:
	}
	return nil
}

// Wait implements Notifier.
func (f *FakeNotifier) Wait() (uint64, error) {
	<-f.signals
	return atomic.SwapUint64(&f.counter, 0), nil
}

// FD returns a stable, fake non-zero descriptor identity unique to this
// notifier instance, sufficient for backends that merely track identity.
func (f *FakeNotifier) FD() uintptr {
	return f.id
}

// Count returns the current accumulated signal count without waiting,
// useful for test assertions.
func (f *FakeNotifier) Count() uint64 {
	return atomic.LoadUint64(&f.counter)
}

// Close implements Notifier.
func (f *FakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.signals)
	return nil
}

// Closed reports whether Close has been called, for test assertions.
func (f *FakeNotifier) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
