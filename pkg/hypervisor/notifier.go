// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package hypervisor

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// EventfdNotifier is a Notifier backed by a Linux eventfd in counting mode,
// the same primitive real KVM irqfds are built on (see kvmbackend.go and
// the gokvm reference this package is grounded on).
type EventfdNotifier struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewEventfdNotifier creates a non-semaphore (counting) eventfd notifier.
func NewEventfdNotifier() (*EventfdNotifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &EventfdNotifier{fd: fd}, nil
}

// Signal writes 1 to the eventfd counter.
func (n *EventfdNotifier) Signal() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(n.fd, buf[:])
	if err == unix.EAGAIN {
		// The counter is already non-zero and would overflow; the
		// pending notification is still observable by the next Wait.
		return nil
	}
	return err
}

// Wait blocks until the eventfd counter is non-zero, then reads and resets
// it to zero, returning the value that had accumulated. The fd itself is
// non-blocking (EFD_NONBLOCK), so the wait is implemented with poll(2)
// rather than a busy-retry loop on EAGAIN.
func (n *EventfdNotifier) Wait() (uint64, error) {
	var buf [8]byte
	for {
		pollFds := []unix.PollFd{{Fd: int32(n.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pollFds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, err
		}

		_, err := unix.Read(n.fd, buf[:])
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
}

// FD returns the raw eventfd descriptor.
func (n *EventfdNotifier) FD() uintptr {
	return uintptr(n.fd)
}

// Close releases the descriptor. Safe to call multiple times.
func (n *EventfdNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return unix.Close(n.fd)
}
