// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package hypervisor

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// KVM ioctl numbers, from linux/kvm.h. Grounded on the raw-ioctl style the
// gokvm machine.go reference file uses against /dev/kvm and per-VM fds
// (KVM_CREATE_VM, KVM_SET_USER_MEMORY_REGION, etc. there follow the same
// _IOW/_IOWR encoding).
const (
	kvmCreateVM          = 0xae01     // _IO(KVMIO, 0x01)
	kvmIRQFD             = 0x4020ae76 // _IOW(KVMIO, 0x76, struct kvm_irqfd)
	kvmSetGSIRouting     = 0x4008ae6a // _IOW(KVMIO, 0x6a, struct kvm_irq_routing)
	kvmIRQFDFlagDeassign = 1 << 0
)

// kvmIrqfdEntry mirrors struct kvm_irqfd.
type kvmIrqfdEntry struct {
	fd         uint32
	gsi        uint32
	flags      uint32
	resamplefd uint32
	pad        [16]byte
}

// KVMBackend is a hypervisor.Backend implementation talking directly to an
// open /dev/kvm VM file descriptor via ioctl(2), the same primitive the
// gokvm reference machine.go builds its device model on.
type KVMBackend struct {
	vmFd uintptr
}

// NewKVMBackend wraps an already-created VM file descriptor (the result of
// ioctl(KVM_CREATE_VM) against an open /dev/kvm handle).
func NewKVMBackend(vmFd uintptr) *KVMBackend {
	return &KVMBackend{vmFd: vmFd}
}

// OpenKVMBackend opens /dev/kvm and creates a VM, returning a ready-to-use
// backend plus the underlying file handles for the caller to keep alive and
// eventually Close.
func OpenKVMBackend() (backend *KVMBackend, kvmFile *os.File, err error) {
	kvmFile, err = os.OpenFile("/dev/kvm", os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open /dev/kvm")
	}

	vmFd, _, errno := unix.Syscall(unix.SYS_IOCTL, kvmFile.Fd(), uintptr(kvmCreateVM), 0)
	if errno != 0 {
		kvmFile.Close()
		return nil, nil, errors.Wrap(errno, "KVM_CREATE_VM")
	}

	return &KVMBackend{vmFd: vmFd}, kvmFile, nil
}

// InstallRouting implements hypervisor.Backend by issuing
// ioctl(KVM_SET_GSI_ROUTING) with the supplied wire-format blob, which
// irqrouting.Encode shapes to match struct kvm_irq_routing's
// header-then-entries layout directly.
func (k *KVMBackend) InstallRouting(blob []byte) error {
	if len(blob) == 0 {
		return errors.New("empty routing blob")
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, k.vmFd, uintptr(kvmSetGSIRouting), uintptr(unsafe.Pointer(&blob[0])))
	if errno != 0 {
		return errors.Wrap(errno, "KVM_SET_GSI_ROUTING")
	}
	return nil
}

// RegisterTrigger implements hypervisor.Backend by issuing ioctl(KVM_IRQFD)
// to bind fd to gsi: every write to fd now injects gsi into the guest.
func (k *KVMBackend) RegisterTrigger(fd uintptr, gsi uint32) error {
	entry := kvmIrqfdEntry{fd: uint32(fd), gsi: gsi}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, k.vmFd, uintptr(kvmIRQFD), uintptr(unsafe.Pointer(&entry)))
	if errno != 0 {
		return errors.Wrap(errno, "KVM_IRQFD (assign)")
	}
	return nil
}

// UnregisterTrigger implements hypervisor.Backend, reversing
// RegisterTrigger via the KVM_IRQFD_FLAG_DEASSIGN flag.
func (k *KVMBackend) UnregisterTrigger(fd uintptr, gsi uint32) error {
	entry := kvmIrqfdEntry{fd: uint32(fd), gsi: gsi, flags: kvmIRQFDFlagDeassign}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, k.vmFd, uintptr(kvmIRQFD), uintptr(unsafe.Pointer(&entry)))
	if errno != 0 {
		return errors.Wrap(errno, "KVM_IRQFD (deassign)")
	}
	return nil
}
