// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package vmmerr defines the typed error kinds surfaced by the bus registry,
// I/O manager and interrupt subsystems. Every error here is a distinct
// comparable type so callers can branch on kind with errors.As, while the
// optional wrapped cause (via github.com/pkg/errors) keeps the original
// stack trace for BackendFailure.
package vmmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidRange is returned when a Range is constructed with a zero size or
// with bounds that overflow the address width.
type InvalidRange struct {
	Reason string
}

func (e *InvalidRange) Error() string {
	return fmt.Sprintf("invalid range: %s", e.Reason)
}

// InvalidAccessLength is returned when an access length does not fit the
// bus's offset type (e.g. a PIO access longer than 2^16-1 bytes).
type InvalidAccessLength struct {
	Len uint64
}

func (e *InvalidAccessLength) Error() string {
	return fmt.Sprintf("invalid access length: %d", e.Len)
}

// DeviceOverlap is returned when registering a range would overlap one
// already present on the bus.
type DeviceOverlap struct {
	Reason string
}

func (e *DeviceOverlap) Error() string {
	return fmt.Sprintf("device overlap: %s", e.Reason)
}

// DeviceNotFound is returned when no registered range covers an address or
// an access.
type DeviceNotFound struct {
	Reason string
}

func (e *DeviceNotFound) Error() string {
	return fmt.Sprintf("device not found: %s", e.Reason)
}

// InvalidConfiguration is returned when an interrupt source config variant
// mismatches the owning group's kind, an index is out of range, or flags are
// disallowed for the operation.
type InvalidConfiguration struct {
	Reason string
}

func (e *InvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// NotFound is returned by routing-table modify on a missing key.
type NotFound struct {
	Reason string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Reason)
}

// Duplicate is returned by routing-table add on an existing key.
type Duplicate struct {
	Reason string
}

func (e *Duplicate) Error() string {
	return fmt.Sprintf("duplicate: %s", e.Reason)
}

// BackendFailure wraps a rejection from the hypervisor backend. Cause keeps
// the pkg/errors stack trace intact through Unwrap.
type BackendFailure struct {
	Op    string
	Cause error
}

func (e *BackendFailure) Error() string {
	return fmt.Sprintf("hypervisor backend failure during %s: %v", e.Op, e.Cause)
}

func (e *BackendFailure) Unwrap() error {
	return e.Cause
}

// NewBackendFailure wraps cause with a stack trace via pkg/errors so
// ErrorReport-style tooling upstream can still recover it.
func NewBackendFailure(op string, cause error) *BackendFailure {
	return &BackendFailure{Op: op, Cause: errors.Wrap(cause, op)}
}

// UnsupportedOperation is returned for operations a given group kind does
// not implement, e.g. mask/unmask on a legacy group.
type UnsupportedOperation struct {
	Op string
}

func (e *UnsupportedOperation) Error() string {
	return fmt.Sprintf("unsupported operation: %s", e.Op)
}
