// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error labels, grounded on the teacher's operation.go label
// constants of the same names.
const (
	NetworkError                   = "NetworkError"
	RetryableWriteError            = "RetryableWriteError"
	TransientTransactionError      = "TransientTransactionError"
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
	NoWritesPerformed              = "NoWritesPerformed"
)

// labeledError is an error that carries server- or driver-assigned
// labels, used by the retryability classifier (spec.md §4.1) and by
// callers inspecting a surfaced error (spec.md §7).
type labeledError interface {
	error
	HasErrorLabel(string) bool
}

// ConnectionError represents a transport-level fault: a socket reset,
// a timeout, or a pool-paused failure while trying to obtain a
// connection (spec.md §7). PoolPaused distinguishes the sub-kind the
// connection-acquisition retry predicate (spec.md §4.5) cares about.
type ConnectionError struct {
	Address    string
	Wrapped    error
	PoolPaused bool
}

func (e ConnectionError) Error() string {
	msg := "connection error"
	if e.Address != "" {
		msg += " to " + e.Address
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

// HasErrorLabel reports whether label applies; connection errors
// always carry NetworkError.
func (e ConnectionError) HasErrorLabel(label string) bool {
	return label == NetworkError
}

// Retryable reports whether a failure to obtain a connection is
// itself eligible to drive a retry (spec.md §4.5 "Connection-acquisition
// retry").
func (e ConnectionError) Retryable() bool { return true }

// AuthenticationError wraps a failure during the authenticator
// round-trip of the connection handshake (spec.md §4.2 step 3).
type AuthenticationError struct {
	ConnectionID string
	Wrapped      error
}

func (e AuthenticationError) Error() string {
	return errors.Wrap(e.Wrapped, "authentication error for connection "+e.ConnectionID).Error()
}

func (e AuthenticationError) Unwrap() error { return e.Wrapped }

// Error is a server-originated command-level error (spec.md §7
// "CommandError"). It is the driver's own representation of a
// {ok: 0, code, codeName, errmsg, errorLabels} server reply, grounded
// on the teacher's driver.Error type.
type Error struct {
	Code     int32
	Name     string
	Message  string
	Labels   []string
	Wrapped  error
	Raw      []byte
}

func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// Is supports errors.Is comparison by error code, grounded on
// teacher's errors_test.go expectations.
func (e Error) Is(target error) bool {
	other, ok := target.(Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// HasErrorLabel reports whether label is present on this error.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NotPrimaryError is a specialization of Error returned when a write
// was attempted against a non-primary member (spec.md §7).
type NotPrimaryError struct {
	Error
}

// WriteError represents one per-item error inside a bulk write
// response.
type WriteError struct {
	Index   int64
	Code    int32
	Message string
}

func (we WriteError) Error() string { return we.Message }

// Is supports errors.Is comparison by error code.
func (we WriteError) Is(target error) bool {
	other, ok := target.(WriteError)
	if !ok {
		return false
	}
	return we.Code == other.Code
}

// WriteConcernError represents a failure to satisfy the requested
// write concern after the write itself succeeded.
type WriteConcernError struct {
	Name    string
	Code    int32
	Message string
	Details []byte
}

func (wce WriteConcernError) Error() string { return wce.Message }

// Is supports errors.Is comparison by error code.
func (wce WriteConcernError) Is(target error) bool {
	other, ok := target.(WriteConcernError)
	if !ok {
		return false
	}
	return wce.Code == other.Code
}

// BulkWriteError aggregates the per-item write errors, an optional
// write-concern error, and the partial result of a bulk write
// (spec.md §7 "BulkWriteError", §4.7 ordering policy).
type BulkWriteError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	PartialResult     BulkWriteResult
	Labels            []string
}

func (e BulkWriteError) Error() string {
	switch {
	case len(e.WriteErrors) > 0:
		return fmt.Sprintf("bulk write error: %d write error(s), first: %s", len(e.WriteErrors), e.WriteErrors[0].Message)
	case e.WriteConcernError != nil:
		return "bulk write error: " + e.WriteConcernError.Message
	default:
		return "bulk write error"
	}
}

// HasErrorLabel reports whether label is present on this error.
func (e BulkWriteError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Is reports equality by comparing the write-error and
// write-concern-error contents.
func (e BulkWriteError) Is(target error) bool {
	other, ok := target.(BulkWriteError)
	if !ok {
		return false
	}
	if len(e.WriteErrors) != len(other.WriteErrors) {
		return false
	}
	for i := range e.WriteErrors {
		if !e.WriteErrors[i].Is(other.WriteErrors[i]) {
			return false
		}
	}
	if (e.WriteConcernError == nil) != (other.WriteConcernError == nil) {
		return false
	}
	if e.WriteConcernError != nil && !e.WriteConcernError.Is(*other.WriteConcernError) {
		return false
	}
	return true
}

// CursorNotFoundError is returned when a getMore targets a cursor id
// the server no longer recognizes.
type CursorNotFoundError struct {
	CursorID int64
}

func (e CursorNotFoundError) Error() string {
	return fmt.Sprintf("cursor %d not found", e.CursorID)
}

// ConfigurationError represents a pre-flight configuration mistake
// detected before any command is sent: an aggregate pipeline missing
// an output stage, a load-balanced hello without a serviceId, an
// unknown legacy find modifier key (spec.md §4.2 step 2, §4.3, §7).
type ConfigurationError struct {
	Message string
}

func (e ConfigurationError) Error() string { return e.Message }

// CancelledError wraps a context cancellation observed at one of the
// honouring points in spec.md §5.
type CancelledError struct {
	Wrapped error
}

func (e CancelledError) Error() string { return "operation canceled: " + e.Wrapped.Error() }
func (e CancelledError) Unwrap() error { return e.Wrapped }
