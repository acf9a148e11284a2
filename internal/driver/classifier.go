// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

// This file implements C1, the Retryability Classifier (spec.md
// §4.1). Per the Open Question in spec.md §9, the retryable sets are
// centralized here as two plain data tables, grounded on the shape of
// the teacher's topology/connection.go notMasterCodes/recoveringCodes
// tables and operation.go's per-type Retryable methods -- rather than
// scattered across several near-duplicate helpers.

// retryableWriteCodes are the server error codes that make a write
// eligible for a single retry.
var retryableWriteCodes = map[int32]struct{}{
	11600: {}, // InterruptedAtShutdown
	11602: {}, // InterruptedDueToReplStateChange
	10107: {}, // NotPrimary
	13435: {}, // NotPrimaryNoSecondaryOk
	13436: {}, // NotPrimaryOrSecondary
	189:   {}, // PrimarySteppedDown
	91:    {}, // ShutdownInProgress
	7:     {}, // HostNotFound
	6:     {}, // HostUnreachable
	89:    {}, // NetworkTimeout
	9001:  {}, // SocketException
	262:   {}, // ExceededTimeLimit
}

// retryableReadCodes is a copy of the write set. It adds no
// read-specific code (its explicit 13436 entry is already in the write
// set), so both tables hold the same codes.
var retryableReadCodes = func() map[int32]struct{} {
	m := make(map[int32]struct{}, len(retryableWriteCodes)+1)
	for k := range retryableWriteCodes {
		m[k] = struct{}{}
	}
	m[13436] = struct{}{} // NotPrimaryOrSecondary (already present, kept explicit for clarity)
	return m
}()

// retryableWriteLabels are error labels the server attaches that make
// a command-level error eligible for a write retry regardless of
// code, e.g. a pre-4.4 server's RetryableWriteError label.
var retryableWriteLabels = map[string]struct{}{
	RetryableWriteError: {},
	NetworkError:        {},
}

func isConnectionLevelError(e error) bool {
	switch err := e.(type) {
	case ConnectionError:
		return true
	case Error:
		return err.HasErrorLabel(NetworkError)
	}
	return false
}

func isPoolPausedError(e error) bool {
	ce, ok := e.(ConnectionError)
	return ok && ce.PoolPaused
}

// isRetryableWriteError reports whether e is a transport-level fault
// or a server error carrying a known retryable-write code/label
// (spec.md §4.1).
func isRetryableWriteError(e error) bool {
	if e == nil {
		return false
	}
	if isConnectionLevelError(e) {
		return true
	}
	if le, ok := e.(labeledError); ok {
		for label := range retryableWriteLabels {
			if le.HasErrorLabel(label) {
				return true
			}
		}
	}
	if ce, ok := e.(Error); ok {
		_, retryable := retryableWriteCodes[ce.Code]
		return retryable
	}
	return false
}

// isRetryableReadError reports whether e is a transport-level fault
// or a server error carrying a known retryable-read code (spec.md
// §4.1). The read set holds the same codes as the write set.
func isRetryableReadError(e error) bool {
	if e == nil {
		return false
	}
	if isConnectionLevelError(e) {
		return true
	}
	if ce, ok := e.(Error); ok {
		_, retryable := retryableReadCodes[ce.Code]
		return retryable
	}
	return false
}

// shouldSurfaceOriginalError reports whether the first attempt's
// error is the one a caller should see after a failed retry (spec.md
// §4.1): true when the second attempt's error is nil, or is a
// server-originated logical error that is neither a connection error
// nor a pool-paused error.
func shouldSurfaceOriginalError(retryError error) bool {
	if retryError == nil {
		return true
	}
	if isConnectionLevelError(retryError) {
		return false
	}
	if isPoolPausedError(retryError) {
		return false
	}
	return true
}

// connectionAcquisitionRetryable implements spec.md §4.5's auxiliary
// predicate governing whether a pool-paused failure while obtaining a
// connection should itself escalate to a full operation retry.
func connectionAcquisitionRetryable(retryRequested, serverSupportsRetryableWrites, sessionHasID, inTransaction bool) bool {
	return retryRequested && serverSupportsRetryableWrites && sessionHasID && !inTransaction
}
