// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableWriteErrorByCode(t *testing.T) {
	assert.True(t, isRetryableWriteError(Error{Code: 91}))  // ShutdownInProgress
	assert.False(t, isRetryableWriteError(Error{Code: 999})) // not in the table
}

func TestIsRetryableWriteErrorByLabel(t *testing.T) {
	assert.True(t, isRetryableWriteError(Error{Code: 999, Labels: []string{RetryableWriteError}}))
}

func TestIsRetryableWriteErrorConnectionLevel(t *testing.T) {
	assert.True(t, isRetryableWriteError(ConnectionError{Address: "h:1"}))
}

func TestIsRetryableWriteErrorNilIsFalse(t *testing.T) {
	assert.False(t, isRetryableWriteError(nil))
}

func TestIsRetryableReadErrorSupersetOfWriteCodes(t *testing.T) {
	for code := range retryableWriteCodes {
		assert.True(t, isRetryableReadError(Error{Code: code}), "code %d should be read-retryable", code)
	}
}

func TestShouldSurfaceOriginalError(t *testing.T) {
	assert.True(t, shouldSurfaceOriginalError(nil))
	assert.False(t, shouldSurfaceOriginalError(ConnectionError{}))
	assert.False(t, shouldSurfaceOriginalError(ConnectionError{PoolPaused: true}))
	assert.True(t, shouldSurfaceOriginalError(Error{Code: 999}))
}

func TestConnectionAcquisitionRetryable(t *testing.T) {
	assert.True(t, connectionAcquisitionRetryable(true, true, true, false))
	assert.False(t, connectionAcquisitionRetryable(false, true, true, false), "not requested")
	assert.False(t, connectionAcquisitionRetryable(true, false, true, false), "server unsupported")
	assert.False(t, connectionAcquisitionRetryable(true, true, false, false), "no session id")
	assert.False(t, connectionAcquisitionRetryable(true, true, true, true), "in transaction")
}
