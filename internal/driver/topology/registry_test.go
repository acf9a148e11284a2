// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	disconnected bool
	disconnectErr error
}

func (f *fakeCluster) Disconnect() error {
	f.disconnected = true
	return f.disconnectErr
}

func TestClusterRegistryRegisterLookupDispose(t *testing.T) {
	r := NewClusterRegistry()
	key := ClusterKey{Hosts: "a:27017"}
	cluster := &fakeCluster{}

	require.NoError(t, r.Register(key, cluster))
	assert.Equal(t, 1, r.Size())

	got, err := r.Lookup(key)
	require.NoError(t, err)
	assert.Same(t, cluster, got)

	require.NoError(t, r.Dispose(key))
	assert.True(t, cluster.disconnected)
	assert.Equal(t, 0, r.Size())
}

func TestClusterRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewClusterRegistry()
	key := ClusterKey{Hosts: "a:27017"}

	require.NoError(t, r.Register(key, &fakeCluster{}))
	err := r.Register(key, &fakeCluster{})
	assert.ErrorIs(t, err, ErrClusterAlreadyRegistered)
}

func TestClusterRegistryLookupMissingKey(t *testing.T) {
	r := NewClusterRegistry()
	_, err := r.Lookup(ClusterKey{Hosts: "missing"})
	assert.ErrorIs(t, err, ErrClusterNotFound)
}

func TestClusterRegistryDisposeRemovesBeforeTearDown(t *testing.T) {
	r := NewClusterRegistry()
	key := ClusterKey{Hosts: "a:27017"}
	teardownErr := errors.New("disconnect failed")
	cluster := &fakeCluster{disconnectErr: teardownErr}

	require.NoError(t, r.Register(key, cluster))
	err := r.Dispose(key)
	assert.ErrorIs(t, err, teardownErr)
	// Removed from the registry even though Disconnect failed.
	_, lookupErr := r.Lookup(key)
	assert.ErrorIs(t, lookupErr, ErrClusterNotFound)
}

func TestClusterRegistryDisposeMissingKey(t *testing.T) {
	r := NewClusterRegistry()
	err := r.Dispose(ClusterKey{Hosts: "missing"})
	assert.ErrorIs(t, err, ErrClusterNotFound)
}
