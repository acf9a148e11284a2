// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/readpref"
	"github.com/nilkamal/driverlite/internal/driver/session"
)

// ReadBinding supplies a read ChannelSource (spec.md §3 "Binding").
type ReadBinding interface {
	GetReadChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error)
	Session() *session.Client
}

// WriteBinding supplies a write ChannelSource.
type WriteBinding interface {
	GetWriteChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error)
	Session() *session.Client
}

// ReadWriteBinding supplies both.
type ReadWriteBinding interface {
	ReadBinding
	WriteBinding
}

// Binding is the default capability-set implementation over a single
// Deployment, grounded on spec.md §3's "owns a session handle,
// created by the caller, outlives one or many operations". Reads are
// selected with the caller-supplied read preference; writes always
// select a writable (primary-like) server via readpref.Primary.
type Binding struct {
	deployment Deployment
	readPref   *readpref.ReadPref
	session    *session.Client
}

var _ ReadWriteBinding = (*Binding)(nil)

// NewBinding constructs a Binding over deployment, scoped to sess
// (which may be nil for a session-less binding) and reading with
// readPref (nil defaults to primary).
func NewBinding(deployment Deployment, sess *session.Client, readPref *readpref.ReadPref) *Binding {
	return &Binding{deployment: deployment, session: sess, readPref: readPref}
}

// Session returns the session handle this binding owns, or nil.
func (b *Binding) Session() *session.Client { return b.session }

// DeploymentKind exposes the underlying deployment's topology kind,
// used by the retry executor to decide whether to deprioritize a
// failed server on retry (SPEC_FULL.md §7.5).
func (b *Binding) DeploymentKind() description.TopologyKind { return b.deployment.Kind() }

// GetReadChannelSource selects a server per this binding's read
// preference and returns a ChannelSource scoped to it.
func (b *Binding) GetReadChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error) {
	selector := &readPrefSelector{readPref: b.readPref}
	srv, err := b.deployment.SelectServer(ctx, selector, deprioritized)
	if err != nil {
		return nil, err
	}
	return srv.ChannelSource(ctx)
}

// GetWriteChannelSource selects a writable server and returns a
// ChannelSource scoped to it.
func (b *Binding) GetWriteChannelSource(ctx context.Context, deprioritized []description.Server) (ChannelSource, error) {
	selector := &readPrefSelector{readPref: readpref.Primary()}
	srv, err := b.deployment.SelectServer(ctx, selector, deprioritized)
	if err != nil {
		return nil, err
	}
	return srv.ChannelSource(ctx)
}

// readPrefSelector is the default ServerSelector used when the caller
// hasn't provided one of their own; full selection policy (latency
// windows, tag sets, staleness) is an external collaborator (spec.md
// §1), so this only filters by the coarse primary/secondary split the
// core itself needs to make a write-vs-read distinction.
type readPrefSelector struct {
	readPref *readpref.ReadPref
}

func (s *readPrefSelector) SelectServer(topo description.Topology, candidates []description.Server) ([]description.Server, error) {
	if s.readPref.IsPrimary() {
		var primaries []description.Server
		for _, c := range candidates {
			if c.Kind == description.RSPrimary || c.Kind == description.Standalone || c.Kind == description.Mongos || c.Kind == description.LoadBalanced {
				primaries = append(primaries, c)
			}
		}
		if len(primaries) > 0 {
			return primaries, nil
		}
	}
	return candidates, nil
}
