// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/description"
)

// Channel is a leased connection (spec.md §3 "Channel"). Transport
// mechanics are an external collaborator (spec.md §1); Channel only
// exposes what the executor and command builders need: a description
// to gate retryable-write/capability checks, and a write/read round
// trip.
type Channel interface {
	// Description returns the immutable snapshot of this connection
	// negotiated during the handshake (C2).
	Description() description.Server

	// WriteCommand sends a fully-assembled command document.
	WriteCommand(ctx context.Context, cmd bsoncore.Document) error

	// ReadReply reads back the server's response to the most recent
	// WriteCommand call.
	ReadReply(ctx context.Context) (bsoncore.Document, error)

	// Close releases this channel back to its server's pool. Calling
	// Close more than once is a no-op.
	Close() error
}

// ChannelSource is a handle to one specific server plus a strategy
// for leasing channels from that server's pool (spec.md §3
// "ChannelSource").
type ChannelSource interface {
	// Channel leases a connection from this source's server.
	Channel(ctx context.Context) (Channel, error)

	// Server returns the description of the server this source is
	// bound to, without leasing a connection.
	ServerDescription() description.Server

	// Close releases this channel source. Calling Close more than
	// once is a no-op.
	Close() error
}

// Server is a selected member of a deployment that can produce
// ChannelSources.
type Server interface {
	ChannelSource(ctx context.Context) (ChannelSource, error)
	Description() description.Server
}

// Deployment is the cluster a Binding draws servers from. Topology
// monitoring and selection policy internals are external
// collaborators (spec.md §1); Deployment only exposes selection and
// the resulting Server/ChannelSource handles.
type Deployment interface {
	SelectServer(ctx context.Context, selector description.ServerSelector, deprioritized []description.Server) (Server, error)
	Kind() description.TopologyKind
}
