// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the immutable snapshots of negotiated
// server and connection state (C2 in spec.md §4.2) plus the topology
// kind a selected server belongs to, grounded on the teacher's
// x/mongo/driver/description package.
package description

import (
	"fmt"
	"time"

	"github.com/nilkamal/driverlite/internal/driver/address"
	"github.com/nilkamal/driverlite/internal/driver/wiremessage"
)

// ServerType represents the type of a server in a topology.
type ServerType uint32

// The different types of servers that can be in a topology.
const (
	Unknown ServerType = iota
	Standalone
	RSPrimary
	RSSecondary
	RSArbiter
	RSMember
	Mongos
	LoadBalanced
)

func (st ServerType) String() string {
	switch st {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSMember:
		return "RSMember"
	case Mongos:
		return "Mongos"
	case LoadBalanced:
		return "LoadBalanced"
	}
	return "Unknown"
}

// TopologyKind represents a specific topology configuration.
type TopologyKind uint32

// Topology configurations.
const (
	TopologyKindSingle TopologyKind = iota + 1
	TopologyKindReplicaSet
	TopologyKindSharded
	TopologyKindLoadBalanced
)

// VersionRange represents a range of wire protocol versions.
type VersionRange struct {
	Min int32
	Max int32
}

// NewVersionRange constructs a VersionRange.
func NewVersionRange(min, max int32) VersionRange { return VersionRange{Min: min, Max: max} }

// Includes returns true if the version v is included in the range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// ConnectionID identifies a logical connection both locally and, once
// the handshake has completed, by the server's own accounting.
type ConnectionID struct {
	// LocalValue is an identifier this driver assigns when the
	// connection is created, before any handshake takes place.
	LocalValue int64
	// ServerValue is the identifier the server assigned to the
	// connection, learned during the handshake (spec.md §4.2 step 4).
	// Nil if the server never reported one and the legacy fallback
	// also failed.
	ServerValue *int64
}

func (c ConnectionID) String() string {
	if c.ServerValue != nil {
		return fmt.Sprintf("%d (server %d)", c.LocalValue, *c.ServerValue)
	}
	return fmt.Sprintf("%d", c.LocalValue)
}

// Server is the immutable snapshot of a negotiated connection/server
// pairing -- the ConnectionDescription of spec.md §3/§4.2. A new
// value is produced on update; nothing mutates an existing Server.
type Server struct {
	Addr address.Address

	ConnectionID ConnectionID

	// ServerType as negotiated by the greeting.
	Kind ServerType

	// WireVersion is the negotiated min/max wire protocol version
	// range supported by this server.
	WireVersion *VersionRange

	// SessionTimeoutMinutes is the server-advertised logical session
	// timeout. A nil value means the server does not support
	// sessions.
	SessionTimeoutMinutes *int64

	// ServiceID distinguishes backend instances behind a load
	// balancer. Only populated when connected through an LB.
	ServiceID *string

	// MaxBatchCount and MaxMessageSize bound how many documents / how
	// many bytes a single write batch may contain.
	MaxBatchCount  uint32
	MaxMessageSize uint32

	// Compression lists the wire compressors this server accepted in
	// the order returned.
	Compression []string

	HelloRTT time.Duration

	// NegotiatedCompressor is the wire compressor this connection
	// agreed to use with the server, or wiremessage.CompressorNoOp if
	// none of the client's preferred compressors were accepted.
	NegotiatedCompressor wiremessage.CompressorID

	LastError error
}

// SelectedServer pairs a negotiated Server with the topology kind it
// was selected from, needed by the command builder for
// topology-conditional fields (spec.md §4.3 "allowPartialResults").
type SelectedServer struct {
	Server
	Kind TopologyKind
}

// Topology is a point-in-time view of a cluster's servers, used by a
// ServerSelector.
type Topology struct {
	Servers []Server
	Kind    TopologyKind
	SetName string
}

// ServerSelector chooses acceptable servers out of a topology's
// candidates.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// EqualServers reports whether two server snapshots describe the same
// address and server kind; used to compare a previously
// deprioritized server against fresh candidates.
func EqualServers(a, b Server) bool {
	return a.Addr == b.Addr && a.Kind == b.Kind
}
