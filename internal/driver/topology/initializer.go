// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements C3, the connection initializer handshake
// of spec.md §4.2, grounded on the teacher's
// x/mongo/driver/operation/hello.go greeting-building idiom and
// mongo/private/roots/command/handshake.go's client-metadata document
// shape (the oldest form present in the pack, which already carries
// exactly the driver/os/platform/application fields spec.md §4.2 step
// 1 names).
package topology

import (
	"context"
	"runtime"
	"time"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/address"
	"github.com/nilkamal/driverlite/internal/driver/description"
	"github.com/nilkamal/driverlite/internal/driver/event"
	"github.com/nilkamal/driverlite/internal/driver/wiremessage"
)

// handshakeDatabase is the database every handshake command (the
// greeting and its legacy getLastError fallback) runs against,
// grounded on the teacher's hardcoded "admin" target for these
// commands (operation/hello.go never varies it per deployment).
const handshakeDatabase = "admin"

const driverName = "driverlite"
const driverVersion = "0.1.0"

// Authenticator runs one mechanism's round trip against conn, using
// hello for mechanism-negotiation hints (spec.md §4.2 step 3).
type Authenticator interface {
	Mechanism() string
	Authenticate(ctx context.Context, conn driver.Channel, hello HelloResult, monitor *event.CommandMonitor, connAddr string) error
}

// HelloResult is the decoded reply to the greeting command (spec.md
// §3 "HelloResult").
type HelloResult struct {
	ServerType            description.ServerType
	MinWireVersion        int32
	MaxWireVersion        int32
	SessionTimeoutMinutes *int64
	ServiceID             *string
	ConnectionID          *int64
	SaslSupportedMechs    []string
	Compression           []string
	MaxBatchCount         uint32
	MaxMessageSizeBytes   uint32
	HelloOK               bool
}

// InitializerConfig parameterizes one connection's handshake.
type InitializerConfig struct {
	Address        address.Address
	AppName        string
	Compressors    []string
	LoadBalanced   bool
	Authenticators []Authenticator
	Username       string // non-empty enables saslSupportedMechs negotiation
	ServerAPI      *driver.ServerAPIOptions
	RTT            *RTTTracker // optional; records the greeting round trip when set

	// CommandMonitor, when set, receives started/succeeded/failed
	// events for the greeting and legacy getLastError fallback
	// (SPEC_FULL.md §7.1). Authenticator round trips publish their own
	// events, since only the authenticator knows its command shape.
	CommandMonitor *event.CommandMonitor
}

// Initialize runs the full C3 state machine against conn, an
// already-transport-connected Channel whose Description is not yet
// meaningful. It returns the negotiated description.Server or an
// error; per spec.md §4.2, failure of the greeting round trip or of
// any authenticator is fatal, while failure to reconcile the
// server-assigned connection id (step 4) is swallowed.
func Initialize(ctx context.Context, conn driver.Channel, cfg InitializerConfig) (description.Server, error) {
	greeting := buildGreeting(cfg)
	connAddr := string(cfg.Address)

	start := time.Now()
	reply, err := runMonitoredCommand(ctx, conn, cfg.CommandMonitor, handshakeDatabase, connAddr, greeting)
	if err != nil {
		return description.Server{}, err
	}
	if cfg.RTT != nil {
		cfg.RTT.AddSample(time.Since(start))
	}

	hello, err := parseHelloResult(reply)
	if err != nil {
		return description.Server{}, err
	}

	if cfg.LoadBalanced && hello.ServiceID == nil {
		return description.Server{}, driver.ConfigurationError{
			Message: "loadBalanced was requested but the server's hello reply carried no serviceId",
		}
	}

	for _, a := range cfg.Authenticators {
		if err := a.Authenticate(ctx, conn, hello, cfg.CommandMonitor, connAddr); err != nil {
			return description.Server{}, driver.AuthenticationError{Wrapped: err}
		}
	}

	connID := description.ConnectionID{LocalValue: nextLocalConnectionID()}
	if hello.ConnectionID != nil {
		connID.ServerValue = hello.ConnectionID
	} else if v, ok := reconcileViaLegacyGetLastError(ctx, conn, cfg.CommandMonitor, connAddr); ok {
		connID.ServerValue = &v
	}

	var serviceID *string
	if hello.ServiceID != nil {
		serviceID = hello.ServiceID
	}

	return description.Server{
		Addr:                  cfg.Address,
		ConnectionID:          connID,
		Kind:                  hello.ServerType,
		WireVersion:           versionRangePtr(hello.MinWireVersion, hello.MaxWireVersion),
		SessionTimeoutMinutes: hello.SessionTimeoutMinutes,
		ServiceID:             serviceID,
		MaxBatchCount:         hello.MaxBatchCount,
		MaxMessageSize:        hello.MaxMessageSizeBytes,
		Compression:           hello.Compression,
		HelloRTT:              time.Since(start),
		NegotiatedCompressor:  wiremessage.NegotiateCompressor(cfg.Compressors, hello.Compression),
	}, nil
}

func versionRangePtr(min, max int32) *description.VersionRange {
	vr := description.NewVersionRange(min, max)
	return &vr
}

// buildGreeting assembles the greeting command document (spec.md
// §4.2 step 1): legacy-hello/hello command name, client metadata,
// accepted compressors, and saslSupportedMechs when a username is
// configured.
func buildGreeting(cfg InitializerConfig) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	if cfg.LoadBalanced {
		dst = bsoncore.AppendInt32Element(dst, "hello", 1)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "isMaster", 1)
	}

	dst = appendClientMetadata(dst, cfg.AppName)

	cidx, dst := bsoncore.AppendArrayElementStart(dst, "compression")
	for i, c := range cfg.Compressors {
		dst = bsoncore.AppendStringElement(dst, itoa(i), c)
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, cidx)

	if cfg.Username != "" {
		dst = bsoncore.AppendStringElement(dst, "saslSupportedMechs", cfg.Username)
	}

	if cfg.LoadBalanced {
		dst = bsoncore.AppendBooleanElement(dst, "loadBalanced", true)
	}

	dst = cfg.ServerAPI.AppendElement(dst)

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return bsoncore.Document(dst)
}

// appendClientMetadata appends the "client" sub-document: driver
// name/version, OS type/architecture, and platform, plus an
// "application" sub-document when appName is set. Grounded on the
// teacher's command.ClientDoc field set.
func appendClientMetadata(dst []byte, appName string) []byte {
	idx, dst := bsoncore.AppendDocumentElementStart(dst, "client")

	if appName != "" {
		aidx, d2 := bsoncore.AppendDocumentElementStart(dst, "application")
		d2 = bsoncore.AppendStringElement(d2, "name", appName)
		d2, _ = bsoncore.AppendDocumentEnd(d2, aidx)
		dst = d2
	}

	didx, dst := bsoncore.AppendDocumentElementStart(dst, "driver")
	dst = bsoncore.AppendStringElement(dst, "name", driverName)
	dst = bsoncore.AppendStringElement(dst, "version", driverVersion)
	dst, _ = bsoncore.AppendDocumentEnd(dst, didx)

	oidx, dst := bsoncore.AppendDocumentElementStart(dst, "os")
	dst = bsoncore.AppendStringElement(dst, "type", runtime.GOOS)
	dst = bsoncore.AppendStringElement(dst, "architecture", runtime.GOARCH)
	dst, _ = bsoncore.AppendDocumentEnd(dst, oidx)

	dst = bsoncore.AppendStringElement(dst, "platform", runtime.Version())

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	n := i
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// parseHelloResult decodes a hello/isMaster reply into a HelloResult.
func parseHelloResult(reply bsoncore.Document) (HelloResult, error) {
	var r HelloResult

	if v, ok := reply.Lookup("maxWireVersion"); ok {
		r.MaxWireVersion = v.Int32()
	}
	if v, ok := reply.Lookup("minWireVersion"); ok {
		r.MinWireVersion = v.Int32()
	}
	if v, ok := reply.Lookup("logicalSessionTimeoutMinutes"); ok {
		t := v.Int32()
		t64 := int64(t)
		r.SessionTimeoutMinutes = &t64
	}
	if v, ok := reply.Lookup("serviceId"); ok {
		s := v.StringValue()
		r.ServiceID = &s
	}
	if v, ok := reply.Lookup("connectionId"); ok {
		id := v.Int64()
		r.ConnectionID = &id
	}
	if v, ok := reply.Lookup("maxWriteBatchSize"); ok {
		r.MaxBatchCount = uint32(v.Int32())
	}
	if v, ok := reply.Lookup("maxMessageSizeBytes"); ok {
		r.MaxMessageSizeBytes = uint32(v.Int32())
	}
	if v, ok := reply.Lookup("helloOk"); ok {
		r.HelloOK = v.Boolean()
	}

	r.ServerType = classifyServerType(reply)

	return r, nil
}

// classifyServerType inspects the boolean/string markers a hello
// reply carries to determine the negotiated ServerType, grounded on
// the teacher's description.NewServer dispatch (ismaster/msg/setName
// presence checks).
func classifyServerType(reply bsoncore.Document) description.ServerType {
	if v, ok := reply.Lookup("msg"); ok && v.StringValue() == "isdbgrid" {
		return description.Mongos
	}
	if _, ok := reply.Lookup("setName"); ok {
		if v, ok := reply.Lookup("ismaster"); ok && v.Boolean() {
			return description.RSPrimary
		}
		if v, ok := reply.Lookup("isWritablePrimary"); ok && v.Boolean() {
			return description.RSPrimary
		}
		if v, ok := reply.Lookup("secondary"); ok && v.Boolean() {
			return description.RSSecondary
		}
		if v, ok := reply.Lookup("arbiterOnly"); ok && v.Boolean() {
			return description.RSArbiter
		}
		return description.RSMember
	}
	return description.Standalone
}

// reconcileViaLegacyGetLastError best-effort fetches a server-assigned
// connection id via the legacy getLastError command when the greeting
// reply didn't carry one (spec.md §4.2 step 4). Failure is swallowed:
// the second return value reports success.
func reconcileViaLegacyGetLastError(ctx context.Context, conn driver.Channel, monitor *event.CommandMonitor, connAddr string) (int64, bool) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "getLastError", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	reply, err := runMonitoredCommand(ctx, conn, monitor, handshakeDatabase, connAddr, bsoncore.Document(dst))
	if err != nil {
		return 0, false
	}
	v, ok := reply.Lookup("connectionId")
	if !ok {
		return 0, false
	}
	return v.Int64(), true
}

// runMonitoredCommand writes cmd, reads its reply, and publishes the
// matching started/succeeded/failed event around that round trip
// (SPEC_FULL.md §7.1), redacting security-sensitive command/reply
// bodies (SPEC_FULL.md §7.2). Grounded on the teacher's
// publishStartedEvent/publishFinishedEvent pair in operation.go,
// narrowed to the handshake's own two command sites; a nil monitor
// costs only the WriteCommand/ReadReply round trip itself.
func runMonitoredCommand(ctx context.Context, conn driver.Channel, monitor *event.CommandMonitor, dbName, connAddr string, cmd bsoncore.Document) (bsoncore.Document, error) {
	cmdName := event.CommandName(cmd)
	requestID := int64(wiremessage.NextRequestID())
	start := time.Now()

	redacted := event.PublishStarted(ctx, monitor, cmdName, dbName, requestID, connAddr, cmd)

	if err := conn.WriteCommand(ctx, cmd); err != nil {
		event.PublishFailed(ctx, monitor, cmdName, requestID, connAddr, time.Since(start).Nanoseconds(), err)
		return nil, err
	}
	reply, err := conn.ReadReply(ctx)
	if err != nil {
		event.PublishFailed(ctx, monitor, cmdName, requestID, connAddr, time.Since(start).Nanoseconds(), err)
		return nil, err
	}

	event.PublishSucceeded(ctx, monitor, cmdName, requestID, connAddr, time.Since(start).Nanoseconds(), reply, redacted)
	return reply, nil
}

var localConnectionIDCounter int64

// nextLocalConnectionID assigns a process-local connection id before
// the server-assigned one (if any) is known. Not safe across
// goroutines without a caller-supplied lock; connection construction
// happens on the pool's single checkout path in this module's model.
func nextLocalConnectionID() int64 {
	localConnectionIDCounter++
	return localConnectionIDCounter
}
