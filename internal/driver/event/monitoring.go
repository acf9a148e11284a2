// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event carries the command-monitoring (APM) event shapes this
// core fires around the handshake round trips of topology.Initialize
// and the SASL round trips of the auth package (SPEC_FULL.md §7.1); the
// executor, the command builders and the cursor publish none. Grounded
// on the teacher's event.CommandMonitor. Topology/server/pool events are
// out of scope here; this core only ever issues commands, it never owns
// a topology monitor.
package event

import "context"

// CommandStartedEvent is published immediately before a command is
// written to a connection, once per attempt (including retries).
type CommandStartedEvent struct {
	Command      []byte
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
}

// CommandFinishedEvent carries the fields common to both terminal
// outcomes of a command attempt.
type CommandFinishedEvent struct {
	DurationNanos int64
	CommandName   string
	RequestID     int64
	ConnectionID  string
}

// CommandSucceededEvent is published when a command attempt's reply was
// read back without error.
type CommandSucceededEvent struct {
	CommandFinishedEvent
	Reply []byte
}

// CommandFailedEvent is published when a command attempt failed,
// whether at the network level or via a server-returned error.
type CommandFailedEvent struct {
	CommandFinishedEvent
	Failure string
}

// CommandMonitor is a set of optional callbacks invoked around every
// command attempt. A nil field is simply never called; a nil
// *CommandMonitor disables monitoring entirely.
type CommandMonitor struct {
	Started   func(context.Context, *CommandStartedEvent)
	Succeeded func(context.Context, *CommandSucceededEvent)
	Failed    func(context.Context, *CommandFailedEvent)
}

func (m *CommandMonitor) started(ctx context.Context, e *CommandStartedEvent) {
	if m == nil || m.Started == nil {
		return
	}
	m.Started(ctx, e)
}

func (m *CommandMonitor) succeeded(ctx context.Context, e *CommandSucceededEvent) {
	if m == nil || m.Succeeded == nil {
		return
	}
	m.Succeeded(ctx, e)
}

func (m *CommandMonitor) failed(ctx context.Context, e *CommandFailedEvent) {
	if m == nil || m.Failed == nil {
		return
	}
	m.Failed(ctx, e)
}
