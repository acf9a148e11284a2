// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package event

import (
	"context"

	"github.com/nilkamal/driverlite/internal/bsoncore"
)

// sensitiveCommands never appear in a CommandStartedEvent/
// CommandSucceededEvent's Command/Reply, regardless of monitoring
// configuration, since they carry credentials or credential material
// in cleartext. Grounded on the teacher's redactCommand command-name
// list (operation.go).
var sensitiveCommands = map[string]bool{
	"authenticate":   true,
	"saslStart":      true,
	"saslContinue":   true,
	"getnonce":       true,
	"createUser":     true,
	"updateUser":     true,
	"copydbgetnonce": true,
	"copydbsaslstart": true,
	"copydb":         true,
}

// ShouldRedact reports whether cmdName's command document and reply
// must be withheld from monitoring events. A hello (or legacy
// isMaster) carrying speculative authentication is also redacted,
// since its payload embeds the first SASL message.
func ShouldRedact(cmdName string, doc bsoncore.Document) bool {
	if sensitiveCommands[cmdName] {
		return true
	}
	if cmdName != "hello" && cmdName != "isMaster" && cmdName != "ismaster" {
		return false
	}
	_, ok := doc.Lookup("speculativeAuthenticate")
	return ok
}

// CommandName extracts a command's name from its first BSON element,
// per the command-document convention that the command name is always
// the first key. Returns "" for a document with no elements.
func CommandName(doc bsoncore.Document) string {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key
}

// PublishStarted fires the monitor's Started callback, withholding cmd
// (the event's Command is nil) when cmdName is security-sensitive.
func PublishStarted(ctx context.Context, m *CommandMonitor, cmdName, dbName string, requestID int64, connID string, cmd bsoncore.Document) (redacted bool) {
	redacted = ShouldRedact(cmdName, cmd)
	if m == nil || m.Started == nil {
		return redacted
	}
	body := []byte(cmd)
	if redacted {
		body = nil
	}
	m.started(ctx, &CommandStartedEvent{
		Command:      body,
		DatabaseName: dbName,
		CommandName:  cmdName,
		RequestID:    requestID,
		ConnectionID: connID,
	})
	return redacted
}

// PublishSucceeded fires the monitor's Succeeded callback. reply is
// withheld when the started event for this attempt was redacted.
func PublishSucceeded(ctx context.Context, m *CommandMonitor, cmdName string, requestID int64, connID string, durationNanos int64, reply bsoncore.Document, redacted bool) {
	if m == nil || m.Succeeded == nil {
		return
	}
	body := []byte(reply)
	if redacted {
		body = nil
	}
	m.succeeded(ctx, &CommandSucceededEvent{
		CommandFinishedEvent: CommandFinishedEvent{
			DurationNanos: durationNanos,
			CommandName:   cmdName,
			RequestID:     requestID,
			ConnectionID:  connID,
		},
		Reply: body,
	})
}

// PublishFailed fires the monitor's Failed callback. The failure
// message itself is never redacted; it is the command/reply bodies
// that carry credential material, not the error text.
func PublishFailed(ctx context.Context, m *CommandMonitor, cmdName string, requestID int64, connID string, durationNanos int64, err error) {
	if m == nil || m.Failed == nil {
		return
	}
	m.failed(ctx, &CommandFailedEvent{
		CommandFinishedEvent: CommandFinishedEvent{
			DurationNanos: durationNanos,
			CommandName:   cmdName,
			RequestID:     requestID,
			ConnectionID:  connID,
		},
		Failure: err.Error(),
	})
}
