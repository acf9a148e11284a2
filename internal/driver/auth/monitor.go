// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"time"

	driver "github.com/nilkamal/driverlite/internal/driver"
	"github.com/nilkamal/driverlite/internal/bsoncore"
	"github.com/nilkamal/driverlite/internal/driver/event"
	"github.com/nilkamal/driverlite/internal/driver/wiremessage"
)

// authRoundTrip writes cmd, reads its reply, and publishes the
// matching command-monitoring events around that round trip
// (SPEC_FULL.md §7.1), redacting the saslStart/saslContinue
// command and reply bodies (SPEC_FULL.md §7.2) every SASL mechanism
// in this package issues. Shared by scram.go and scram_sha1.go so
// the two mechanisms' conversation loops don't duplicate the
// publish/redact bookkeeping.
func authRoundTrip(ctx context.Context, conn driver.Channel, monitor *event.CommandMonitor, dbName, connAddr string, cmd bsoncore.Document) (bsoncore.Document, error) {
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
